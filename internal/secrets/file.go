package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig configures the file-based secrets provider.
type FileConfig struct {
	// Path is the JSON secrets file, a flat object of key → value.
	Path string
	// CreateIfMissing creates an empty secrets file on first use.
	CreateIfMissing bool
}

// FileProvider keeps secrets in a JSON file on local disk. It suits
// development machines where neither Vault nor environment variables fit;
// the file holds raw API keys, so it must stay private to the owning user
// and the provider refuses files readable beyond that.
type FileProvider struct {
	path string
	mu   sync.Mutex
	data map[string]string
}

// NewFileProvider opens (or, when configured, creates) the secrets file.
func NewFileProvider(cfg *FileConfig) (*FileProvider, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("secrets file path required")
	}

	p := &FileProvider{path: cfg.Path, data: make(map[string]string)}
	err := p.load()
	switch {
	case err == nil:
	case os.IsNotExist(err) && cfg.CreateIfMissing:
		if err := p.persist(); err != nil {
			return nil, fmt.Errorf("create secrets file: %w", err)
		}
	default:
		return nil, fmt.Errorf("open secrets file: %w", err)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("secret %q not in %s", key, p.path)
	}
	return val, nil
}

func (p *FileProvider) Set(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.data[key] = value
	return p.persist()
}

func (p *FileProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.data, key)
	return p.persist()
}

// Reload re-reads the file, replacing the in-memory view. Useful after an
// out-of-band edit (e.g. pasting a rotated API key into the file).
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

func (p *FileProvider) load() error {
	info, err := os.Stat(p.path)
	if err != nil {
		return err
	}
	// An API key in a group- or world-readable file defeats the point of a
	// secrets backend.
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return fmt.Errorf("secrets file %s is readable beyond its owner (mode %04o)", p.path, perm)
	}

	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	fresh := make(map[string]string)
	if err := json.Unmarshal(raw, &fresh); err != nil {
		return fmt.Errorf("parse secrets file %s: %w", p.path, err)
	}
	p.data = fresh
	return nil
}

// persist writes the secrets via a same-directory temp file and rename, so a
// crash mid-write never leaves a truncated secrets file behind.
func (p *FileProvider) persist() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create secrets directory: %w", err)
	}

	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}
