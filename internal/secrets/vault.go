package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// All secrets live in one KV v2 document (default secret/data/loom) whose
// keys are the SecretKey values. One read fetches every credential the
// process can need, so the document is the unit this client reads and writes.

// VaultConfig configures the HashiCorp Vault provider.
type VaultConfig struct {
	// Address is the Vault server address; falls back to $VAULT_ADDR.
	Address string
	// Token is the authentication token; falls back to $VAULT_TOKEN.
	Token string
	// MountPath is the KV v2 mount (default: "secret").
	MountPath string
	// SecretPath is the document path under the mount (default: "loom").
	SecretPath string
	// Timeout bounds each Vault API request.
	Timeout time.Duration
}

// DefaultVaultConfig returns default Vault configuration.
func DefaultVaultConfig() *VaultConfig {
	return &VaultConfig{
		Address:    "http://localhost:8200",
		MountPath:  "secret",
		SecretPath: "loom",
		Timeout:    10 * time.Second,
	}
}

var errNoSecretDocument = errors.New("secret document not found")

// VaultProvider reads and writes the secret document over Vault's KV v2
// HTTP API.
type VaultProvider struct {
	url    string
	token  string
	client *http.Client
}

// NewVaultProvider creates a Vault secrets provider. Address and token come
// from the config, or from the standard VAULT_ADDR/VAULT_TOKEN environment
// variables when the config leaves them empty.
func NewVaultProvider(cfg *VaultConfig) (*VaultProvider, error) {
	if cfg == nil {
		cfg = DefaultVaultConfig()
	}

	addr := cfg.Address
	if addr == "" {
		addr = os.Getenv("VAULT_ADDR")
	}
	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if addr == "" {
		return nil, errors.New("vault address required (config or VAULT_ADDR)")
	}
	if token == "" {
		return nil, errors.New("vault token required (config or VAULT_TOKEN)")
	}

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	path := cfg.SecretPath
	if path == "" {
		path = "loom"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &VaultProvider{
		url:    fmt.Sprintf("%s/v1/%s/data/%s", strings.TrimSuffix(addr, "/"), mount, path),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	doc, err := p.readDocument(ctx)
	if errors.Is(err, errNoSecretDocument) {
		return "", fmt.Errorf("vault: no secret document at %s", p.url)
	}
	if err != nil {
		return "", err
	}

	val, ok := doc[key]
	if !ok {
		return "", fmt.Errorf("vault: key %q not in secret document", key)
	}
	return val, nil
}

func (p *VaultProvider) Set(ctx context.Context, key, value string) error {
	doc, err := p.readDocument(ctx)
	if err != nil && !errors.Is(err, errNoSecretDocument) {
		return err
	}
	if doc == nil {
		doc = make(map[string]string)
	}
	doc[key] = value
	return p.writeDocument(ctx, doc)
}

func (p *VaultProvider) Delete(ctx context.Context, key string) error {
	doc, err := p.readDocument(ctx)
	if errors.Is(err, errNoSecretDocument) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return p.writeDocument(ctx, doc)
}

// readDocument fetches the whole secret document. Values must be strings:
// every secret this system stores is a flat credential, so anything else in
// the document is a configuration mistake worth surfacing.
func (p *VaultProvider) readDocument(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault read: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errNoSecretDocument
	case http.StatusForbidden:
		return nil, fmt.Errorf("vault: token lacks read access to %s", p.url)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("vault: reading %s: %s: %s", p.url, resp.Status, body)
	}

	var payload struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("vault: decode secret document: %w", err)
	}
	return payload.Data.Data, nil
}

func (p *VaultProvider) writeDocument(ctx context.Context, doc map[string]string) error {
	body, err := json.Marshal(map[string]any{"data": doc})
	if err != nil {
		return fmt.Errorf("vault: encode secret document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("vault write: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("vault: writing %s: %s: %s", p.url, resp.Status, respBody)
	}
	return nil
}
