package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvProvider_Name(t *testing.T) {
	p := NewEnvProvider("")
	if p.Name() != "env" {
		t.Fatalf("expected 'env', got %s", p.Name())
	}
}

func TestEnvProvider_Get_WithPrefix(t *testing.T) {
	os.Setenv("LOOM_TEST_SECRET", "secret_value")
	defer os.Unsetenv("LOOM_TEST_SECRET")

	p := NewEnvProvider("LOOM_")
	val, err := p.Get(context.Background(), "test_secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "secret_value" {
		t.Fatalf("expected 'secret_value', got %s", val)
	}
}

func TestEnvProvider_Get_WithoutPrefix(t *testing.T) {
	os.Setenv("TEST_SECRET_NO_PREFIX", "direct_value")
	defer os.Unsetenv("TEST_SECRET_NO_PREFIX")

	p := NewEnvProvider("LOOM_")
	val, err := p.Get(context.Background(), "test_secret_no_prefix")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "direct_value" {
		t.Fatalf("expected 'direct_value', got %s", val)
	}
}

func TestEnvProvider_Get_NotFound(t *testing.T) {
	p := NewEnvProvider("LOOM_")
	_, err := p.Get(context.Background(), "nonexistent_secret_xyz")
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestEnvProvider_DefaultPrefix(t *testing.T) {
	p := NewEnvProvider("")
	if p.prefix != "LOOM_" {
		t.Fatalf("expected default prefix 'LOOM_', got %s", p.prefix)
	}
}

func TestFileProvider_CreateIfMissing(t *testing.T) {
	tmpDir := t.TempDir()
	secretsPath := filepath.Join(tmpDir, "secrets.json")

	_, err := NewFileProvider(&FileConfig{
		Path:            secretsPath,
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		t.Fatal("expected file to be created")
	}
}

func TestFileProvider_GetSet(t *testing.T) {
	tmpDir := t.TempDir()
	p, err := NewFileProvider(&FileConfig{
		Path:            filepath.Join(tmpDir, "secrets.json"),
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()

	err = p.Set(ctx, "api_key", "my_secret_key")
	if err != nil {
		t.Fatalf("unexpected error setting secret: %v", err)
	}

	val, err := p.Get(ctx, "api_key")
	if err != nil {
		t.Fatalf("unexpected error getting secret: %v", err)
	}
	if val != "my_secret_key" {
		t.Fatalf("expected 'my_secret_key', got %s", val)
	}
}

func TestFileProvider_Delete(t *testing.T) {
	tmpDir := t.TempDir()
	p, err := NewFileProvider(&FileConfig{
		Path:            filepath.Join(tmpDir, "secrets.json"),
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()

	p.Set(ctx, "to_delete", "value")
	err = p.Delete(ctx, "to_delete")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = p.Get(ctx, "to_delete")
	if err == nil {
		t.Fatal("expected error for deleted secret")
	}
}

func TestFileProvider_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	secretsPath := filepath.Join(tmpDir, "secrets.json")

	p, err := NewFileProvider(&FileConfig{
		Path:            secretsPath,
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	p.Set(ctx, "key1", "value1")

	os.WriteFile(secretsPath, []byte(`{"key1":"modified","key2":"new"}`), 0600)

	if err := p.Reload(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, _ := p.Get(ctx, "key1")
	if val != "modified" {
		t.Fatalf("expected 'modified', got %s", val)
	}

	val, _ = p.Get(ctx, "key2")
	if val != "new" {
		t.Fatalf("expected 'new', got %s", val)
	}
}

func TestFileProvider_RejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(`{"llm_api_key":"sk"}`), 0600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := NewFileProvider(&FileConfig{Path: path})
	if err == nil {
		t.Fatal("expected error for a group/world readable secrets file")
	}
}

func TestFileProvider_PersistLeavesNoTempFile(t *testing.T) {
	tmpDir := t.TempDir()
	p, err := NewFileProvider(&FileConfig{
		Path:            filepath.Join(tmpDir, "secrets.json"),
		CreateIfMissing: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := p.Set(context.Background(), "llm_api_key", "sk"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "secrets.json" {
		t.Fatalf("expected only secrets.json in %s, got %v", tmpDir, entries)
	}
}

func TestFileProvider_MissingPath(t *testing.T) {
	_, err := NewFileProvider(&FileConfig{Path: ""})
	if err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestManager_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Provider != "env" {
		t.Fatalf("expected 'env' provider, got %s", cfg.Provider)
	}
	if cfg.EnvPrefix != "LOOM_" {
		t.Fatalf("expected 'LOOM_' prefix, got %s", cfg.EnvPrefix)
	}
}

func TestManager_EnvProvider(t *testing.T) {
	os.Setenv("LOOM_MANAGER_TEST", "manager_value")
	defer os.Unsetenv("LOOM_MANAGER_TEST")

	m, err := NewManager(&Config{Provider: "env", EnvPrefix: "LOOM_"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, err := m.Get(context.Background(), "manager_test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "manager_value" {
		t.Fatalf("expected 'manager_value', got %s", val)
	}
}

func TestManager_Fallback(t *testing.T) {
	// Set up env var as fallback
	os.Setenv("LOOM_FALLBACK_TEST", "fallback_value")
	defer os.Unsetenv("LOOM_FALLBACK_TEST")

	tmpDir := t.TempDir()
	m, err := NewManager(&Config{
		Provider: "file",
		FileConfig: &FileConfig{
			Path:            filepath.Join(tmpDir, "secrets.json"),
			CreateIfMissing: true,
		},
		EnvPrefix: "LOOM_",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Key not in file, should fall back to env
	val, err := m.Get(context.Background(), "fallback_test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "fallback_value" {
		t.Fatalf("expected 'fallback_value', got %s", val)
	}
}

func TestManager_GetOrDefault(t *testing.T) {
	m, _ := NewManager(&Config{Provider: "env", EnvPrefix: "LOOM_"})

	val := m.GetOrDefault(context.Background(), "nonexistent_key_xyz", "default_val")
	if val != "default_val" {
		t.Fatalf("expected 'default_val', got %s", val)
	}
}

func TestManager_Cache(t *testing.T) {
	os.Setenv("LOOM_CACHE_TEST", "cached_value")
	defer os.Unsetenv("LOOM_CACHE_TEST")

	m, _ := NewManager(&Config{Provider: "env", EnvPrefix: "LOOM_"})
	ctx := context.Background()

	// First get populates cache
	m.Get(ctx, "cache_test")

	os.Setenv("LOOM_CACHE_TEST", "new_value")

	// Should still get cached value
	val, _ := m.Get(ctx, "cache_test")
	if val != "cached_value" {
		t.Fatalf("expected cached 'cached_value', got %s", val)
	}

	m.ClearCache()

	val, _ = m.Get(ctx, "cache_test")
	if val != "new_value" {
		t.Fatalf("expected 'new_value' after cache clear, got %s", val)
	}
}

func TestManager_DisableCache(t *testing.T) {
	os.Setenv("LOOM_NOCACHE_TEST", "initial")
	defer os.Unsetenv("LOOM_NOCACHE_TEST")

	m, _ := NewManager(&Config{Provider: "env", EnvPrefix: "LOOM_"})
	m.DisableCache()

	ctx := context.Background()
	m.Get(ctx, "nocache_test")

	os.Setenv("LOOM_NOCACHE_TEST", "changed")

	val, _ := m.Get(ctx, "nocache_test")
	if val != "changed" {
		t.Fatalf("expected 'changed' with cache disabled, got %s", val)
	}
}

func TestManager_UnknownProvider(t *testing.T) {
	_, err := NewManager(&Config{Provider: "unknown_provider"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestManager_VaultWithoutConfig(t *testing.T) {
	_, err := NewManager(&Config{Provider: "vault"})
	if err == nil {
		t.Fatal("expected error for vault without config")
	}
}

func TestManager_FileWithoutConfig(t *testing.T) {
	_, err := NewManager(&Config{Provider: "file"})
	if err == nil {
		t.Fatal("expected error for file without config")
	}
}
