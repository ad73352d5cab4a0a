package secrets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestEnvProvider_Get(t *testing.T) {
	t.Setenv("LINKAGE_MODEL_API_KEY", "prefixed")
	t.Setenv("GRAPH_PASSWORD", "bare")

	p := NewEnvProvider("")
	ctx := context.Background()

	if val, err := p.Get(ctx, KeyModelAPIKey); err != nil || val != "prefixed" {
		t.Errorf("prefixed: got %q, %v", val, err)
	}
	if val, err := p.Get(ctx, KeyGraphPassword); err != nil || val != "bare" {
		t.Errorf("bare: got %q, %v", val, err)
	}
	if _, err := p.Get(ctx, "nonexistent_secret_xyz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: got %v, want ErrNotFound", err)
	}
}

func writeSecrets(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileProvider(t *testing.T) {
	path := writeSecrets(t, `{"graph_password":"s3cret"}`)
	p, err := NewFileProvider(&FileConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if val, err := p.Get(ctx, KeyGraphPassword); err != nil || val != "s3cret" {
		t.Errorf("got %q, %v", val, err)
	}
	if _, err := p.Get(ctx, KeyVectorDSN); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	if err := os.WriteFile(path, []byte(`{"vector_dsn":"postgres://x"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := p.Reload(); err != nil {
		t.Fatal(err)
	}
	if val, _ := p.Get(ctx, KeyVectorDSN); val != "postgres://x" {
		t.Errorf("after reload got %q", val)
	}
}

func TestFileProvider_Errors(t *testing.T) {
	if _, err := NewFileProvider(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewFileProvider(&FileConfig{Path: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := NewFileProvider(&FileConfig{Path: writeSecrets(t, "not json")}); err == nil {
		t.Error("expected error for bad json")
	}
}

func TestVaultProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/kv/data/linkage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":{"data":{"model_api_key":"sk-test","port":5432}}}`))
	}))
	defer srv.Close()
	ctx := context.Background()

	p, err := NewVaultProvider(&VaultConfig{Address: srv.URL + "/", Token: "root", MountPath: "kv"})
	if err != nil {
		t.Fatal(err)
	}
	if val, err := p.Get(ctx, KeyModelAPIKey); err != nil || val != "sk-test" {
		t.Errorf("got %q, %v", val, err)
	}
	if val, err := p.Get(ctx, "port"); err != nil || val != "5432" {
		t.Errorf("non-string value: got %q, %v", val, err)
	}
	if _, err := p.Get(ctx, KeyVectorDSN); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key: got %v", err)
	}

	wrongPath, _ := NewVaultProvider(&VaultConfig{Address: srv.URL, Token: "root", MountPath: "kv", SecretPath: "other"})
	if _, err := wrongPath.Get(ctx, KeyModelAPIKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing path: got %v", err)
	}

	badToken, _ := NewVaultProvider(&VaultConfig{Address: srv.URL, Token: "nope", MountPath: "kv"})
	if _, err := badToken.Get(ctx, KeyModelAPIKey); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("forbidden: got %v, want a backend error", err)
	}
}

func TestNewVaultProvider_Validation(t *testing.T) {
	if _, err := NewVaultProvider(&VaultConfig{Token: "x"}); err == nil {
		t.Error("expected error without address")
	}
	if _, err := NewVaultProvider(&VaultConfig{Address: "http://vault"}); err == nil {
		t.Error("expected error without token")
	}
}

func TestManager_FallbackAndCache(t *testing.T) {
	path := writeSecrets(t, `{"graph_password":"from-file"}`)
	m, err := NewManager(&Config{Provider: "file", File: &FileConfig{Path: path}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Primary() != "file" {
		t.Errorf("primary = %s", m.Primary())
	}
	t.Setenv("LINKAGE_MODEL_API_KEY", "from-env")
	ctx := context.Background()

	if val, _ := m.Get(ctx, KeyGraphPassword); val != "from-file" {
		t.Errorf("file value = %q", val)
	}
	if val, _ := m.Get(ctx, KeyModelAPIKey); val != "from-env" {
		t.Errorf("env fallback = %q", val)
	}

	os.Unsetenv("LINKAGE_MODEL_API_KEY")
	if val, _ := m.Get(ctx, KeyModelAPIKey); val != "from-env" {
		t.Errorf("cached value = %q", val)
	}
	m.ClearCache()
	if _, err := m.Get(ctx, KeyModelAPIKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("after clear: got %v", err)
	}
}

func TestManager_Fill(t *testing.T) {
	t.Setenv("LINKAGE_VECTOR_DSN", "postgres://env")
	m, err := NewManager(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	dsn := ""
	if err := m.Fill(ctx, KeyVectorDSN, &dsn); err != nil || dsn != "postgres://env" {
		t.Errorf("empty target: got %q, %v", dsn, err)
	}

	set := "configured"
	if err := m.Fill(ctx, KeyVectorDSN, &set); err != nil || set != "configured" {
		t.Errorf("configured value overwritten: %q, %v", set, err)
	}

	missing := ""
	if err := m.Fill(ctx, "nonexistent_secret_xyz", &missing); err != nil || missing != "" {
		t.Errorf("missing secret: %q, %v", missing, err)
	}
}

func TestNewManager_UnknownProvider(t *testing.T) {
	if _, err := NewManager(&Config{Provider: "keychain"}); err == nil {
		t.Fatal("expected error")
	}
}
