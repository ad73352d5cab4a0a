// Package secrets resolves credentials from the environment, a JSON file or
// HashiCorp Vault.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Keys for the credentials the services read.
const (
	KeyModelAPIKey   = "model_api_key"
	KeyGraphPassword = "graph_password"
	KeyVectorDSN     = "vector_dsn"
)

// DefaultEnvPrefix matches the configuration environment prefix.
const DefaultEnvPrefix = "LINKAGE_"

// ErrNotFound is returned when no provider holds a key.
var ErrNotFound = errors.New("secret not found")

// Provider is a read-only secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects the primary backend. The environment is always consulted
// after it.
type Config struct {
	// Provider is "env", "file" or "vault".
	Provider  string
	EnvPrefix string
	File      *FileConfig
	Vault     *VaultConfig
}

// Manager reads secrets from a primary provider with the environment as
// fallback, caching what it finds.
type Manager struct {
	primary  Provider
	fallback Provider

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager creates a manager for cfg. A nil cfg reads the environment only.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	env := NewEnvProvider(cfg.EnvPrefix)

	var primary Provider
	switch cfg.Provider {
	case "", "env":
		primary = env
	case "file":
		fp, err := NewFileProvider(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("file provider: %w", err)
		}
		primary = fp
	case "vault":
		vp, err := NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault provider: %w", err)
		}
		primary = vp
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	m := &Manager{primary: primary, cache: make(map[string]string)}
	if primary != Provider(env) {
		m.fallback = env
	}
	return m, nil
}

// Primary returns the name of the primary provider.
func (m *Manager) Primary() string { return m.primary.Name() }

// Get returns the secret for key from the primary provider, then the
// environment.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	val, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return val, nil
	}

	var errs []error
	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		val, err := p.Get(ctx, key)
		if err == nil && val != "" {
			m.mu.Lock()
			m.cache[key] = val
			m.mu.Unlock()
			return val, nil
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Fill sets *dst from key when *dst is empty. A missing secret leaves it
// empty; backend failures are returned.
func (m *Manager) Fill(ctx context.Context, key string, dst *string) error {
	if *dst != "" {
		return nil
	}
	val, err := m.Get(ctx, key)
	switch {
	case err == nil:
		*dst = val
		return nil
	case errors.Is(err, ErrNotFound):
		return nil
	default:
		return err
	}
}

// ClearCache drops cached values.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]string)
	m.mu.Unlock()
}

// EnvProvider reads PREFIX_KEY, then KEY, upper-cased.
type EnvProvider struct {
	prefix string
}

func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	upper := strings.ToUpper(key)
	if val := os.Getenv(p.prefix + upper); val != "" {
		return val, nil
	}
	if val := os.Getenv(upper); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: %s%s", ErrNotFound, p.prefix, upper)
}
