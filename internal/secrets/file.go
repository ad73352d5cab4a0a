package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// FileConfig points at a flat JSON object of key to value. Meant for local
// development.
type FileConfig struct {
	Path string
}

// FileProvider serves secrets from a JSON file loaded at construction.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

func NewFileProvider(cfg *FileConfig) (*FileProvider, error) {
	if cfg == nil || cfg.Path == "" {
		return nil, errors.New("file path required")
	}
	p := &FileProvider{path: cfg.Path}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

// Reload rereads the file.
func (p *FileProvider) Reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read secrets file: %w", err)
	}
	data := make(map[string]string)
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse secrets file %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}
