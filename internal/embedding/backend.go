// Package embedding wraps a sentence-embedding model behind a load-once engine
// that encodes texts in batches and scores text pairs by cosine similarity.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a model directory does not exist.
	ErrNotFound = errors.New("model not found")
	// ErrLoadFailure wraps any error raised while constructing a backend.
	ErrLoadFailure = errors.New("model load failed")
	// ErrComputation wraps errors raised by a backend while encoding.
	ErrComputation = errors.New("embedding computation failed")
	// ErrNotLoaded is returned by operations that need a loaded model.
	ErrNotLoaded = errors.New("no model loaded")
	// ErrNotPersistable is returned when the backend cannot save itself.
	ErrNotPersistable = errors.New("backend does not support saving")
)

// Backend is the interface all embedding backends implement.
type Backend interface {
	// Encode returns one vector per text, in input order.
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// Device reports where inference runs ("cpu", "cuda", "remote").
	Device() string
	// Close releases backend resources.
	Close() error
}

// Persister is implemented by backends that can write their model to disk.
type Persister interface {
	Save(dir string) error
}

// Devices accepted in BackendConfig.Device.
const (
	DeviceCPU    = "cpu"
	DeviceCUDA   = "cuda"
	DeviceAuto   = "auto"
	DeviceRemote = "remote"
)

// BackendConfig holds everything needed to build any backend.
type BackendConfig struct {
	Backend      string // "onnx", "openai", "google", "hash"
	Model        string // model identifier
	ModelPath    string // directory holding model files
	Device       string // "cpu", "cuda" or "auto"
	MaxSeqLength int
	APIKey       string
	BaseURL      string
	Dimensions   int    // hash backend vector size
	LibraryPath  string // onnxruntime shared library
}

// Constructor builds a Backend from config.
type Constructor func(ctx context.Context, cfg BackendConfig) (Backend, error)

// Factory creates backends by name.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register adds a constructor under the given name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.constructors[strings.ToLower(name)] = ctor
}

// Create builds the backend named in cfg.Backend.
func (f *Factory) Create(ctx context.Context, cfg BackendConfig) (Backend, error) {
	name := strings.ToLower(cfg.Backend)
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedding backend %q (registered: %s)", cfg.Backend, strings.Join(f.Names(), ", "))
	}
	return ctor(ctx, cfg)
}

// Names lists registered backends in sorted order.
func (f *Factory) Names() []string {
	out := make([]string, 0, len(f.constructors))
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
