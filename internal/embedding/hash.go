package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// DefaultHashDimensions is the hash encoder's vector size.
	DefaultHashDimensions = 512

	hashManifest = "encoder.json"
)

// HashBackend is a deterministic feature-hashing encoder. Each text becomes
// a bag of lowercase word tokens and padded character trigrams, hashed into
// a fixed number of buckets and L2 normalized. It needs no model files.
type HashBackend struct {
	dims int
}

type hashManifestFile struct {
	Backend    string `json:"backend"`
	Dimensions int    `json:"dimensions"`
}

// NewHashBackend creates a hash encoder with the given dimensions.
func NewHashBackend(dims int) *HashBackend {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashBackend{dims: dims}
}

// NewHash is the factory constructor. It reads the dimensions from a saved
// manifest under cfg.ModelPath when one exists.
func NewHash(_ context.Context, cfg BackendConfig) (Backend, error) {
	dims := cfg.Dimensions
	if cfg.ModelPath != "" {
		data, err := os.ReadFile(filepath.Join(cfg.ModelPath, hashManifest))
		switch {
		case err == nil:
			var mf hashManifestFile
			if err := json.Unmarshal(data, &mf); err != nil {
				return nil, fmt.Errorf("parse %s: %w", hashManifest, err)
			}
			dims = mf.Dimensions
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read %s: %w", hashManifest, err)
		}
	}
	return NewHashBackend(dims), nil
}

// Dimensions returns the vector size.
func (h *HashBackend) Dimensions() int { return h.dims }

func (h *HashBackend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.encode(t)
	}
	return out, nil
}

func (h *HashBackend) encode(text string) []float32 {
	vec := make([]float32, h.dims)
	for _, tok := range tokenize(text) {
		vec[h.bucket("w:"+tok)]++
		padded := []rune("^" + tok + "$")
		for i := 0; i+3 <= len(padded); i++ {
			vec[h.bucket(string(padded[i:i+3]))]++
		}
	}
	return Normalize(vec)
}

func (h *HashBackend) bucket(feature string) int {
	f := fnv.New32a()
	f.Write([]byte(feature))
	return int(f.Sum32() % uint32(h.dims))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (h *HashBackend) Device() string { return DeviceCPU }

func (h *HashBackend) Close() error { return nil }

// Save writes the encoder manifest into dir.
func (h *HashBackend) Save(dir string) error {
	data, err := json.MarshalIndent(hashManifestFile{Backend: "hash", Dimensions: h.dims}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, hashManifest), data, 0o644)
}

var (
	_ Backend   = (*HashBackend)(nil)
	_ Persister = (*HashBackend)(nil)
)
