// Package onnx runs sentence-transformer models exported to ONNX. Token
// embeddings are mean pooled over the attention mask and L2 normalized,
// which matches the pooling of the all-MiniLM family.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/efebarandurmaz/linkage/internal/embedding"
)

const (
	ModelFile     = "model.onnx"
	TokenizerFile = "tokenizer.json"

	// DefaultMaxSeqLength matches the sentence-transformers default.
	DefaultMaxSeqLength = 128
)

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

// Backend holds one ONNX Runtime session and its tokenizer.
type Backend struct {
	dir     string
	device  string
	maxSeq  int
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	inputs  []string
	output  string
	mu      sync.Mutex
}

// New is the factory constructor for the "onnx" backend. cfg.ModelPath (or
// cfg.Model when no path is set) must be a directory holding model.onnx and
// tokenizer.json.
func New(_ context.Context, cfg embedding.BackendConfig) (embedding.Backend, error) {
	dir := cfg.ModelPath
	if dir == "" {
		dir = cfg.Model
	}
	modelPath := filepath.Join(dir, ModelFile)
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx model: %w", err)
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	tk, err := pretrained.FromFile(filepath.Join(dir, TokenizerFile))
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}

	inInfo, outInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect model: %w", err)
	}
	if len(outInfo) == 0 {
		return nil, errors.New("onnx model has no outputs")
	}
	inputs := make([]string, 0, len(inInfo))
	for _, in := range inInfo {
		switch in.Name {
		case "input_ids", "attention_mask", "token_type_ids":
			inputs = append(inputs, in.Name)
		default:
			return nil, fmt.Errorf("unsupported model input %q", in.Name)
		}
	}
	output := outInfo[0].Name
	for _, out := range outInfo {
		if out.Name == "last_hidden_state" {
			output = out.Name
		}
	}

	session, device, err := newSession(modelPath, inputs, output, cfg.Device)
	if err != nil {
		return nil, err
	}

	maxSeq := cfg.MaxSeqLength
	if maxSeq <= 0 {
		maxSeq = DefaultMaxSeqLength
	}
	return &Backend{
		dir:     dir,
		device:  device,
		maxSeq:  maxSeq,
		tk:      tk,
		session: session,
		inputs:  inputs,
		output:  output,
	}, nil
}

// newSession prefers CUDA for the "cuda" and "auto" devices and falls back
// to CPU when the provider is unavailable.
func newSession(modelPath string, inputs []string, output, device string) (*ort.DynamicAdvancedSession, string, error) {
	if device == embedding.DeviceCUDA || device == embedding.DeviceAuto {
		s, err := newCUDASession(modelPath, inputs, output)
		if err == nil {
			return s, embedding.DeviceCUDA, nil
		}
		slog.Warn("cuda unavailable, falling back to cpu", "error", err)
	}
	s, err := ort.NewDynamicAdvancedSession(modelPath, inputs, []string{output}, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	return s, embedding.DeviceCPU, nil
}

func newCUDASession(modelPath string, inputs []string, output string) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
		return nil, err
	}
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		return nil, err
	}
	return ort.NewDynamicAdvancedSession(modelPath, inputs, []string{output}, opts)
}

type encoded struct {
	ids, mask, types []int
}

func (b *Backend) tokenize(text string) (encoded, error) {
	enc, err := b.tk.EncodeSingle(text, true)
	if err != nil {
		return encoded{}, err
	}
	e := encoded{ids: enc.GetIds(), mask: enc.GetAttentionMask(), types: enc.GetTypeIds()}
	if len(e.ids) > b.maxSeq {
		// Keep the trailing [SEP] token.
		last := len(e.ids) - 1
		e.ids = append(e.ids[:b.maxSeq-1:b.maxSeq-1], e.ids[last])
		e.mask = append(e.mask[:b.maxSeq-1:b.maxSeq-1], e.mask[last])
		e.types = append(e.types[:b.maxSeq-1:b.maxSeq-1], e.types[last])
	}
	return e, nil
}

func (b *Backend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	encs := make([]encoded, len(texts))
	seq := 1
	for i, t := range texts {
		e, err := b.tokenize(t)
		if err != nil {
			return nil, fmt.Errorf("tokenize text %d: %w", i, err)
		}
		encs[i] = e
		seq = max(seq, len(e.ids))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := int64(len(texts))
	shape := ort.NewShape(batch, int64(seq))
	flat := map[string][]int64{
		"input_ids":      make([]int64, batch*int64(seq)),
		"attention_mask": make([]int64, batch*int64(seq)),
		"token_type_ids": make([]int64, batch*int64(seq)),
	}
	for i, e := range encs {
		off := i * seq
		for j := range e.ids {
			flat["input_ids"][off+j] = int64(e.ids[j])
			flat["attention_mask"][off+j] = int64(e.mask[j])
			if j < len(e.types) {
				flat["token_type_ids"][off+j] = int64(e.types[j])
			}
		}
	}

	inputs := make([]ort.Value, 0, len(b.inputs))
	defer func() {
		for _, v := range inputs {
			v.Destroy()
		}
	}()
	for _, name := range b.inputs {
		t, err := ort.NewTensor(shape, flat[name])
		if err != nil {
			return nil, fmt.Errorf("create %s tensor: %w", name, err)
		}
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	b.mu.Lock()
	err := b.session.Run(inputs, outputs)
	b.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	return pool(out.GetData(), out.GetShape(), flat["attention_mask"], len(texts), seq)
}

// pool turns the model output into one normalized vector per text. Rank 3
// outputs are token embeddings and get mean pooled; rank 2 outputs are
// already sentence embeddings.
func pool(data []float32, shape ort.Shape, mask []int64, batch, seq int) ([][]float32, error) {
	out := make([][]float32, batch)
	switch len(shape) {
	case 2:
		hidden := int(shape[1])
		for i := range out {
			v := make([]float32, hidden)
			copy(v, data[i*hidden:(i+1)*hidden])
			out[i] = embedding.Normalize(v)
		}
	case 3:
		if int(shape[1]) != seq {
			return nil, fmt.Errorf("output sequence length %d, expected %d", shape[1], seq)
		}
		hidden := int(shape[2])
		for i := range out {
			v := make([]float32, hidden)
			var n float32
			for j := 0; j < seq; j++ {
				if mask[i*seq+j] == 0 {
					continue
				}
				n++
				tok := data[(i*seq+j)*hidden : (i*seq+j+1)*hidden]
				for k, x := range tok {
					v[k] += x
				}
			}
			if n > 0 {
				for k := range v {
					v[k] /= n
				}
			}
			out[i] = embedding.Normalize(v)
		}
	default:
		return nil, fmt.Errorf("unsupported output shape %v", shape)
	}
	return out, nil
}

func (b *Backend) Device() string { return b.device }

func (b *Backend) Close() error {
	return b.session.Destroy()
}

// Save copies the model directory's files into dir.
func (b *Backend) Save(dir string) error {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(b.dir, e.Name()), filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("copy %s: %w", e.Name(), err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if abs1, err1 := filepath.Abs(src); err1 == nil {
		if abs2, err2 := filepath.Abs(dst); err2 == nil && abs1 == abs2 {
			return nil
		}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var (
	_ embedding.Backend   = (*Backend)(nil)
	_ embedding.Persister = (*Backend)(nil)
)
