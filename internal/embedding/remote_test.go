package embedding

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyBackend struct {
	failures int
	err      error
	calls    int
}

func (f *flakyBackend) Encode(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1}
	}
	return out, nil
}

func (f *flakyBackend) Device() string { return DeviceRemote }
func (f *flakyBackend) Close() error   { return nil }

func fastRemote(retries int) RemoteConfig {
	return RemoteConfig{MaxRetries: retries, RetryDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestRemoteBackend_RetriesTransientErrors(t *testing.T) {
	fb := &flakyBackend{failures: 2, err: errors.New("status code: 503, Service Unavailable")}
	b := WrapRemote(fb, fastRemote(3))

	vecs, err := b.Encode(context.Background(), []string{"a"})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(vecs) != 1 || fb.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", fb.calls)
	}
}

func TestRemoteBackend_StopsOnClientError(t *testing.T) {
	fb := &flakyBackend{failures: 5, err: errors.New("status code: 401, invalid api key")}
	b := WrapRemote(fb, fastRemote(3))

	if _, err := b.Encode(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if fb.calls != 1 {
		t.Fatalf("client errors should not be retried, got %d calls", fb.calls)
	}
}

func TestRemoteBackend_MaxRetries(t *testing.T) {
	fb := &flakyBackend{failures: 10, err: errors.New("429 Too Many Requests")}
	b := WrapRemote(fb, fastRemote(2))

	if _, err := b.Encode(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if fb.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fb.calls)
	}
}

func TestRemoteBackend_Backoff(t *testing.T) {
	r := &RemoteBackend{cfg: RemoteConfig{RetryDelay: time.Second, MaxDelay: 5 * time.Second}}
	tests := map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 5 * time.Second}
	for attempt, want := range tests {
		if got := r.backoff(attempt); got != want {
			t.Errorf("backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{errors.New("502 Bad Gateway"), true},
		{errors.New("400 bad request"), false},
		{errors.New("something odd"), false},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRemote_WrapsConstructor(t *testing.T) {
	ctor := Remote(func(context.Context, BackendConfig) (Backend, error) {
		return &flakyBackend{}, nil
	}, DefaultRemoteConfig())
	b, err := ctor(context.Background(), BackendConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*RemoteBackend); !ok {
		t.Fatalf("expected *RemoteBackend, got %T", b)
	}
}
