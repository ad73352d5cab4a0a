package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RemoteConfig controls retries and request pacing for API backends.
type RemoteConfig struct {
	MaxRetries        int           // 0 disables retries
	RetryDelay        time.Duration // first backoff delay
	MaxDelay          time.Duration // cap for exponential backoff
	Timeout           time.Duration // per attempt
	RequestsPerMinute int           // 0 = unlimited
}

// DefaultRemoteConfig returns the settings used for the openai and google
// backends.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		MaxRetries:        3,
		RetryDelay:        time.Second,
		MaxDelay:          20 * time.Second,
		Timeout:           time.Minute,
		RequestsPerMinute: 300,
	}
}

// RemoteBackend wraps an API backend with rate limiting, per-attempt
// timeouts and exponential backoff on transient failures.
type RemoteBackend struct {
	inner   Backend
	cfg     RemoteConfig
	limiter *rate.Limiter
}

// WrapRemote wraps b. A nil b is returned unchanged.
func WrapRemote(b Backend, cfg RemoteConfig) Backend {
	if b == nil {
		return nil
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	return &RemoteBackend{inner: b, cfg: cfg, limiter: rate.NewLimiter(limit, 1)}
}

// Remote adapts a constructor so every backend it builds is wrapped.
func Remote(ctor Constructor, cfg RemoteConfig) Constructor {
	return func(ctx context.Context, bc BackendConfig) (Backend, error) {
		b, err := ctor(ctx, bc)
		if err != nil {
			return nil, err
		}
		return WrapRemote(b, cfg), nil
	}
}

func (r *RemoteBackend) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		}
		vecs, err := r.inner.Encode(attemptCtx, texts)
		cancel()
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.cfg.MaxRetries, lastErr)
}

func (r *RemoteBackend) backoff(attempt int) time.Duration {
	delay := r.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if r.cfg.MaxDelay > 0 && delay > r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	return delay
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(msg, http.StatusText(http.StatusTooManyRequests)) {
		return true
	}
	for _, code := range []int{500, 502, 503, 504} {
		if strings.Contains(msg, fmt.Sprint(code)) || strings.Contains(msg, http.StatusText(code)) {
			return true
		}
	}
	return false
}

func (r *RemoteBackend) Device() string { return r.inner.Device() }

func (r *RemoteBackend) Close() error { return r.inner.Close() }

var _ Backend = (*RemoteBackend)(nil)
