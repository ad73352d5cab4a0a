package observability

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewMetricsRegistry()
	c := r.NewCounter("test_counter", "Test counter", nil)
	c.Inc()
	c.Add(2.5)
	if c.Value() != 3.5 {
		t.Fatalf("expected 3.5, got %f", c.Value())
	}

	g := r.NewGauge("test_gauge", "Test gauge", nil)
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-4)
	if g.Value() != 6 {
		t.Fatalf("expected 6, got %f", g.Value())
	}
}

func TestHistogram_Observe(t *testing.T) {
	r := NewMetricsRegistry()
	h := r.NewHistogram("test_histogram", "Test histogram", nil, []float64{1, 5, 10})

	for _, v := range []float64{0.5, 3, 7, 15} {
		h.Observe(v)
	}
	if h.Count() != 4 {
		t.Fatalf("expected count 4, got %d", h.Count())
	}
	if h.sum != 25.5 {
		t.Fatalf("expected sum 25.5, got %f", h.sum)
	}
	want := []uint64{1, 2, 3}
	for i, n := range want {
		if h.counts[i] != n {
			t.Errorf("bucket %d: expected %d, got %d", i, n, h.counts[i])
		}
	}
}

func TestHistogram_ObserveDuration(t *testing.T) {
	r := NewMetricsRegistry()
	h := r.NewHistogram("test_histogram", "Test histogram", nil, nil)
	h.ObserveDuration(time.Now().Add(-100 * time.Millisecond))
	if h.sum < 0.1 {
		t.Fatalf("expected sum >= 0.1, got %f", h.sum)
	}
}

func TestBuckets_Ascending(t *testing.T) {
	for name, buckets := range map[string][]float64{
		"default": DefaultBuckets(),
		"score":   ScoreBuckets(),
	} {
		for i := 1; i < len(buckets); i++ {
			if buckets[i] <= buckets[i-1] {
				t.Fatalf("%s buckets not ascending at %d", name, i)
			}
		}
	}
}

func TestMetricsRegistry_Handler(t *testing.T) {
	r := NewMetricsRegistry()
	r.NewCounter("b_counter", "second counter", nil).Inc()
	r.NewCounter("a_counter", "first counter", map[string]string{"path": "/api", "method": "POST"}).Add(2)
	h := r.NewHistogram("request_duration", "Request duration", nil, []float64{0.1, 0.5})
	h.Observe(0.05)
	h.Observe(0.3)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("expected text/plain content type, got %s", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		`a_counter{method="POST",path="/api"} 2`,
		"b_counter 1",
		`request_duration_bucket{le="0.1"} 1`,
		`request_duration_bucket{le="0.5"} 2`,
		`request_duration_bucket{le="+Inf"} 2`,
		"request_duration_count 2",
		"# TYPE request_duration histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in output:\n%s", want, body)
		}
	}
	if strings.Index(body, "a_counter") > strings.Index(body, "b_counter") {
		t.Error("expected counters sorted by name")
	}
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		0:     "0",
		42:    "42",
		0.25:  "0.25",
		-1.5:  "-1.5",
		1e-05: "1e-05",
	}
	for in, want := range tests {
		if got := formatFloat(in); got != want {
			t.Errorf("formatFloat(%v) = %s, want %s", in, got, want)
		}
	}
}

func TestLinkageMetrics_Record(t *testing.T) {
	m := NewLinkageMetrics()

	m.RecordPrediction(0.9, true)
	m.RecordPrediction(0.2, false)
	if m.PredictionsTotal.Value() != 2 || m.MatchesTotal.Value() != 1 {
		t.Fatalf("unexpected prediction counters: %f / %f", m.PredictionsTotal.Value(), m.MatchesTotal.Value())
	}

	m.RecordEncode(10*time.Millisecond, 32, nil)
	m.RecordEncode(10*time.Millisecond, 8, errors.New("boom"))
	if m.EncodeTextsTotal.Value() != 40 || m.EncodeErrorsTotal.Value() != 1 {
		t.Fatalf("unexpected encode counters: %f / %f", m.EncodeTextsTotal.Value(), m.EncodeErrorsTotal.Value())
	}

	m.RecordBatch(time.Second, 1000, true)
	if m.ComparisonsTotal.Value() != 1000 || m.BatchTruncations.Value() != 1 {
		t.Fatal("batch metrics not recorded")
	}

	m.RecordModelLoad(errors.New("missing"))
	if m.ModelLoaded.Value() != 0 || m.ModelLoadFailuresTotal.Value() != 1 {
		t.Fatal("failed load should not mark model loaded")
	}
	m.RecordModelLoad(nil)
	if m.ModelLoaded.Value() != 1 {
		t.Fatal("expected model loaded gauge set")
	}
}

func TestLinkageMetrics_Handler(t *testing.T) {
	m := NewLinkageMetrics()
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "linkage_predictions_total") {
		t.Fatal("expected linkage metrics in output")
	}
}

func TestGlobalMetrics(t *testing.T) {
	if Metrics() != Metrics() {
		t.Fatal("expected the same instance")
	}
}
