package observability

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricsRegistry holds registered metrics and renders them in the
// Prometheus text exposition format.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	mu     sync.Mutex
	value  float64
}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	mu      sync.Mutex
	counts  []uint64
	sum     float64
	count   uint64
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram. Nil buckets select
// DefaultBuckets.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buckets == nil {
		buckets = DefaultBuckets()
	}
	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns latency buckets in seconds.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// ScoreBuckets returns buckets for similarity scores in [0, 1].
func ScoreBuckets() []float64 {
	return []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.65, 0.7, 0.75, 0.8, 0.85, 0.9, 0.95, 1}
}

func (c *Counter) Inc() { c.Add(1) }

func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }

func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records the seconds elapsed since start.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Handler serves the registry in Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes every metric, sorted by name within each kind.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedNames(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}
	for _, name := range sortedNames(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.labels, g.value)
		g.mu.Unlock()
	}
	for _, name := range sortedNames(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func writeMetric(w io.Writer, name, kind, help string, labels map[string]string, value float64) {
	io.WriteString(w, "# HELP "+name+" "+help+"\n")
	io.WriteString(w, "# TYPE "+name+" "+kind+"\n")
	io.WriteString(w, name+formatLabels(labels)+" "+formatFloat(value)+"\n")
}

func writeHistogram(w io.Writer, h *Histogram) {
	io.WriteString(w, "# HELP "+h.name+" "+h.help+"\n")
	io.WriteString(w, "# TYPE "+h.name+" histogram\n")

	// counts are already cumulative: Observe increments every bucket >= v.
	for i, bound := range h.buckets {
		labels := withLabel(h.labels, "le", formatFloat(bound))
		io.WriteString(w, h.name+"_bucket"+formatLabels(labels)+" "+strconv.FormatUint(h.counts[i], 10)+"\n")
	}
	inf := withLabel(h.labels, "le", "+Inf")
	io.WriteString(w, h.name+"_bucket"+formatLabels(inf)+" "+strconv.FormatUint(h.count, 10)+"\n")
	io.WriteString(w, h.name+"_sum"+formatLabels(h.labels)+" "+formatFloat(h.sum)+"\n")
	io.WriteString(w, h.name+"_count"+formatLabels(h.labels)+" "+strconv.FormatUint(h.count, 10)+"\n")
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := sortedNames(labels)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(labels[k])
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func withLabel(labels map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for lk, lv := range labels {
		out[lk] = lv
	}
	out[k] = v
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// LinkageMetrics holds the service's metrics.
type LinkageMetrics struct {
	Registry *MetricsRegistry

	PredictionsTotal *Counter
	MatchesTotal     *Counter
	ComparisonsTotal *Counter
	SimilarityScore  *Histogram

	BatchRunsTotal   *Counter
	BatchDuration    *Histogram
	BatchTruncations *Counter

	EncodeRequestsTotal *Counter
	EncodeTextsTotal    *Counter
	EncodeErrorsTotal   *Counter
	EncodeDuration      *Histogram

	ExplanationsTotal      *Counter
	ExplanationFallbacks   *Counter
	ModelLoaded            *Gauge
	ModelLoadFailuresTotal *Counter
}

// NewLinkageMetrics creates a registry populated with the service metrics.
func NewLinkageMetrics() *LinkageMetrics {
	r := NewMetricsRegistry()
	return &LinkageMetrics{
		Registry: r,

		PredictionsTotal: r.NewCounter("linkage_predictions_total", "Total pairs classified", nil),
		MatchesTotal:     r.NewCounter("linkage_matches_total", "Total pairs classified as matches", nil),
		ComparisonsTotal: r.NewCounter("linkage_batch_comparisons_total", "Total comparisons performed by batch runs", nil),
		SimilarityScore:  r.NewHistogram("linkage_similarity_score", "Distribution of similarity scores", nil, ScoreBuckets()),

		BatchRunsTotal:   r.NewCounter("linkage_batch_runs_total", "Total batch runs", nil),
		BatchDuration:    r.NewHistogram("linkage_batch_duration_seconds", "Batch run duration", nil, nil),
		BatchTruncations: r.NewCounter("linkage_batch_truncations_total", "Batch runs stopped by the comparison cap", nil),

		EncodeRequestsTotal: r.NewCounter("linkage_encode_requests_total", "Total backend encode calls", nil),
		EncodeTextsTotal:    r.NewCounter("linkage_encode_texts_total", "Total texts encoded", nil),
		EncodeErrorsTotal:   r.NewCounter("linkage_encode_errors_total", "Total backend encode failures", nil),
		EncodeDuration:      r.NewHistogram("linkage_encode_duration_seconds", "Backend encode duration", nil, nil),

		ExplanationsTotal:      r.NewCounter("linkage_explanations_total", "Total explanations generated", nil),
		ExplanationFallbacks:   r.NewCounter("linkage_explanation_fallbacks_total", "Field contributions that fell back after an encode error", nil),
		ModelLoaded:            r.NewGauge("linkage_model_loaded", "1 when the embedding model is loaded", nil),
		ModelLoadFailuresTotal: r.NewCounter("linkage_model_load_failures_total", "Total model load failures", nil),
	}
}

// Handler serves the metrics endpoint.
func (m *LinkageMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordEncode records one backend encode call.
func (m *LinkageMetrics) RecordEncode(duration time.Duration, texts int, err error) {
	m.EncodeRequestsTotal.Inc()
	m.EncodeDuration.Observe(duration.Seconds())
	m.EncodeTextsTotal.Add(float64(texts))
	if err != nil {
		m.EncodeErrorsTotal.Inc()
	}
}

// RecordPrediction records one classified pair.
func (m *LinkageMetrics) RecordPrediction(score float64, isMatch bool) {
	m.PredictionsTotal.Inc()
	m.SimilarityScore.Observe(score)
	if isMatch {
		m.MatchesTotal.Inc()
	}
}

// RecordBatch records a finished batch run.
func (m *LinkageMetrics) RecordBatch(duration time.Duration, comparisons int, truncated bool) {
	m.BatchRunsTotal.Inc()
	m.BatchDuration.Observe(duration.Seconds())
	m.ComparisonsTotal.Add(float64(comparisons))
	if truncated {
		m.BatchTruncations.Inc()
	}
}

// RecordModelLoad records the outcome of a load attempt.
func (m *LinkageMetrics) RecordModelLoad(err error) {
	if err != nil {
		m.ModelLoadFailuresTotal.Inc()
		return
	}
	m.ModelLoaded.Set(1)
}

var (
	globalMetrics *LinkageMetrics
	metricsOnce   sync.Once
)

// Metrics returns the process metrics instance.
func Metrics() *LinkageMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewLinkageMetrics()
	})
	return globalMetrics
}
