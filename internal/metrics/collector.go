// Package metrics is a small Prometheus-text metrics registry. It renders
// the exposition format directly instead of pulling in client_golang.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry holds all registered metrics. The package-level Default registry
// backs the pre-wired metrics below.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	start      time.Time
}

var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		start:      time.Now(),
	}
}

// Counter is a monotonically increasing value.
type Counter struct {
	name, help, labels string
	v                  atomic.Int64
}

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge goes up and down.
type Gauge struct {
	name, help, labels string
	v                  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.v.Store(v) }
func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	name, help, labels string

	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

func (r *Registry) Counter(name, help, labels string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := name + "{" + labels + "}"
	if c, ok := r.counters[key]; ok {
		return c
	}
	c := &Counter{name: name, help: help, labels: labels}
	r.counters[key] = c
	return c
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := name + "{" + labels + "}"
	if g, ok := r.gauges[key]; ok {
		return g
	}
	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[key] = g
	return g
}

func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := name + "{" + labels + "}"
	if h, ok := r.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{name: name, help: help, labels: labels, bounds: sorted, buckets: make([]int64, len(sorted))}
	r.histograms[key] = h
	return h
}

// Render writes the registry in Prometheus text format, sorted by metric key
// so output is deterministic.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP voicebridge_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE voicebridge_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "voicebridge_uptime_seconds %d\n", int64(time.Since(r.start).Seconds()))

	helpDone := make(map[string]bool)
	for _, key := range sortedKeys(r.counters) {
		c := r.counters[key]
		writeHead(&sb, helpDone, c.name, c.help, "counter")
		writeSample(&sb, c.name, c.labels, fmt.Sprintf("%d", c.Value()))
	}
	helpDone = make(map[string]bool)
	for _, key := range sortedKeys(r.gauges) {
		g := r.gauges[key]
		writeHead(&sb, helpDone, g.name, g.help, "gauge")
		writeSample(&sb, g.name, g.labels, fmt.Sprintf("%d", g.Value()))
	}
	for _, key := range sortedKeys(r.histograms) {
		h := r.histograms[key]
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		for i, le := range h.bounds {
			writeSample(&sb, h.name+"_bucket", joinLabels(h.labels, fmt.Sprintf("le=%q", fmt.Sprintf("%g", le))), fmt.Sprintf("%d", h.buckets[i]))
		}
		writeSample(&sb, h.name+"_bucket", joinLabels(h.labels, `le="+Inf"`), fmt.Sprintf("%d", h.count))
		writeSample(&sb, h.name+"_count", h.labels, fmt.Sprintf("%d", h.count))
		writeSample(&sb, h.name+"_sum", h.labels, fmt.Sprintf("%f", h.sum))
		h.mu.Unlock()
	}
	return sb.String()
}

// Handler serves Render over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, r.Render())
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeHead(sb *strings.Builder, done map[string]bool, name, help, typ string) {
	if done[name] {
		return
	}
	done[name] = true
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func writeSample(sb *strings.Builder, name, labels, value string) {
	if labels != "" {
		fmt.Fprintf(sb, "%s{%s} %s\n", name, labels, value)
	} else {
		fmt.Fprintf(sb, "%s %s\n", name, value)
	}
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

// Metrics wired across the application.
var (
	DeliveriesPoll   = Default.Counter("voicebridge_deliveries_total", "Bot messages delivered downstream", `source="poll"`)
	DeliveriesWidget = Default.Counter("voicebridge_deliveries_total", "Bot messages delivered downstream", `source="widget"`)
	FetchErrors      = Default.Counter("voicebridge_fetch_errors_total", "Activity fetch failures", "")
	WindowResets     = Default.Counter("voicebridge_stabilization_resets_total", "Stabilization window restarts on text growth", "")
	TranscriptsTotal = Default.Counter("voicebridge_transcripts_total", "Finalized voice transcripts", "")
	SpeechErrors     = Default.Counter("voicebridge_speech_errors_total", "Speech synthesis failures", "")
	MonitorClients   = Default.Gauge("voicebridge_monitor_clients", "Connected monitor websocket clients", "")

	SynthLatency = Default.Histogram("voicebridge_synth_latency_seconds", "Text-to-speech synthesis latency in seconds", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
)
