// Package telemetry keeps in-process metrics for the MedAssist server and
// serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Metric names recorded by the server.
const (
	HTTPRequestDuration   = "http_server_request_duration_seconds"
	HTTPActiveRequests    = "http_server_active_requests"
	ChatStreamsTotal      = "chat_streams_total"
	ChatStreamsInFlight   = "chat_streams_in_flight"
	ChatFirstChunkSeconds = "chat_stream_first_chunk_seconds"
	DiagnosesCreatedTotal = "diagnoses_created_total"
	WebSocketClients      = "websocket_clients"
	WidgetSessions        = "chat_widget_sessions"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

var help = map[string]string{
	HTTPRequestDuration:   "Duration of HTTP requests in seconds.",
	HTTPActiveRequests:    "Number of HTTP requests being served.",
	ChatStreamsTotal:      "Chat reply streams by outcome.",
	ChatStreamsInFlight:   "Chat reply streams currently being relayed.",
	ChatFirstChunkSeconds: "Time from request to the first relayed chunk.",
	DiagnosesCreatedTotal: "Diagnosis records created.",
	WebSocketClients:      "Connected websocket clients.",
	WidgetSessions:        "Live chat widget sessions.",
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	cum := make([]int64, len(h.bucketCounts))
	var running int64
	for i, c := range h.bucketCounts {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Config describes the service the metrics belong to.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// series identifies one labelled time series, e.g. name{outcome="ok"}.
type series struct {
	name   string
	labels string
}

// Provider records counters, gauges and histograms. The zero value is not
// usable; create one with NewProvider.
type Provider struct {
	cfg Config

	mu         sync.RWMutex
	counters   map[series]*int64
	gauges     map[string]*int64
	gaugeFuncs map[string]func() int64
	histograms map[series]*histogram
}

func NewProvider(cfg Config) *Provider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "medassist"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	return &Provider{
		cfg:        cfg,
		counters:   make(map[series]*int64),
		gauges:     make(map[string]*int64),
		gaugeFuncs: make(map[string]func() int64),
		histograms: make(map[series]*histogram),
	}
}

// Labels renders key/value pairs as a Prometheus label set body.
func Labels(kv ...string) string {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", kv[i], kv[i+1]))
	}
	return strings.Join(parts, ",")
}

// Inc adds one to the counter name with the given label pairs.
func (p *Provider) Inc(name string, labels ...string) {
	key := series{name: name, labels: Labels(labels...)}

	p.mu.RLock()
	c, ok := p.counters[key]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if c, ok = p.counters[key]; !ok {
			c = new(int64)
			p.counters[key] = c
		}
		p.mu.Unlock()
	}
	atomic.AddInt64(c, 1)
}

// Counter returns the current value of a counter.
func (p *Provider) Counter(name string, labels ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if c, ok := p.counters[series{name: name, labels: Labels(labels...)}]; ok {
		return atomic.LoadInt64(c)
	}
	return 0
}

// AddGauge moves gauge name by delta.
func (p *Provider) AddGauge(name string, delta int64) {
	p.mu.RLock()
	g, ok := p.gauges[name]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if g, ok = p.gauges[name]; !ok {
			g = new(int64)
			p.gauges[name] = g
		}
		p.mu.Unlock()
	}
	atomic.AddInt64(g, delta)
}

// Gauge returns the current value of gauge name.
func (p *Provider) Gauge(name string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if fn, ok := p.gaugeFuncs[name]; ok {
		return fn()
	}
	if g, ok := p.gauges[name]; ok {
		return atomic.LoadInt64(g)
	}
	return 0
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func (p *Provider) GaugeFunc(name string, fn func() int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gaugeFuncs[name] = fn
}

// Observe records v in the histogram name.
func (p *Provider) Observe(name string, v float64, labels ...string) {
	key := series{name: name, labels: Labels(labels...)}

	p.mu.RLock()
	h, ok := p.histograms[key]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		if h, ok = p.histograms[key]; !ok {
			h = newHistogram(defaultDurationBuckets)
			p.histograms[key] = h
		}
		p.mu.Unlock()
	}
	h.Observe(v)
}

// HistogramCount returns the number of observations in a histogram.
func (p *Provider) HistogramCount(name string, labels ...string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if h, ok := p.histograms[series{name: name, labels: Labels(labels...)}]; ok {
		return h.Count()
	}
	return 0
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records the duration of every request, labelled by
// method, route pattern and status.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.AddGauge(HTTPActiveRequests, 1)
			defer p.AddGauge(HTTPActiveRequests, -1)

			start := time.Now()
			err := next(c)

			// Route pattern, not the raw path, to bound cardinality.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}

			p.Observe(HTTPRequestDuration, time.Since(start).Seconds(),
				"method", c.Request().Method, "route", route, "status_code", strconv.Itoa(status))
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves every recorded metric at /metrics.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Export())
	}
}

// Export renders all metrics in Prometheus text format, sorted by name.
func (p *Provider) Export() string {
	p.mu.RLock()
	counters := make(map[series]int64, len(p.counters))
	for k, v := range p.counters {
		counters[k] = atomic.LoadInt64(v)
	}
	gauges := make(map[string]int64, len(p.gauges)+len(p.gaugeFuncs))
	for k, v := range p.gauges {
		gauges[k] = atomic.LoadInt64(v)
	}
	funcs := make(map[string]func() int64, len(p.gaugeFuncs))
	for k, fn := range p.gaugeFuncs {
		funcs[k] = fn
	}
	hists := make(map[series]*histogram, len(p.histograms))
	for k, v := range p.histograms {
		hists[k] = v
	}
	p.mu.RUnlock()

	for k, fn := range funcs {
		gauges[k] = fn()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# HELP medassist_build_info Build information.\n# TYPE medassist_build_info gauge\n")
	fmt.Fprintf(&b, "medassist_build_info{%s} 1\n\n", Labels(
		"service", p.cfg.ServiceName, "version", p.cfg.ServiceVersion, "environment", p.cfg.Environment))

	for _, name := range sortedSeriesNames(counters) {
		writeHeader(&b, name, "counter")
		for _, s := range sortedSeries(counters, name) {
			fmt.Fprintf(&b, "%s%s %d\n", name, braces(s.labels), counters[s])
		}
		b.WriteByte('\n')
	}

	gaugeNames := make([]string, 0, len(gauges))
	for k := range gauges {
		gaugeNames = append(gaugeNames, k)
	}
	sort.Strings(gaugeNames)
	for _, name := range gaugeNames {
		writeHeader(&b, name, "gauge")
		fmt.Fprintf(&b, "%s %d\n\n", name, gauges[name])
	}

	for _, name := range sortedSeriesNames(hists) {
		writeHeader(&b, name, "histogram")
		for _, s := range sortedSeries(hists, name) {
			writeSingleHistogram(&b, name, s.labels, hists[s])
		}
		b.WriteByte('\n')
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, typ string) {
	if h, ok := help[name]; ok {
		fmt.Fprintf(b, "# HELP %s %s\n", name, h)
	}
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

func writeSingleHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	prefix := ""
	if labels != "" {
		prefix = labels + ","
	}
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, total)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braces(labels), h.Sum())
	fmt.Fprintf(b, "%s_count%s %d\n", name, braces(labels), total)
}

func sortedSeriesNames[V any](m map[series]V) []string {
	seen := make(map[string]struct{})
	var names []string
	for k := range m {
		if _, ok := seen[k.name]; !ok {
			seen[k.name] = struct{}{}
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

func sortedSeries[V any](m map[series]V, name string) []series {
	var out []series
	for k := range m {
		if k.name == name {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].labels < out[j].labels })
	return out
}
