// Package metrics is a small Prometheus text-format registry for the
// avflight processes.
package metrics

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry holds all application metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram

	startTime time.Time
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		histos:    make(map[string]*Histogram),
		startTime: time.Now(),
	}
}

// Counter returns or creates a counter metric.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Gauge returns or creates a gauge metric.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// Histogram returns or creates a histogram metric.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.histos[name]; ok {
		return h
	}
	h := NewHistogram(name, help, buckets)
	r.histos[name] = h
	return h
}

// Export returns all metrics in Prometheus text format, sorted by name
// within each kind.
func (r *Registry) Export() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder

	writeHeader(&b, "go_goroutines", "Number of goroutines.", "gauge")
	fmt.Fprintf(&b, "go_goroutines %d\n", runtime.NumGoroutine())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	writeHeader(&b, "go_memstats_heap_alloc_bytes", "Number of heap bytes allocated and still in use.", "gauge")
	fmt.Fprintf(&b, "go_memstats_heap_alloc_bytes %d\n", mem.HeapAlloc)

	writeHeader(&b, "process_uptime_seconds", "Time since process start.", "gauge")
	fmt.Fprintf(&b, "process_uptime_seconds %f\n", time.Since(r.startTime).Seconds())

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		writeHeader(&b, c.name, c.help, "counter")
		fmt.Fprintf(&b, "%s %d\n", c.name, c.Value())
	}
	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		writeHeader(&b, g.name, g.help, "gauge")
		fmt.Fprintf(&b, "%s %g\n", g.name, g.Get())
	}
	for _, name := range sortedKeys(r.histos) {
		b.WriteString(r.histos[name].Export())
	}
	return b.String()
}

func writeHeader(b *strings.Builder, name, help, kind string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing metric.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds v to the counter.
func (c *Counter) Add(v int64) { c.value.Add(v) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a metric that can go up and down.
type Gauge struct {
	name string
	help string
	bits atomic.Uint64
}

// Set sets the gauge to v.
func (g *Gauge) Set(v float64) { g.bits.Store(math.Float64bits(v)) }

// Add adds v to the gauge.
func (g *Gauge) Add(v float64) {
	for {
		old := g.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if g.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Get returns the current gauge value.
func (g *Gauge) Get() float64 { return math.Float64frombits(g.bits.Load()) }

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// Histogram tracks value distributions with cumulative buckets.
type Histogram struct {
	name      string
	help      string
	buckets   []float64
	counts    []atomic.Int64
	sumMicros atomic.Int64
	count     atomic.Int64
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return &Histogram{
		name:    name,
		help:    help,
		buckets: buckets,
		counts:  make([]atomic.Int64, len(buckets)),
	}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i].Add(1)
		}
	}
	h.sumMicros.Add(int64(v * 1e6))
	h.count.Add(1)
}

// Since records the seconds elapsed since start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 { return h.count.Load() }

// Export returns the histogram in Prometheus format.
func (h *Histogram) Export() string {
	var b strings.Builder
	writeHeader(&b, h.name, h.help, "histogram")
	for i, bound := range h.buckets {
		fmt.Fprintf(&b, "%s_bucket{le=\"%g\"} %d\n", h.name, bound, h.counts[i].Load())
	}
	fmt.Fprintf(&b, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count.Load())
	fmt.Fprintf(&b, "%s_sum %f\n", h.name, float64(h.sumMicros.Load())/1e6)
	fmt.Fprintf(&b, "%s_count %d\n", h.name, h.count.Load())
	return b.String()
}

// ---------------------------------------------------------------------------
// Default Registry
// ---------------------------------------------------------------------------

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

var latencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

var (
	// Progress ticker
	TickerTicks    = defaultRegistry.Counter("avflight_ticker_ticks_total", "Progress ticker passes")
	ProgressWrites = defaultRegistry.Counter("avflight_progress_writes_total", "Progress values persisted")
	Landings       = defaultRegistry.Counter("avflight_landings_total", "Landing transitions persisted")
	WorkingSetSize = defaultRegistry.Gauge("avflight_working_set_flights", "Flights held by the progress ticker")
	TickLatency    = defaultRegistry.Histogram("avflight_tick_seconds", "Progress ticker pass latency", latencyBuckets)

	// Lifecycle mover
	MoverSweeps   = defaultRegistry.Counter("avflight_mover_sweeps_total", "Reservation sweeps run")
	LandingStamps = defaultRegistry.Counter("avflight_reservation_landings_total", "Reservations stamped as landed")
	MilesAwarded  = defaultRegistry.Counter("avflight_miles_awarded_total", "Loyalty miles credited")
	Awards        = defaultRegistry.Counter("avflight_awards_total", "Mile awards committed")
	Archived      = defaultRegistry.Counter("avflight_archived_total", "Reservations moved to past flights")
	SweepLatency  = defaultRegistry.Histogram("avflight_sweep_seconds", "Lifecycle sweep latency", latencyBuckets)

	// Booking, crew and ingestion
	Bookings        = defaultRegistry.Counter("avflight_bookings_total", "Reservations created")
	BookingRejects  = defaultRegistry.Counter("avflight_booking_rejects_total", "Booking requests rejected")
	CrewActions     = defaultRegistry.Counter("avflight_crew_actions_total", "Delay and cancel actions applied")
	FlightsImported = defaultRegistry.Counter("avflight_flights_imported_total", "Flights upserted by the schedule importer")
	ImportErrors    = defaultRegistry.Counter("avflight_import_errors_total", "Schedule import failures")

	// Store and HTTP
	StoreErrors  = defaultRegistry.Counter("avflight_store_errors_total", "Store operations that failed")
	HTTPRequests = defaultRegistry.Counter("avflight_http_requests_total", "HTTP requests served")
	HTTPLatency  = defaultRegistry.Histogram("avflight_http_seconds", "HTTP request latency", latencyBuckets)
	RateLimited  = defaultRegistry.Counter("avflight_http_rate_limited_total", "HTTP requests refused by the rate limiter")

	// Runtime
	HeapMB         = defaultRegistry.Gauge("avflight_heap_mb", "Heap in use, megabytes")
	MemoryPressure = defaultRegistry.Gauge("avflight_memory_state", "Memory pressure level, 0 normal to 3 emergency")
)
