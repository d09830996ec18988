package edge

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/CharlesOkeke1/AirValora/internal/metrics"
)

// ---------------------------------------------------------------------------
// Memory Monitor
// ---------------------------------------------------------------------------

// MemoryState represents the current memory pressure level.
type MemoryState int

const (
	// MemoryStateNormal - operating normally
	MemoryStateNormal MemoryState = iota

	// MemoryStateWarning - above 80% of the soft limit
	MemoryStateWarning

	// MemoryStateCritical - at or above the soft limit
	MemoryStateCritical

	// MemoryStateEmergency - within 5% of the hard limit
	MemoryStateEmergency
)

func (s MemoryState) String() string {
	switch s {
	case MemoryStateNormal:
		return "normal"
	case MemoryStateWarning:
		return "warning"
	case MemoryStateCritical:
		return "critical"
	case MemoryStateEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// MarshalText renders the state in JSON health output.
func (s MemoryState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name. Unknown names are normal.
func (s *MemoryState) UnmarshalText(b []byte) error {
	for st := MemoryStateNormal; st <= MemoryStateEmergency; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	*s = MemoryStateNormal
	return nil
}

// MemoryStats holds one heap sample.
type MemoryStats struct {
	HeapMB     float64     `json:"heapMB"`
	SysMB      float64     `json:"sysMB"`
	NumGC      uint32      `json:"numGC"`
	State      MemoryState `json:"state"`
	UsageRatio float64     `json:"usageRatio"` // of the soft limit
}

// MemoryListener is called when the state changes.
type MemoryListener func(oldState, newState MemoryState, stats MemoryStats)

// HeapReader samples the heap. The default reads runtime.MemStats.
type HeapReader func() (heapBytes, sysBytes uint64, numGC uint32)

func readRuntime() (uint64, uint64, uint32) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, ms.Sys, ms.NumGC
}

// MonitorOption configures a MemoryMonitor.
type MonitorOption func(*MemoryMonitor)

// WithClock sets the clock driving the check loop.
func WithClock(c clockwork.Clock) MonitorOption { return func(m *MemoryMonitor) { m.clock = c } }

// WithHeapReader replaces the heap sampler.
func WithHeapReader(r HeapReader) MonitorOption { return func(m *MemoryMonitor) { m.read = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) MonitorOption { return func(m *MemoryMonitor) { m.log = l } }

// MemoryMonitor samples the heap on an interval and tracks the
// pressure state.
type MemoryMonitor struct {
	config Config
	clock  clockwork.Clock
	read   HeapReader
	log    *slog.Logger

	mu        sync.RWMutex
	state     MemoryState
	stats     MemoryStats
	listeners []MemoryListener

	isCritical atomic.Bool

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewMemoryMonitor creates a monitor. Nothing is sampled until Check
// or Start.
func NewMemoryMonitor(cfg Config, opts ...MonitorOption) *MemoryMonitor {
	m := &MemoryMonitor{
		config: cfg,
		clock:  clockwork.NewRealClock(),
		read:   readRuntime,
		log:    slog.Default().With("component", "memory"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddListener adds a callback for state changes.
func (m *MemoryMonitor) AddListener(l MemoryListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Stats returns the latest sample.
func (m *MemoryMonitor) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// State returns the current pressure state.
func (m *MemoryMonitor) State() MemoryState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ShouldRejectWrites reports whether new bookings should be refused.
func (m *MemoryMonitor) ShouldRejectWrites() bool {
	return m.config.RejectWrites && m.isCritical.Load()
}

// Start samples immediately and then on every CheckInterval.
func (m *MemoryMonitor) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.Check()

	interval := m.config.CheckInterval
	if interval <= 0 {
		interval = DefaultConfig().CheckInterval
	}
	tick := m.clock.NewTicker(interval)
	go func() {
		defer close(m.done)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.Chan():
				m.Check()
			}
		}
	}()
}

// Stop halts a monitor started with Start.
func (m *MemoryMonitor) Stop() {
	if !m.running.Swap(false) {
		return
	}
	m.cancel()
	<-m.done
}

// Check takes one sample, updates the state and notifies listeners on
// a transition.
func (m *MemoryMonitor) Check() MemoryStats {
	heap, sys, numGC := m.read()
	stats := MemoryStats{
		HeapMB: float64(heap) / 1024 / 1024,
		SysMB:  float64(sys) / 1024 / 1024,
		NumGC:  numGC,
	}
	stats.State = m.classify(float64(heap))
	if m.config.SoftLimitMB > 0 {
		stats.UsageRatio = stats.HeapMB / float64(m.config.SoftLimitMB)
	}

	m.mu.Lock()
	old := m.state
	m.state = stats.State
	m.stats = stats
	listeners := make([]MemoryListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.isCritical.Store(stats.State >= MemoryStateCritical)
	metrics.HeapMB.Set(stats.HeapMB)
	metrics.MemoryPressure.Set(float64(stats.State))

	if old != stats.State {
		m.log.Warn("memory state changed", "from", old, "to", stats.State,
			"heap_mb", stats.HeapMB, "ratio", stats.UsageRatio)
		for _, l := range listeners {
			l(old, stats.State, stats)
		}
		if stats.State == MemoryStateEmergency {
			runtime.GC()
		}
	}
	return stats
}

func (m *MemoryMonitor) classify(heap float64) MemoryState {
	soft := float64(m.config.SoftLimitMB) * 1024 * 1024
	hard := float64(m.config.MemoryLimitMB) * 1024 * 1024
	switch {
	case hard > 0 && heap >= hard*0.95:
		return MemoryStateEmergency
	case soft > 0 && heap >= soft:
		return MemoryStateCritical
	case soft > 0 && heap >= soft*0.8:
		return MemoryStateWarning
	default:
		return MemoryStateNormal
	}
}
