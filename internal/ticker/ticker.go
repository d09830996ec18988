// Package ticker animates in-flight flights: once per interval it
// recomputes each held flight's progress, persists it, and persists the
// landing transition when a flight reaches its arrival time.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CharlesOkeke1/AirValora/internal/metrics"
	"github.com/CharlesOkeke1/AirValora/internal/query"
	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// Config controls the ticker cadence.
type Config struct {
	Interval time.Duration // progress pass, 1s
	Refresh  time.Duration // working set reload, 60s
	Linger   time.Duration // how long landed flights stay held, 10s
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{Interval: time.Second, Refresh: time.Minute, Linger: 10 * time.Second}
}

// TickStats summarises one pass.
type TickStats struct {
	Updated int
	Landed  int
	Evicted int
	Errors  int
}

// Ticker drives progress for the flights in its working set.
type Ticker struct {
	store  store.Store
	clock  clockwork.Clock
	config Config
	log    *slog.Logger
	set    *WorkingSet

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Ticker.
type Option func(*Ticker)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option { return func(t *Ticker) { t.clock = c } }

// WithConfig overrides the cadence. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(t *Ticker) {
		if cfg.Interval > 0 {
			t.config.Interval = cfg.Interval
		}
		if cfg.Refresh > 0 {
			t.config.Refresh = cfg.Refresh
		}
		if cfg.Linger > 0 {
			t.config.Linger = cfg.Linger
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Ticker) { t.log = l } }

// New creates a ticker over s.
func New(s store.Store, opts ...Option) *Ticker {
	t := &Ticker{
		store:  s,
		clock:  clockwork.NewRealClock(),
		config: DefaultConfig(),
		log:    slog.Default().With("component", "ticker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.set = NewWorkingSet(t.config.Linger)
	return t
}

// WorkingSet exposes the local flight set.
func (t *Ticker) WorkingSet() *WorkingSet { return t.set }

// Refresh reloads the working set from the store. It holds every flight
// visible on the map now, plus those that enter the map before the next
// refresh so their first ticks are not lost.
func (t *Ticker) Refresh(ctx context.Context) error {
	docs, err := t.store.List(ctx, models.FlightsCollection)
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("list flights: %w", err)
	}

	flights := make([]models.FlightRecord, 0, len(docs))
	for _, d := range docs {
		var f models.FlightRecord
		if err := d.Decode(&f); err != nil {
			t.log.Warn("skipping undecodable flight", "key", d.Key, "error", err)
			continue
		}
		if f.ID == "" {
			f.ID = d.Key
		}
		flights = append(flights, f)
	}

	now := t.clock.Now()
	live := query.Live(query.MapView, flights, now)
	seen := make(map[string]bool, len(live))
	for _, f := range live {
		seen[f.ID] = true
	}
	for _, f := range query.Live(query.MapView, flights, now.Add(t.config.Refresh)) {
		if !seen[f.ID] {
			live = append(live, f)
		}
	}

	t.set.Sync(live, now)
	evicted := t.set.Expire(now)
	metrics.WorkingSetSize.Set(float64(t.set.Len()))
	t.log.Debug("working set refreshed", "flights", t.set.Len(), "evicted", len(evicted))
	return nil
}

// Tick runs one progress pass over the working set. A failing flight is
// logged and skipped; the rest of the pass continues.
func (t *Ticker) Tick(ctx context.Context) TickStats {
	start := time.Now()
	defer metrics.TickLatency.Since(start)
	metrics.TickerTicks.Inc()

	var stats TickStats
	now := t.clock.Now()

	for _, e := range t.set.snapshot() {
		if ctx.Err() != nil {
			break
		}
		if e.landed {
			continue
		}
		out, err := t.step(ctx, e.flight.ID, now)
		if err != nil {
			stats.Errors++
			metrics.StoreErrors.Inc()
			t.log.Warn("tick failed", "flight", e.flight.ID, "error", err)
			continue
		}
		switch out {
		case advanced:
			stats.Updated++
		case touchdown:
			stats.Landed++
		}
	}

	stats.Evicted = len(t.set.Expire(now))
	metrics.WorkingSetSize.Set(float64(t.set.Len()))
	return stats
}

// outcome is what one step did to a flight.
type outcome int

const (
	idle outcome = iota
	advanced
	touchdown
	landedBefore
	unscheduled
)

// step moves one flight forward from its stored record. Delay, override
// and landing state are read inside the transaction, so crew changes
// made since the last refresh apply on the next pass. Stored progress
// never decreases, a landedAt already present is kept, and a flight
// deleted from the store is dropped rather than recreated.
func (t *Ticker) step(ctx context.Context, id string, now time.Time) (outcome, error) {
	var (
		stored models.FlightRecord
		out    outcome
		p      float64
	)
	err := t.store.RunTx(ctx, func(tx store.Tx) error {
		out, p = idle, 0
		doc, err := tx.Get(models.FlightsCollection, id)
		if err != nil {
			return err
		}
		stored = models.FlightRecord{}
		if err := doc.Decode(&stored); err != nil {
			return err
		}
		if stored.Landed {
			out = landedBefore
			return nil
		}
		if stored.StatusOverride == models.OverrideCancelled {
			return nil
		}
		sched := stored.Schedule()
		dep, ok := sched.DelayedDeparture()
		if !ok {
			out = unscheduled
			return nil
		}
		if now.Before(dep) {
			return nil
		}

		p, _ = status.Progress(sched, now)
		if p >= 1 {
			landedAt := stored.LandedAt
			if landedAt == "" {
				landedAt = models.FormatTimestamp(now)
			}
			out = touchdown
			return tx.Put(models.FlightsCollection, id, store.Fields{
				"landed":   true,
				"progress": 1,
				"landedAt": landedAt,
			}, store.Merge())
		}
		if stored.Progress > p {
			p = stored.Progress
		}
		out = advanced
		return tx.Put(models.FlightsCollection, id, store.Fields{"progress": p}, store.Merge())
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		t.set.Remove(id)
		return idle, nil
	case err != nil:
		return idle, fmt.Errorf("step flight: %w", err)
	}

	if stored.ID == "" {
		stored.ID = id
	}
	t.set.update(stored)

	switch out {
	case landedBefore:
		t.set.markLanded(id, now)
	case unscheduled:
		t.set.Remove(id)
	case touchdown:
		t.set.markLanded(id, now)
		metrics.Landings.Inc()
		t.log.Info("flight landed", "flight", id)
	case advanced:
		t.set.setProgress(id, p)
		metrics.ProgressWrites.Inc()
	}
	return out, nil
}

// Start runs the ticker in the background until Stop or ctx ends.
func (t *Ticker) Start(ctx context.Context) {
	if t.running.Swap(true) {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		t.Run(ctx)
	}()
	t.log.Info("progress ticker started", "interval", t.config.Interval, "refresh", t.config.Refresh)
}

// Stop halts a ticker started with Start and waits for it to exit.
func (t *Ticker) Stop() {
	if !t.running.Swap(false) {
		return
	}
	t.cancel()
	<-t.done
}

// Run loads the working set and ticks until ctx is done.
func (t *Ticker) Run(ctx context.Context) {
	if err := t.Refresh(ctx); err != nil {
		t.log.Error("initial refresh failed", "error", err)
	}

	tick := t.clock.NewTicker(t.config.Interval)
	defer tick.Stop()
	refresh := t.clock.NewTicker(t.config.Refresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			t.Tick(ctx)
		case <-refresh.Chan():
			if err := t.Refresh(ctx); err != nil {
				t.log.Error("refresh failed", "error", err)
			}
		}
	}
}
