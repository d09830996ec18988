// Package lifecycle moves reservations through their post-flight life:
// it stamps the landing time, awards loyalty miles once, and archives
// the reservation into the user's past flights.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/CharlesOkeke1/AirValora/internal/metrics"
	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

const (
	// AwardAfter is how long after landing miles are credited.
	AwardAfter = 10 * time.Minute
	// ArchiveAfter is how long after landing a reservation is archived.
	ArchiveAfter = 20 * time.Minute
)

// SweepStats counts what one sweep changed.
type SweepStats struct {
	Users    int
	Stamped  int
	Awarded  int
	Miles    int
	Archived int
	Errors   int
}

func (s *SweepStats) add(o SweepStats) {
	s.Users += o.Users
	s.Stamped += o.Stamped
	s.Awarded += o.Awarded
	s.Miles += o.Miles
	s.Archived += o.Archived
	s.Errors += o.Errors
}

// Mover runs the reservation lifecycle. Every step is idempotent, so
// sweeps may overlap freely, within one process or across many.
type Mover struct {
	store    store.Store
	clock    clockwork.Clock
	interval time.Duration
	log      *slog.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Mover.
type Option func(*Mover)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option { return func(m *Mover) { m.clock = c } }

// WithInterval sets the background sweep cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Mover) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Mover) { m.log = l } }

// New creates a mover over s.
func New(s store.Store, opts ...Option) *Mover {
	m := &Mover{
		store:    s,
		clock:    clockwork.NewRealClock(),
		interval: time.Minute,
		log:      slog.Default().With("component", "mover"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sweep processes every active reservation of uid. An empty uid is a
// no-op. A failing reservation is logged and skipped; the error return
// is reserved for failing to list the reservations at all.
func (m *Mover) Sweep(ctx context.Context, uid string) (SweepStats, error) {
	var stats SweepStats
	if uid == "" {
		return stats, nil
	}

	start := time.Now()
	defer metrics.SweepLatency.Since(start)
	metrics.MoverSweeps.Inc()

	docs, err := m.store.List(ctx, models.BookingsCollection(uid))
	if err != nil {
		metrics.StoreErrors.Inc()
		return stats, fmt.Errorf("list reservations of %s: %w", uid, err)
	}
	stats.Users = 1

	now := m.clock.Now()
	for _, doc := range docs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		var r models.Reservation
		if err := doc.Decode(&r); err != nil {
			stats.Errors++
			m.log.Warn("skipping undecodable reservation", "uid", uid, "key", doc.Key, "error", err)
			continue
		}
		r.ID = doc.Key
		if err := m.process(ctx, uid, r, now, &stats); err != nil {
			stats.Errors++
			metrics.StoreErrors.Inc()
			m.log.Warn("reservation step failed", "uid", uid, "booking", r.ID, "error", err)
		}
	}
	return stats, nil
}

// SweepAll sweeps every user in the store.
func (m *Mover) SweepAll(ctx context.Context) (SweepStats, error) {
	var total SweepStats
	users, err := m.store.List(ctx, models.UsersCollection)
	if err != nil {
		metrics.StoreErrors.Inc()
		return total, fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		stats, err := m.Sweep(ctx, u.Key)
		total.add(stats)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			total.Errors++
			m.log.Warn("sweep failed", "uid", u.Key, "error", err)
		}
	}
	return total, nil
}

func (m *Mover) process(ctx context.Context, uid string, r models.Reservation, now time.Time, stats *SweepStats) error {
	if !m.landed(ctx, r, now) {
		return nil
	}

	landedAt, ok := r.LandedTime()
	if !ok {
		stamped, wrote, err := m.stamp(ctx, uid, r.ID, now)
		if err != nil {
			return err
		}
		if wrote {
			stats.Stamped++
		}
		landedAt = stamped
	}
	elapsed := now.Sub(landedAt)

	awarded := r.AVMilesAwarded
	if !awarded && elapsed >= AwardAfter {
		miles, err := m.award(ctx, uid, r.ID, now)
		if err != nil {
			return err
		}
		if miles >= 0 {
			stats.Awarded++
			stats.Miles += miles
		}
		awarded = true
	}

	// Archiving before the award would strand the miles: archived
	// reservations are never revisited.
	if awarded && elapsed >= ArchiveAfter {
		if err := m.archive(ctx, uid, r.ID); err != nil {
			return err
		}
		stats.Archived++
	}
	return nil
}

// landed resolves the reservation's status, preferring the live delay
// and override of the booked flight. A flight the ticker has landed
// counts as landed even under a Delayed override.
func (m *Mover) landed(ctx context.Context, r models.Reservation, now time.Time) bool {
	s := r.Schedule()
	if r.FlightReference != "" {
		doc, err := m.store.Get(ctx, models.FlightsCollection, r.FlightReference)
		switch {
		case err == nil:
			var f models.FlightRecord
			if err := doc.Decode(&f); err == nil {
				if f.Landed && f.StatusOverride != models.OverrideCancelled {
					return true
				}
				s.DelayMins = f.DelayMins
				s.Override = f.StatusOverride
			}
		case !errors.Is(err, store.ErrNotFound):
			m.log.Debug("flight lookup failed, using booked timing", "flight", r.FlightReference, "error", err)
		}
	}
	return status.Resolve(s, now).Status == status.Landed
}

// stamp sets landedAt unless another sweep already did. It returns the
// value that ends up stored and whether this call wrote it.
func (m *Mover) stamp(ctx context.Context, uid, id string, now time.Time) (time.Time, bool, error) {
	landedAt := now
	wrote := false
	err := m.store.RunTx(ctx, func(tx store.Tx) error {
		landedAt, wrote = now, false
		doc, err := tx.Get(models.BookingsCollection(uid), id)
		if err != nil {
			return err
		}
		var cur models.Reservation
		if err := doc.Decode(&cur); err != nil {
			return err
		}
		if t, ok := cur.LandedTime(); ok {
			landedAt = t
			return nil
		}
		wrote = true
		return tx.Put(models.BookingsCollection(uid), id,
			store.Fields{"landedAt": models.FormatTimestamp(now)}, store.Merge())
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stamp landing: %w", err)
	}
	if wrote {
		metrics.LandingStamps.Inc()
	}
	return landedAt, wrote, nil
}

// award credits the reservation's distance to the user. The balance,
// the flag and the ledger entry commit together, and the flag is
// re-read inside the transaction. It returns -1 when the award had
// already been made.
func (m *Mover) award(ctx context.Context, uid, id string, now time.Time) (int, error) {
	receipt := uuid.NewString()
	miles := -1
	err := m.store.RunTx(ctx, func(tx store.Tx) error {
		miles = -1
		doc, err := tx.Get(models.BookingsCollection(uid), id)
		if err != nil {
			return err
		}
		var cur models.Reservation
		if err := doc.Decode(&cur); err != nil {
			return err
		}
		if cur.AVMilesAwarded {
			return nil
		}

		if err := tx.Increment(models.UsersCollection, uid, "AVMiles", float64(cur.Distance)); err != nil {
			return err
		}
		if err := tx.Put(models.BookingsCollection(uid), id,
			store.Fields{"avMilesAwarded": true}, store.Merge()); err != nil {
			return err
		}
		entry, err := store.Encode(models.LedgerEntry{
			ReceiptID: receipt,
			BookingID: id,
			Miles:     cur.Distance,
			AwardedAt: models.FormatTimestamp(now),
		})
		if err != nil {
			return err
		}
		if err := tx.Put(models.LedgerCollection(uid), id, entry); err != nil {
			return err
		}
		miles = cur.Distance
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("award miles: %w", err)
	}
	if miles >= 0 {
		metrics.Awards.Inc()
		metrics.MilesAwarded.Add(int64(miles))
		m.log.Info("miles awarded", "uid", uid, "booking", id, "miles", miles, "receipt", receipt)
	}
	return miles, nil
}

// archive copies the reservation into past flights and removes it from
// the active collection in one transaction. The user's marker for the
// flight goes with it when it belongs to this reservation.
func (m *Mover) archive(ctx context.Context, uid, id string) error {
	err := m.store.RunTx(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(models.BookingsCollection(uid), id)
		if err != nil {
			return err
		}
		if err := tx.Put(models.PastFlightsCollection(uid), id, doc.Fields, store.Merge()); err != nil {
			return err
		}
		if err := tx.Delete(models.BookingsCollection(uid), id); err != nil {
			return err
		}

		ref, _ := doc.Fields["flightReference"].(string)
		if ref == "" {
			return nil
		}
		marker, err := tx.Get(models.BookedFlightsCollection(uid), ref)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil
		case err != nil:
			return err
		}
		if owner, _ := marker.Fields["bookingId"].(string); owner != id {
			return nil
		}
		return tx.Delete(models.BookedFlightsCollection(uid), ref)
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive reservation: %w", err)
	}
	metrics.Archived.Inc()
	m.log.Info("reservation archived", "uid", uid, "booking", id)
	return nil
}

// Start sweeps every user in the background until Stop or ctx ends.
func (m *Mover) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.Run(ctx)
	}()
	m.log.Info("lifecycle mover started", "interval", m.interval)
}

// Stop halts a mover started with Start and waits for it to exit.
func (m *Mover) Stop() {
	if !m.running.Swap(false) {
		return
	}
	m.cancel()
	<-m.done
}

// Run sweeps all users immediately and then on every interval.
func (m *Mover) Run(ctx context.Context) {
	t := m.clock.NewTicker(m.interval)
	defer t.Stop()

	for {
		m.sweepLogged(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
		}
	}
}

func (m *Mover) sweepLogged(ctx context.Context) {
	stats, err := m.SweepAll(ctx)
	if err != nil && ctx.Err() == nil {
		m.log.Error("sweep failed", "error", err)
		return
	}
	if stats.Stamped+stats.Awarded+stats.Archived+stats.Errors > 0 {
		m.log.Info("sweep complete",
			"users", stats.Users,
			"stamped", stats.Stamped,
			"awarded", stats.Awarded,
			"archived", stats.Archived,
			"errors", stats.Errors,
		)
	}
}
