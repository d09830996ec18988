// Package crew implements the assigned pilot's pre-departure controls.
package crew

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CharlesOkeke1/AirValora/internal/auth"
	"github.com/CharlesOkeke1/AirValora/internal/metrics"
	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

var (
	ErrNotEligible  = errors.New("flight is not open to crew action")
	ErrInvalidDelay = errors.New("delay must be a non-negative number of minutes")
)

// Window is how long before the delayed departure crew may act.
const Window = 30 * time.Minute

// Controls applies delay and cancel actions.
type Controls struct {
	store store.Store
	clock clockwork.Clock
	log   *slog.Logger
}

// New creates crew controls over s.
func New(s store.Store, c clockwork.Clock) *Controls {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Controls{store: s, clock: c, log: slog.Default().With("component", "crew")}
}

// CanAct reports whether pilot may act on f at now: the pilot is
// assigned and now lies in [delayedDep-30m, takeoffStart).
func CanAct(f models.FlightRecord, pilot string, now time.Time) bool {
	if pilot == "" || f.AssignedPilot != pilot {
		return false
	}
	tl, ok := status.TimelineOf(f.Schedule())
	if !ok {
		return false
	}
	return !now.Before(tl.Departure.Add(-Window)) && now.Before(tl.TakeoffStart)
}

// Eligible lists the flights pilot may act on now, by departure.
func (c *Controls) Eligible(ctx context.Context, pilot string) ([]models.FlightRecord, error) {
	if pilot == "" {
		return nil, auth.ErrUnauthenticated
	}
	docs, err := c.store.List(ctx, models.FlightsCollection)
	if err != nil {
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("list flights: %w", err)
	}

	now := c.clock.Now()
	var out []models.FlightRecord
	for _, d := range docs {
		var f models.FlightRecord
		if err := d.Decode(&f); err != nil {
			continue
		}
		if f.ID == "" {
			f.ID = d.Key
		}
		if CanAct(f, pilot, now) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DepartureTimestamp < out[j].DepartureTimestamp
	})
	return out, nil
}

// ApplyDelay sets the flight's delay to mins and marks it Delayed.
func (c *Controls) ApplyDelay(ctx context.Context, pilot, flightRef string, mins int) (models.FlightRecord, error) {
	if mins < 0 {
		return models.FlightRecord{}, ErrInvalidDelay
	}
	f, err := c.update(ctx, pilot, flightRef, store.Fields{
		"delayMins":      mins,
		"statusOverride": string(models.OverrideDelayed),
	})
	if err != nil {
		return f, err
	}
	c.log.Info("flight delayed", "flight", flightRef, "pilot", pilot, "delay_mins", mins)
	return f, nil
}

// Cancel marks the flight Cancelled.
func (c *Controls) Cancel(ctx context.Context, pilot, flightRef string) (models.FlightRecord, error) {
	f, err := c.update(ctx, pilot, flightRef, store.Fields{
		"statusOverride": string(models.OverrideCancelled),
	})
	if err != nil {
		return f, err
	}
	c.log.Info("flight cancelled", "flight", flightRef, "pilot", pilot)
	return f, nil
}

// update checks eligibility and merges fields in one transaction, so
// a concurrent crew action cannot slip past the window check.
func (c *Controls) update(ctx context.Context, pilot, flightRef string, fields store.Fields) (models.FlightRecord, error) {
	if pilot == "" {
		return models.FlightRecord{}, auth.ErrUnauthenticated
	}
	now := c.clock.Now()

	var out models.FlightRecord
	err := c.store.RunTx(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(models.FlightsCollection, flightRef)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotEligible
		}
		if err != nil {
			return err
		}
		var f models.FlightRecord
		if err := doc.Decode(&f); err != nil {
			return err
		}
		if !CanAct(f, pilot, now) {
			return ErrNotEligible
		}
		if err := tx.Put(models.FlightsCollection, flightRef, fields, store.Merge()); err != nil {
			return err
		}
		updated, err := tx.Get(models.FlightsCollection, flightRef)
		if err != nil {
			return err
		}
		out = models.FlightRecord{}
		return updated.Decode(&out)
	})
	if err != nil {
		return models.FlightRecord{}, err
	}
	if out.ID == "" {
		out.ID = flightRef
	}
	metrics.CrewActions.Inc()
	return out, nil
}
