package ticker

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedFlight(t *testing.T, s store.Store, f models.FlightRecord) {
	t.Helper()
	fields, err := store.Encode(f)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), models.FlightsCollection, f.ID, fields))
}

func loadFlight(t *testing.T, s store.Store, id string) models.FlightRecord {
	t.Helper()
	doc, err := s.Get(context.Background(), models.FlightsCollection, id)
	require.NoError(t, err)
	var f models.FlightRecord
	require.NoError(t, doc.Decode(&f))
	return f
}

func flight(id string, dep time.Time, mins float64) models.FlightRecord {
	return models.FlightRecord{
		ID:                 id,
		From:               "LSA",
		To:                 "CAS",
		Date:               dep.Format("2006-01-02"),
		DepartureTimestamp: models.FormatTimestamp(dep),
		DurationMins:       mins,
	}
}

func newTicker(s store.Store, clk clockwork.Clock) *Ticker {
	return New(s, WithClock(clk))
}

func TestRefreshHoldsMapFlights(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AIR", base.Add(-5*time.Minute), 10))
	seedFlight(t, s, flight("SOON", base.Add(30*time.Second), 10))
	seedFlight(t, s, flight("LATER", base.Add(2*time.Hour), 10))
	done := flight("DONE", base.Add(-8*time.Minute), 10)
	done.Landed = true
	seedFlight(t, s, done)

	tk := newTicker(s, clockwork.NewFakeClockAt(base))
	require.NoError(t, tk.Refresh(context.Background()))

	_, _, ok := tk.WorkingSet().Progress("AIR")
	assert.True(t, ok)
	_, _, ok = tk.WorkingSet().Progress("SOON")
	assert.True(t, ok, "flights entering the map before the next refresh are held")
	_, _, ok = tk.WorkingSet().Progress("LATER")
	assert.False(t, ok)
	_, _, ok = tk.WorkingSet().Progress("DONE")
	assert.False(t, ok, "landed flights are not reloaded")
}

func TestTickPersistsProgress(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base, 10))
	clk := clockwork.NewFakeClockAt(base.Add(5 * time.Minute))
	tk := newTicker(s, clk)
	require.NoError(t, tk.Refresh(context.Background()))

	stats := tk.Tick(context.Background())
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Errors)
	assert.InDelta(t, 0.5, loadFlight(t, s, "AV1").Progress, 1e-9)

	clk.Advance(time.Minute)
	tk.Tick(context.Background())
	assert.InDelta(t, 0.6, loadFlight(t, s, "AV1").Progress, 1e-9)
}

func TestTickSkipsFlightsNotYetDeparted(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base.Add(20*time.Second), 10))
	tk := newTicker(s, clockwork.NewFakeClockAt(base))
	require.NoError(t, tk.Refresh(context.Background()))

	stats := tk.Tick(context.Background())
	assert.Zero(t, stats.Updated)
	assert.Zero(t, loadFlight(t, s, "AV1").Progress)
}

func TestTickSkipsCancelledFlights(t *testing.T) {
	s := store.NewMemory()
	f := flight("AV1", base, 10)
	f.StatusOverride = models.OverrideCancelled
	seedFlight(t, s, f)
	tk := newTicker(s, clockwork.NewFakeClockAt(base.Add(10*time.Minute+5*time.Second)))
	require.NoError(t, tk.Refresh(context.Background()))
	require.Equal(t, 1, tk.WorkingSet().Len())

	tk.Tick(context.Background())
	got := loadFlight(t, s, "AV1")
	assert.False(t, got.Landed)
	assert.Zero(t, got.Progress)
}

func TestTickHonoursDelayAfterRefresh(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base.Add(40*time.Second), 0.5))
	clk := clockwork.NewFakeClockAt(base)
	tk := newTicker(s, clk)
	require.NoError(t, tk.Refresh(context.Background()))

	require.NoError(t, s.Put(context.Background(), models.FlightsCollection, "AV1", store.Fields{
		"delayMins":      30,
		"statusOverride": string(models.OverrideDelayed),
	}, store.Merge()))

	for i := 0; i < 59; i++ {
		clk.Advance(time.Second)
		assert.Zero(t, tk.Tick(context.Background()).Updated)
	}
	got := loadFlight(t, s, "AV1")
	assert.Zero(t, got.Progress)
	assert.False(t, got.Landed)

	// Halfway through the delayed flight.
	clk.Advance(base.Add(30*time.Minute + 55*time.Second).Sub(clk.Now()))
	assert.Equal(t, 1, tk.Tick(context.Background()).Updated)
	assert.InDelta(t, 0.5, loadFlight(t, s, "AV1").Progress, 1e-9)
}

func TestTickHonoursCancelAfterRefresh(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base.Add(20*time.Second), 0.5))
	clk := clockwork.NewFakeClockAt(base)
	tk := newTicker(s, clk)
	require.NoError(t, tk.Refresh(context.Background()))

	require.NoError(t, s.Put(context.Background(), models.FlightsCollection, "AV1", store.Fields{
		"statusOverride": string(models.OverrideCancelled),
	}, store.Merge()))

	for i := 0; i < 55; i++ {
		clk.Advance(time.Second)
		stats := tk.Tick(context.Background())
		assert.Zero(t, stats.Landed)
		assert.Zero(t, stats.Updated)
	}
	got := loadFlight(t, s, "AV1")
	assert.False(t, got.Landed)
	assert.Empty(t, got.LandedAt)
	assert.Zero(t, got.Progress)
}

func TestTickProgressNeverDecreases(t *testing.T) {
	s := store.NewMemory()
	f := flight("AV1", base, 10)
	f.Progress = 0.8
	seedFlight(t, s, f)
	tk := newTicker(s, clockwork.NewFakeClockAt(base.Add(5*time.Minute)))
	require.NoError(t, tk.Refresh(context.Background()))

	tk.Tick(context.Background())
	assert.InDelta(t, 0.8, loadFlight(t, s, "AV1").Progress, 1e-9)
}

func TestTickLandsFlight(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base, 10))
	clk := clockwork.NewFakeClockAt(base.Add(9 * time.Minute))
	tk := newTicker(s, clk)
	require.NoError(t, tk.Refresh(context.Background()))

	clk.Advance(time.Minute)
	stats := tk.Tick(context.Background())
	assert.Equal(t, 1, stats.Landed)

	got := loadFlight(t, s, "AV1")
	assert.True(t, got.Landed)
	assert.Equal(t, 1.0, got.Progress)
	assert.Equal(t, models.FormatTimestamp(base.Add(10*time.Minute)), got.LandedAt)
}

func TestLandingKeepsExistingStamp(t *testing.T) {
	s := store.NewMemory()
	f := flight("AV1", base, 10)
	f.LandedAt = models.FormatTimestamp(base.Add(10 * time.Minute))
	seedFlight(t, s, f)

	clk := clockwork.NewFakeClockAt(base.Add(10*time.Minute + 5*time.Second))
	first := newTicker(s, clk)
	second := newTicker(s, clk)
	require.NoError(t, first.Refresh(context.Background()))
	require.NoError(t, second.Refresh(context.Background()))

	first.Tick(context.Background())
	clk.Advance(time.Second)
	second.Tick(context.Background())

	got := loadFlight(t, s, "AV1")
	assert.True(t, got.Landed)
	assert.Equal(t, f.LandedAt, got.LandedAt)
}

func TestLandedFlightLingersThenLeaves(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base, 1))
	clk := clockwork.NewFakeClockAt(base.Add(time.Minute))
	tk := newTicker(s, clk)
	require.NoError(t, tk.Refresh(context.Background()))

	tk.Tick(context.Background())
	p, landed, ok := tk.WorkingSet().Progress("AV1")
	require.True(t, ok)
	assert.True(t, landed)
	assert.Equal(t, 1.0, p)

	clk.Advance(9 * time.Second)
	assert.Zero(t, tk.Tick(context.Background()).Evicted)
	assert.Equal(t, 1, tk.WorkingSet().Len())

	clk.Advance(time.Second)
	assert.Equal(t, 1, tk.Tick(context.Background()).Evicted)
	assert.Zero(t, tk.WorkingSet().Len())

	// Eviction is local only.
	assert.True(t, loadFlight(t, s, "AV1").Landed)
}

func TestDeletedFlightIsNotRecreated(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base, 10))
	tk := newTicker(s, clockwork.NewFakeClockAt(base.Add(time.Minute)))
	require.NoError(t, tk.Refresh(context.Background()))

	require.NoError(t, s.Delete(context.Background(), models.FlightsCollection, "AV1"))
	stats := tk.Tick(context.Background())
	assert.Zero(t, stats.Errors)
	assert.Zero(t, tk.WorkingSet().Len())

	_, err := s.Get(context.Background(), models.FlightsCollection, "AV1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunTicksOnClock(t *testing.T) {
	s := store.NewMemory()
	seedFlight(t, s, flight("AV1", base, 10))
	clk := clockwork.NewFakeClockAt(base.Add(time.Minute))
	tk := newTicker(s, clk)

	tk.Start(context.Background())
	defer tk.Stop()
	waitCtx, stopWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopWait()
	require.NoError(t, clk.BlockUntilContext(waitCtx, 2))

	require.Eventually(t, func() bool {
		clk.Advance(time.Second)
		doc, err := s.Get(context.Background(), models.FlightsCollection, "AV1")
		if err != nil {
			return false
		}
		p, _ := doc.Fields["progress"].(float64)
		return p > 0.1
	}, 2*time.Second, 10*time.Millisecond)
}
