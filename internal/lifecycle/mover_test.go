package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharlesOkeke1/AirValora/internal/metrics"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const uid = "user-1"

func ts(t time.Time) *string {
	s := models.FormatTimestamp(t)
	return &s
}

// landedReservation departed 30 minutes ago on a 10 minute flight.
func landedReservation(id string, landedAt *string, awarded bool) models.Reservation {
	return models.Reservation{
		ID:                 id,
		FlightReference:    "AV" + id,
		From:               "LSA",
		To:                 "SAN",
		PassengerName:      "Ada Lovelace",
		Seat:               "3A",
		Price:              120,
		Distance:           300,
		BookedAt:           models.FormatTimestamp(now.Add(-2 * time.Hour)),
		DepartureTimestamp: models.FormatTimestamp(now.Add(-30 * time.Minute)),
		DurationMins:       10,
		LandedAt:           landedAt,
		AVMilesAwarded:     awarded,
	}
}

func seed(t *testing.T, s store.Store, collection, key string, v any) {
	t.Helper()
	fields, err := store.Encode(v)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), collection, key, fields))
}

func seedUser(t *testing.T, s store.Store, id string) {
	seed(t, s, models.UsersCollection, id, models.User{UID: id})
}

func seedReservation(t *testing.T, s store.Store, r models.Reservation) {
	seed(t, s, models.BookingsCollection(uid), r.ID, r)
}

func balance(t *testing.T, s store.Store, id string) int {
	t.Helper()
	doc, err := s.Get(context.Background(), models.UsersCollection, id)
	require.NoError(t, err)
	var u models.User
	require.NoError(t, doc.Decode(&u))
	return u.AVMiles
}

func reservation(t *testing.T, s store.Store, collection, id string) (models.Reservation, bool) {
	t.Helper()
	doc, err := s.Get(context.Background(), collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.Reservation{}, false
	}
	require.NoError(t, err)
	var r models.Reservation
	require.NoError(t, doc.Decode(&r))
	return r, true
}

func newMover(s store.Store) *Mover {
	return New(s, WithClock(clockwork.NewFakeClockAt(now)))
}

func TestAwardOnce(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	seedReservation(t, s, landedReservation("B1", ts(now.Add(-12*time.Minute)), false))
	m := newMover(s)

	stats, err := m.Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Awarded)
	assert.Equal(t, 300, stats.Miles)
	assert.Zero(t, stats.Archived)
	assert.Equal(t, 300, balance(t, s, uid))

	r, ok := reservation(t, s, models.BookingsCollection(uid), "B1")
	require.True(t, ok)
	assert.True(t, r.AVMilesAwarded)

	doc, err := s.Get(context.Background(), models.LedgerCollection(uid), "B1")
	require.NoError(t, err)
	var entry models.LedgerEntry
	require.NoError(t, doc.Decode(&entry))
	assert.Equal(t, 300, entry.Miles)
	assert.NotEmpty(t, entry.ReceiptID)

	stats, err = m.Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Zero(t, stats.Awarded)
	assert.Equal(t, 300, balance(t, s, uid))
}

func TestArchiveAfterGrace(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	seedReservation(t, s, landedReservation("B1", ts(now.Add(-25*time.Minute)), true))
	before, err := s.Get(context.Background(), models.BookingsCollection(uid), "B1")
	require.NoError(t, err)

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)

	_, ok := reservation(t, s, models.BookingsCollection(uid), "B1")
	assert.False(t, ok)
	after, err := s.Get(context.Background(), models.PastFlightsCollection(uid), "B1")
	require.NoError(t, err)
	assert.Equal(t, before.Fields, after.Fields)
}

func TestArchiveWaitsForAward(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	seedReservation(t, s, landedReservation("B1", ts(now.Add(-25*time.Minute)), false))

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Awarded)
	assert.Equal(t, 1, stats.Archived)
	assert.Equal(t, 300, balance(t, s, uid))

	past, ok := reservation(t, s, models.PastFlightsCollection(uid), "B1")
	require.True(t, ok)
	assert.True(t, past.AVMilesAwarded)
}

func TestStampLanding(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	seedReservation(t, s, landedReservation("B1", nil, false))
	clk := clockwork.NewFakeClockAt(now)
	m := New(s, WithClock(clk))

	stats, err := m.Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stamped)
	assert.Zero(t, stats.Awarded)

	r, _ := reservation(t, s, models.BookingsCollection(uid), "B1")
	require.NotNil(t, r.LandedAt)
	assert.Equal(t, models.FormatTimestamp(now), *r.LandedAt)

	clk.Advance(time.Minute)
	stats, err = m.Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Zero(t, stats.Stamped)
	r, _ = reservation(t, s, models.BookingsCollection(uid), "B1")
	assert.Equal(t, models.FormatTimestamp(now), *r.LandedAt)
}

// staleListing serves reservations as they were before another sweep
// stamped them.
type staleListing struct {
	store.Store
}

func (s staleListing) List(ctx context.Context, collection string) ([]store.Document, error) {
	docs, err := s.Store.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]store.Document, 0, len(docs))
	for _, d := range docs {
		fields := make(store.Fields, len(d.Fields))
		for k, v := range d.Fields {
			fields[k] = v
		}
		fields["landedAt"] = nil
		d.Fields = fields
		out = append(out, d)
	}
	return out, nil
}

func TestStampCountsOnlyWrites(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	stamped := ts(now.Add(-time.Minute))
	seedReservation(t, s, landedReservation("B1", stamped, false))

	before := metrics.LandingStamps.Value()
	stats, err := newMover(staleListing{s}).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Zero(t, stats.Stamped)
	assert.Equal(t, before, metrics.LandingStamps.Value())

	r, _ := reservation(t, s, models.BookingsCollection(uid), "B1")
	require.NotNil(t, r.LandedAt)
	assert.Equal(t, *stamped, *r.LandedAt)
}

func TestArchiveReleasesBookingMarker(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	r := landedReservation("B1", ts(now.Add(-25*time.Minute)), true)
	seedReservation(t, s, r)
	require.NoError(t, s.Put(context.Background(), models.BookedFlightsCollection(uid), r.FlightReference,
		store.Fields{"bookingId": "B1"}))
	require.NoError(t, s.Put(context.Background(), models.BookedFlightsCollection(uid), "AVOTHER",
		store.Fields{"bookingId": "B2"}))

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)

	_, err = s.Get(context.Background(), models.BookedFlightsCollection(uid), r.FlightReference)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(context.Background(), models.BookedFlightsCollection(uid), "AVOTHER")
	assert.NoError(t, err, "markers of other reservations stay")
}

func TestNotLandedIsUntouched(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	r := landedReservation("B1", nil, false)
	r.DepartureTimestamp = models.FormatTimestamp(now.Add(-5 * time.Minute))
	seedReservation(t, s, r)

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Users: 1}, stats)
}

func TestLiveFlightDelayWins(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	r := landedReservation("B1", nil, false)
	seedReservation(t, s, r)
	seed(t, s, models.FlightsCollection, r.FlightReference, models.FlightRecord{
		ID:                 r.FlightReference,
		DepartureTimestamp: r.DepartureTimestamp,
		DurationMins:       10,
		DelayMins:          30,
	})

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Zero(t, stats.Stamped, "the flight is still airborne after its delay")
}

func TestCancelledFlightNeverLands(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	r := landedReservation("B1", nil, false)
	seedReservation(t, s, r)
	seed(t, s, models.FlightsCollection, r.FlightReference, models.FlightRecord{
		ID:                 r.FlightReference,
		DepartureTimestamp: r.DepartureTimestamp,
		DurationMins:       10,
		StatusOverride:     models.OverrideCancelled,
	})

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Zero(t, stats.Stamped)
}

func TestLandedFlightOverridesDelayedStatus(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	r := landedReservation("B1", nil, false)
	seedReservation(t, s, r)
	seed(t, s, models.FlightsCollection, r.FlightReference, models.FlightRecord{
		ID:                 r.FlightReference,
		DepartureTimestamp: r.DepartureTimestamp,
		DurationMins:       10,
		StatusOverride:     models.OverrideDelayed,
		Landed:             true,
		Progress:           1,
	})

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stamped)
}

func TestMissingUserIsNoop(t *testing.T) {
	s := store.NewMemory()
	m := newMover(s)

	stats, err := m.Sweep(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, stats)

	stats, err = m.Sweep(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Users: 1}, stats)
}

func TestBadRecordIsIsolated(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	require.NoError(t, s.Put(context.Background(), models.BookingsCollection(uid), "A0",
		store.Fields{"distance": "far"}))
	seedReservation(t, s, landedReservation("B1", ts(now.Add(-12*time.Minute)), false))

	stats, err := newMover(s).Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Awarded)
	assert.Equal(t, 300, balance(t, s, uid))
}

// flakyStore fails the first n transactions.
type flakyStore struct {
	store.Store
	failures atomic.Int32
}

func (f *flakyStore) RunTx(ctx context.Context, fn func(store.Tx) error) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Store.RunTx(ctx, fn)
}

func TestAwardRetryAfterFailure(t *testing.T) {
	mem := store.NewMemory()
	seedUser(t, mem, uid)
	seedReservation(t, mem, landedReservation("B1", ts(now.Add(-12*time.Minute)), false))
	s := &flakyStore{Store: mem}
	s.failures.Store(1)
	m := newMover(s)

	stats, err := m.Sweep(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Zero(t, balance(t, mem, uid))

	for range 3 {
		_, err = m.Sweep(context.Background(), uid)
		require.NoError(t, err)
	}
	assert.Equal(t, 300, balance(t, mem, uid))
}

func TestSweepAll(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	seedUser(t, s, "user-2")
	seedReservation(t, s, landedReservation("B1", ts(now.Add(-12*time.Minute)), false))
	r := landedReservation("B2", ts(now.Add(-12*time.Minute)), false)
	r.Distance = 450
	seed(t, s, models.BookingsCollection("user-2"), r.ID, r)

	stats, err := newMover(s).SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 2, stats.Awarded)
	assert.Equal(t, 750, stats.Miles)
	assert.Equal(t, 300, balance(t, s, uid))
	assert.Equal(t, 450, balance(t, s, "user-2"))
}

func TestRunSweepsOnStart(t *testing.T) {
	s := store.NewMemory()
	seedUser(t, s, uid)
	seedReservation(t, s, landedReservation("B1", ts(now.Add(-12*time.Minute)), false))
	clk := clockwork.NewFakeClockAt(now)
	m := New(s, WithClock(clk), WithInterval(time.Minute))

	m.Start(context.Background())
	defer m.Stop()
	waitCtx, stopWait := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopWait()
	require.NoError(t, clk.BlockUntilContext(waitCtx, 1))

	assert.Eventually(t, func() bool {
		doc, err := s.Get(context.Background(), models.UsersCollection, uid)
		if err != nil {
			return false
		}
		miles, _ := doc.Fields["AVMiles"].(float64)
		return miles == 300
	}, 2*time.Second, 10*time.Millisecond)
}
