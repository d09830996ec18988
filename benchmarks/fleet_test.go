package benchmarks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CharlesOkeke1/AirValora/internal/query"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

var base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

var routes = [][2]string{
	{"LSA", "CAS"}, {"FCD", "SAN"}, {"LSA", "SAN"}, {"SAN", "FCD"}, {"FCD", "LSA"},
	{"SAN", "MCK"}, {"SAN", "LSA"}, {"FCD", "MCK"}, {"MCK", "FCD"}, {"CAS", "FCD"},
}

// fleetFlight is flight i of a fleet: departures every 30 seconds from
// base, 20 to 49 minutes long.
func fleetFlight(i int) models.FlightRecord {
	r := routes[i%len(routes)]
	return models.FlightRecord{
		ID:                 fmt.Sprintf("AV%05d", i),
		From:               r[0],
		To:                 r[1],
		Date:               base.Format("2006-01-02"),
		DepartureTimestamp: models.FormatTimestamp(base.Add(time.Duration(i) * 30 * time.Second)),
		DurationMins:       float64(20 + i%30),
		Aircraft:           "A220",
		TakenSeats:         []string{},
	}
}

// populate writes n fleet flights into a fresh memory store.
func populate(n int) (*store.Memory, []models.FlightRecord) {
	s := store.NewMemory()
	flights := make([]models.FlightRecord, n)
	for i := range flights {
		flights[i] = fleetFlight(i)
		fields, err := store.Encode(flights[i])
		if err != nil {
			panic(err)
		}
		if err := s.Put(context.Background(), models.FlightsCollection, flights[i].ID, fields); err != nil {
			panic(err)
		}
	}
	return s, flights
}

// listFlights is the read path every board request takes.
func listFlights(ctx context.Context, s store.Store) ([]models.FlightRecord, error) {
	docs, err := s.List(ctx, models.FlightsCollection)
	if err != nil {
		return nil, err
	}
	out := make([]models.FlightRecord, 0, len(docs))
	for _, d := range docs {
		var f models.FlightRecord
		if err := d.Decode(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Latency recorder
// ---------------------------------------------------------------------------

// latencies collects request timings from concurrent workers.
type latencies struct {
	mu  sync.Mutex
	all []time.Duration
}

func (l *latencies) record(d time.Duration) {
	l.mu.Lock()
	l.all = append(l.all, d)
	l.mu.Unlock()
}

// LatencyStats summarises a run.
type LatencyStats struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

func (l *latencies) stats() LatencyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.all) == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(l.all))
	copy(sorted, l.all)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return LatencyStats{
		Count: len(sorted),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Max:   sorted[len(sorted)-1],
	}
}

var views = []query.View{query.ListView, query.MapView, query.DailyBoard}
