package query

import (
	"errors"
	"sort"
	"time"

	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// BookingCutoff closes sales this long before the scheduled departure.
const BookingCutoff = 20 * time.Minute

var (
	// ErrNoRoute means no flight at all serves the requested route.
	ErrNoRoute = errors.New("no flight found for the selected route")
	// ErrNoDate means the route exists but not on the requested date.
	ErrNoDate = errors.New("no flight available on this date")
	// ErrBookingClosed means every matching flight is landed or too close to departure.
	ErrBookingClosed = errors.New("no upcoming flights available")
)

// SearchRequest selects flights by route and calendar date.
type SearchRequest struct {
	From string
	To   string
	Date string
}

// Search returns the bookable flights for req, earliest departure first.
func Search(flights []models.FlightRecord, req SearchRequest, now time.Time) ([]models.FlightRecord, error) {
	var routeExists bool
	var onDate []models.FlightRecord
	for _, f := range flights {
		if f.From != req.From || f.To != req.To {
			continue
		}
		routeExists = true
		if f.Date == req.Date {
			onDate = append(onDate, f)
		}
	}
	if !routeExists {
		return nil, ErrNoRoute
	}
	if len(onDate) == 0 {
		return nil, ErrNoDate
	}

	var out []models.FlightRecord
	for _, f := range onDate {
		if Bookable(f, now) {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, ErrBookingClosed
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DepartureTimestamp < out[j].DepartureTimestamp
	})
	return out, nil
}

// Bookable reports whether seats on f can still be sold at now.
func Bookable(f models.FlightRecord, now time.Time) bool {
	if f.Landed || f.StatusOverride == models.OverrideCancelled {
		return false
	}
	dep, ok := f.Schedule().ScheduledDeparture()
	if !ok {
		return false
	}
	return dep.Sub(now) > BookingCutoff
}

// SeatsLeft is capacity minus the taken seats, never negative.
func SeatsLeft(f models.FlightRecord, capacity int) int {
	left := capacity - len(f.TakenSeats)
	if left < 0 {
		return 0
	}
	return left
}

// ---------------------------------------------------------------------------
// Map positions
// ---------------------------------------------------------------------------

// Point is a map coordinate in percent of the map's width and height.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Airports are the map coordinates of the served airports.
var Airports = map[string]Point{
	"LSA": {X: 34, Y: 89},
	"CAS": {X: 63, Y: 66.5},
	"SAN": {X: 60.5, Y: 43.2},
	"MCK": {X: 68, Y: 25},
	"FCD": {X: 27, Y: 39},
}

// MapFlight is a map-view entry with its animation state.
type MapFlight struct {
	models.FlightRecord
	Status   status.Result `json:"state"`
	Position *Point        `json:"position,omitempty"`
}

// Position interpolates along the straight route from origin to
// destination. ok is false for an unknown airport.
func Position(from, to string, progress float64) (Point, bool) {
	a, ok1 := Airports[from]
	b, ok2 := Airports[to]
	if !ok1 || !ok2 {
		return Point{}, false
	}
	return Point{
		X: a.X + (b.X-a.X)*progress,
		Y: a.Y + (b.Y-a.Y)*progress,
	}, true
}

// MapSet builds the map view with positions derived from the current
// progress of each flight.
func MapSet(flights []models.FlightRecord, now time.Time) []MapFlight {
	live := Live(MapView, flights, now)
	out := make([]MapFlight, 0, len(live))
	for _, f := range live {
		s := f.Schedule()
		if p, ok := status.Progress(s, now); ok && p > f.Progress {
			f.Progress = p
		}
		mf := MapFlight{FlightRecord: f, Status: status.Resolve(s, now)}
		if pos, ok := Position(f.From, f.To, f.Progress); ok {
			mf.Position = &pos
		}
		out = append(out, mf)
	}
	return out
}
