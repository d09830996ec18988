package query

import (
	"time"

	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// ---------------------------------------------------------------------------
// Time Range
// ---------------------------------------------------------------------------

// TimeRange is a half-open window [Start, End). A zero bound is open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains checks if a timestamp falls within the range.
func (tr TimeRange) Contains(t time.Time) bool {
	if !tr.Start.IsZero() && t.Before(tr.Start) {
		return false
	}
	if !tr.End.IsZero() && !t.Before(tr.End) {
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// View selects one of the live-set visibility windows.
type View uint8

const (
	ListView View = iota
	MapView
	DailyBoard
	viewCount
)

var viewNames = [viewCount]string{
	ListView:   "list",
	MapView:    "map",
	DailyBoard: "board",
}

func (v View) String() string {
	if v < viewCount {
		return viewNames[v]
	}
	return "unknown"
}

// ParseView converts a name like "map" to its View.
func ParseView(s string) (View, bool) {
	for i, name := range viewNames {
		if name == s {
			return View(i), true
		}
	}
	return 0, false
}

// Window offsets relative to the delayed departure and the arrival
// (delayed departure + duration).
const (
	ListLead  = 10 * time.Minute
	ListTail  = 10 * time.Minute
	MapTail   = 15 * time.Second
	BoardTail = 20 * time.Minute
)

const dateLayout = "2006-01-02"

// Window returns the visibility window of s in view v. ok is false when
// the departure is unknown.
func Window(v View, s models.Schedule) (TimeRange, bool) {
	tl, ok := status.TimelineOf(s)
	if !ok {
		return TimeRange{}, false
	}
	switch v {
	case ListView:
		return TimeRange{Start: tl.Departure.Add(-ListLead), End: tl.Arrival.Add(ListTail)}, true
	case MapView:
		return TimeRange{Start: tl.Departure, End: tl.Arrival.Add(MapTail)}, true
	case DailyBoard:
		return TimeRange{End: tl.Arrival.Add(BoardTail)}, true
	}
	return TimeRange{}, false
}

// Visible reports whether s belongs to view v at now.
func Visible(v View, s models.Schedule, now time.Time) bool {
	w, ok := Window(v, s)
	if !ok {
		return false
	}
	if v == DailyBoard && boardDate(s) != now.UTC().Format(dateLayout) {
		return false
	}
	return w.Contains(now)
}

// InList is the list-view predicate.
func InList(s models.Schedule, now time.Time) bool { return Visible(ListView, s, now) }

// InMap is the map-view predicate.
func InMap(s models.Schedule, now time.Time) bool { return Visible(MapView, s, now) }

// OnBoard is the daily-board predicate.
func OnBoard(s models.Schedule, now time.Time) bool { return Visible(DailyBoard, s, now) }

// boardDate is the calendar date a flight is listed under. Records
// without a date fall back to the UTC date of the scheduled departure.
func boardDate(s models.Schedule) string {
	if s.Date != "" {
		return s.Date
	}
	if dep, ok := s.ScheduledDeparture(); ok {
		return dep.Format(dateLayout)
	}
	return ""
}

// Filter keeps the flights visible in view v at now. Order is preserved.
func Filter(v View, flights []models.FlightRecord, now time.Time) []models.FlightRecord {
	out := make([]models.FlightRecord, 0, len(flights))
	for _, f := range flights {
		if Visible(v, f.Schedule(), now) {
			out = append(out, f)
		}
	}
	return out
}

// Live is the source for the home screen: landed records are dropped
// before the view filter for the list and map; the board keeps them.
func Live(v View, flights []models.FlightRecord, now time.Time) []models.FlightRecord {
	if v == DailyBoard {
		return Filter(v, flights, now)
	}
	active := make([]models.FlightRecord, 0, len(flights))
	for _, f := range flights {
		if !f.Landed {
			active = append(active, f)
		}
	}
	return Filter(v, active, now)
}
