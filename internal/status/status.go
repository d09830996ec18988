// Package status derives a flight's discrete phase, display color and
// continuous progress from its schedule and the current time. Every
// function here is pure.
package status

import (
	"time"

	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// ---------------------------------------------------------------------------
// Status
// ---------------------------------------------------------------------------

// Status is the discrete phase shown for a flight.
type Status uint8

const (
	None Status = iota
	Boarding
	TakingOff
	MidAir
	Landed
	Delayed
	Cancelled
	statusCount // must be last
)

var statusNames = [statusCount]string{
	None:      "--",
	Boarding:  "Boarding",
	TakingOff: "Taking Off",
	MidAir:    "Mid-Air",
	Landed:    "Landed",
	Delayed:   "Delayed",
	Cancelled: "Cancelled",
}

func (s Status) String() string {
	if s < statusCount {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText renders the display name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ParseStatus converts a display name like "Mid-Air" to its Status.
func ParseStatus(s string) (Status, bool) {
	for i, name := range statusNames {
		if name == s {
			return Status(i), true
		}
	}
	return 0, false
}

// Phase reports whether s belongs to the computed sequence
// None → Boarding → TakingOff → MidAir → Landed, and its position in it.
func (s Status) Phase() (int, bool) {
	if s <= Landed {
		return int(s), true
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Color
// ---------------------------------------------------------------------------

// Color is the display color paired with a status.
type Color uint8

const (
	Gray Color = iota
	Orange
	Green
	Red
	colorCount
)

var colorNames = [colorCount]string{
	Gray:   "gray",
	Orange: "orange",
	Green:  "green",
	Red:    "red",
}

func (c Color) String() string {
	if c < colorCount {
		return colorNames[c]
	}
	return "unknown"
}

// MarshalText renders the color name.
func (c Color) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// Offsets around the delayed departure.
const (
	BoardingLead = 3 * time.Minute
	TakeoffLead  = 15 * time.Second
	TakeoffRoll  = 5 * time.Second
	LandingTail  = 15 * time.Second
)

// Result is a resolved status with its color.
type Result struct {
	Status Status `json:"status"`
	Color  Color  `json:"color"`
}

// Timeline holds the instants a schedule passes through.
type Timeline struct {
	Scheduled    time.Time `json:"scheduled"`
	Departure    time.Time `json:"departure"` // scheduled + delay
	Boarding     time.Time `json:"boarding"`
	TakeoffStart time.Time `json:"takeoffStart"`
	TakeoffEnd   time.Time `json:"takeoffEnd"`
	Arrival      time.Time `json:"arrival"` // departure + duration
	Landing      time.Time `json:"landing"` // arrival + LandingTail
}

// TimelineOf computes the timeline. ok is false when the departure
// timestamp is missing or unparseable.
func TimelineOf(s models.Schedule) (tl Timeline, ok bool) {
	dep, ok := s.ScheduledDeparture()
	if !ok {
		return Timeline{}, false
	}
	delayed := dep.Add(s.Delay())
	arrival := delayed.Add(s.Duration())
	return Timeline{
		Scheduled:    dep,
		Departure:    delayed,
		Boarding:     delayed.Add(-BoardingLead),
		TakeoffStart: delayed.Add(-TakeoffLead),
		TakeoffEnd:   delayed.Add(TakeoffRoll),
		Arrival:      arrival,
		Landing:      arrival.Add(LandingTail),
	}, true
}

// Resolve returns the status of s at now. The first matching rule wins:
// unknown departure, crew override, organic delay, then the time phases.
func Resolve(s models.Schedule, now time.Time) Result {
	tl, ok := TimelineOf(s)
	if !ok {
		return Result{None, Gray}
	}

	switch s.Override {
	case models.OverrideCancelled:
		return Result{Cancelled, Red}
	case models.OverrideDelayed:
		return Result{Delayed, Red}
	}

	if s.Delay() > 0 && now.After(tl.Scheduled) && now.Before(tl.TakeoffStart) {
		return Result{Delayed, Red}
	}

	switch {
	case now.Before(tl.Boarding):
		return Result{None, Gray}
	case now.Before(tl.TakeoffStart):
		return Result{Boarding, Orange}
	case now.Before(tl.TakeoffEnd):
		return Result{TakingOff, Green}
	case now.Before(tl.Landing):
		return Result{MidAir, Green}
	default:
		return Result{Landed, Gray}
	}
}

// Progress is the elapsed fraction of the flight at now, clamped to
// [0,1]. ok is false for an unknown departure.
func Progress(s models.Schedule, now time.Time) (p float64, ok bool) {
	dep, ok := s.DelayedDeparture()
	if !ok {
		return 0, false
	}
	p = float64(now.Sub(dep)) / float64(s.Duration())
	switch {
	case p < 0:
		p = 0
	case p > 1:
		p = 1
	}
	return p, true
}
