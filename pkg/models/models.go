package models

import (
	"strings"
	"time"
)

// Override is a crew-set status that short-circuits the computed status.
type Override string

const (
	OverrideNone      Override = ""
	OverrideCancelled Override = "Cancelled"
	OverrideDelayed   Override = "Delayed"
)

// Collection names. Per-user collections are nested under users/{uid}.
const (
	FlightsCollection = "flights"
	UsersCollection   = "users"
)

// BookingsCollection is the active reservation collection of a user.
func BookingsCollection(uid string) string { return UsersCollection + "/" + uid + "/bookings" }

// PastFlightsCollection is the archive collection of a user.
func PastFlightsCollection(uid string) string { return UsersCollection + "/" + uid + "/pastFlights" }

// BookedFlightsCollection holds one marker per flight a user has an
// active reservation on, keyed by flight reference.
func BookedFlightsCollection(uid string) string { return UsersCollection + "/" + uid + "/bookedFlights" }

// LedgerCollection holds one award receipt per reservation.
func LedgerCollection(uid string) string { return UsersCollection + "/" + uid + "/milesLedger" }

// Schedule is the timing view of a flight or reservation: everything the
// status resolver and the live-set filters look at.
type Schedule struct {
	Departure    string // RFC 3339; empty or unparseable means unknown
	DelayMins    int
	DurationMins float64
	Override     Override
	Date         string // YYYY-MM-DD, daily board only
}

var departureLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// ParseTimestamp parses a stored timestamp. Zone-less values are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range departureLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way timestamps are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ScheduledDeparture parses the departure timestamp.
func (s Schedule) ScheduledDeparture() (time.Time, bool) {
	return ParseTimestamp(s.Departure)
}

// Delay returns the accumulated delay, never negative.
func (s Schedule) Delay() time.Duration {
	if s.DelayMins <= 0 {
		return 0
	}
	return time.Duration(s.DelayMins) * time.Minute
}

// Duration returns the flight time, defaulting to one minute.
func (s Schedule) Duration() time.Duration {
	if s.DurationMins <= 0 {
		return time.Minute
	}
	return time.Duration(s.DurationMins * float64(time.Minute))
}

// DelayedDeparture is the scheduled departure plus the delay.
func (s Schedule) DelayedDeparture() (time.Time, bool) {
	dep, ok := s.ScheduledDeparture()
	if !ok {
		return time.Time{}, false
	}
	return dep.Add(s.Delay()), true
}

// ---------------------------------------------------------------------------
// Flight
// ---------------------------------------------------------------------------

// FlightRecord is one scheduled flight, shared by every user.
type FlightRecord struct {
	ID                 string   `json:"flightReference" yaml:"flightReference"`
	FlightCode         string   `json:"flightCode,omitempty" yaml:"flightCode,omitempty"`
	From               string   `json:"from" yaml:"from"`
	To                 string   `json:"to" yaml:"to"`
	Date               string   `json:"date" yaml:"date"`
	DepartureTime      string   `json:"departureTime,omitempty" yaml:"departureTime,omitempty"`
	ArrivalTime        string   `json:"arrivalTime,omitempty" yaml:"arrivalTime,omitempty"`
	DepartureTimestamp string   `json:"departureTimestamp" yaml:"departureTimestamp"`
	DelayMins          int      `json:"delayMins" yaml:"delayMins"`
	DurationMins       float64  `json:"durationMins" yaml:"durationMins"`
	Aircraft           string   `json:"aircraft,omitempty" yaml:"aircraft,omitempty"`
	Class              string   `json:"class,omitempty" yaml:"class,omitempty"`
	Gate               string   `json:"gate,omitempty" yaml:"gate,omitempty"`
	Price              float64  `json:"price,omitempty" yaml:"price,omitempty"`
	Distance           int      `json:"distance,omitempty" yaml:"distance,omitempty"`
	AssignedPilot      string   `json:"assignedPilotUid,omitempty" yaml:"assignedPilotUid,omitempty"`
	StatusOverride     Override `json:"statusOverride,omitempty" yaml:"statusOverride,omitempty"`
	Landed             bool     `json:"landed" yaml:"landed"`
	LandedAt           string   `json:"landedAt,omitempty" yaml:"landedAt,omitempty"`
	Progress           float64  `json:"progress" yaml:"progress"`
	TakenSeats         []string `json:"takenSeats" yaml:"takenSeats"`
}

// Schedule returns the timing view of the flight.
func (f FlightRecord) Schedule() Schedule {
	return Schedule{
		Departure:    f.DepartureTimestamp,
		DelayMins:    f.DelayMins,
		DurationMins: f.DurationMins,
		Override:     f.StatusOverride,
		Date:         f.Date,
	}
}

// SeatTaken reports whether seat is already in TakenSeats.
func (f FlightRecord) SeatTaken(seat string) bool {
	for _, s := range f.TakenSeats {
		if s == seat {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Reservation
// ---------------------------------------------------------------------------

// Reservation is one user's booking of one flight.
type Reservation struct {
	ID                 string   `json:"bookingId"`
	FlightReference    string   `json:"flightReference"`
	FlightCode         string   `json:"flightCode,omitempty"`
	From               string   `json:"from"`
	To                 string   `json:"to"`
	Date               string   `json:"date,omitempty"`
	PassengerName      string   `json:"passengerName"`
	Email              string   `json:"email,omitempty"`
	Seat               string   `json:"seat"`
	Class              string   `json:"class,omitempty"`
	Aircraft           string   `json:"aircraft,omitempty"`
	Gate               string   `json:"gate,omitempty"`
	Price              float64  `json:"price"`
	Distance           int      `json:"distance"`
	BookedAt           string   `json:"bookedAt"`
	DepartureTimestamp string   `json:"departureTimestamp"`
	DelayMins          int      `json:"delayMins"`
	DurationMins       float64  `json:"durationMins"`
	StatusOverride     Override `json:"statusOverride,omitempty"`
	LandedAt           *string  `json:"landedAt"`
	AVMilesAwarded     bool     `json:"avMilesAwarded"`
}

// Schedule returns the timing copied at booking time.
func (r Reservation) Schedule() Schedule {
	return Schedule{
		Departure:    r.DepartureTimestamp,
		DelayMins:    r.DelayMins,
		DurationMins: r.DurationMins,
		Override:     r.StatusOverride,
		Date:         r.Date,
	}
}

// LandedTime returns the landing stamp when it is set and parseable.
func (r Reservation) LandedTime() (time.Time, bool) {
	if r.LandedAt == nil {
		return time.Time{}, false
	}
	return ParseTimestamp(*r.LandedAt)
}

// ---------------------------------------------------------------------------
// User
// ---------------------------------------------------------------------------

// User is the per-account document holding the mile balance.
type User struct {
	UID     string `json:"uid"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	AVMiles int    `json:"AVMiles"`
}

// LedgerEntry records one mile award. Its key is the reservation id.
type LedgerEntry struct {
	ReceiptID string `json:"receiptId"`
	BookingID string `json:"bookingId"`
	Miles     int    `json:"miles"`
	AwardedAt string `json:"awardedAt"`
}
