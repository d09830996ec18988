// Package booking reserves seats on scheduled flights.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CharlesOkeke1/AirValora/internal/auth"
	"github.com/CharlesOkeke1/AirValora/internal/metrics"
	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

var (
	ErrFlightUnavailable = errors.New("flight is not open for booking")
	ErrAlreadyBooked     = errors.New("flight already booked by this user")
	ErrSeatTaken         = errors.New("seat already taken")
	ErrFlightFull        = errors.New("no seats left")
	ErrInvalidRequest    = errors.New("invalid booking request")
)

// DefaultCapacity is used for aircraft without a configured seat count.
const DefaultCapacity = 60

const seatLetters = "ABCDEF"

// RouteDistances is the fallback mile table for flights that carry no
// distance of their own.
var RouteDistances = map[string]int{
	"LSA-CAS": 490, "FCD-SAN": 305, "LSA-SAN": 380, "SAN-FCD": 300,
	"FCD-LSA": 425, "SAN-MCK": 295, "SAN-LSA": 350, "FCD-MCK": 300,
	"MCK-FCD": 320, "CAS-FCD": 500,
}

// Request is a booking request. An empty Seat asks for one to be
// assigned. An empty PassengerName falls back to the account name.
type Request struct {
	FlightReference string `json:"flightReference"`
	Seat            string `json:"seat,omitempty"`
	PassengerName   string `json:"passengerName,omitempty"`
	Email           string `json:"email,omitempty"`
}

// Service books seats.
type Service struct {
	store    store.Store
	clock    clockwork.Clock
	notifier Notifier
	capacity map[string]int
	log      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option { return func(s *Service) { s.clock = c } }

// WithNotifier sets where confirmations are sent.
func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithCapacity sets seat counts per aircraft type.
func WithCapacity(c map[string]int) Option { return func(s *Service) { s.capacity = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

// New creates a booking service over st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		clock: clockwork.NewRealClock(),
		log:   slog.Default().With("component", "booking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.log}
	}
	return s
}

// Capacity returns the seat count of an aircraft type.
func (s *Service) Capacity(aircraft string) int {
	if n, ok := s.capacity[aircraft]; ok && n > 0 {
		return n
	}
	return DefaultCapacity
}

// Seats lists the seat names of an aircraft: rows of A-F.
func (s *Service) Seats(aircraft string) []string {
	n := s.Capacity(aircraft)
	seats := make([]string, 0, n)
	for i := 0; i < n; i++ {
		seats = append(seats, strconv.Itoa(i/len(seatLetters)+1)+string(seatLetters[i%len(seatLetters)]))
	}
	return seats
}

// BookingID derives the reservation key: the first two letters of the
// passenger name, upper-cased, followed by the flight reference.
func BookingID(passenger, flightRef string) string {
	name := []rune(strings.TrimSpace(passenger))
	if len(name) > 2 {
		name = name[:2]
	}
	return strings.ToUpper(string(name)) + flightRef
}

// Book reserves a seat for uid.
func (s *Service) Book(ctx context.Context, uid string, req Request) (models.Reservation, error) {
	res, err := s.book(ctx, uid, req)
	if err != nil {
		metrics.BookingRejects.Inc()
		return models.Reservation{}, err
	}
	metrics.Bookings.Inc()
	s.log.Info("booking confirmed", "uid", uid, "booking", res.ID, "flight", res.FlightReference, "seat", res.Seat)

	if err := s.notifier.Notify(ctx, Confirmation{UID: uid, Reservation: res}); err != nil {
		s.log.Warn("confirmation not sent", "booking", res.ID, "error", err)
	}
	return res, nil
}

func (s *Service) book(ctx context.Context, uid string, req Request) (models.Reservation, error) {
	if uid == "" {
		return models.Reservation{}, auth.ErrUnauthenticated
	}
	req.FlightReference = strings.TrimSpace(req.FlightReference)
	req.Seat = strings.ToUpper(strings.TrimSpace(req.Seat))
	if req.FlightReference == "" {
		return models.Reservation{}, fmt.Errorf("%w: flight reference required", ErrInvalidRequest)
	}

	user, err := s.user(ctx, uid)
	if err != nil {
		return models.Reservation{}, err
	}
	if req.PassengerName == "" {
		req.PassengerName = user.Name
	}
	if req.PassengerName == "" {
		req.PassengerName = "Valora Guest"
	}
	if req.Email == "" {
		req.Email = user.Email
	}

	now := s.clock.Now()
	var res models.Reservation
	err = s.store.RunTx(ctx, func(tx store.Tx) error {
		// One marker per user and flight, checked and written in the
		// same transaction as the seat.
		_, err := tx.Get(models.BookedFlightsCollection(uid), req.FlightReference)
		switch {
		case err == nil:
			return ErrAlreadyBooked
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		doc, err := tx.Get(models.FlightsCollection, req.FlightReference)
		if errors.Is(err, store.ErrNotFound) {
			return ErrFlightUnavailable
		}
		if err != nil {
			return err
		}
		var f models.FlightRecord
		if err := doc.Decode(&f); err != nil {
			return err
		}
		if f.ID == "" {
			f.ID = doc.Key
		}
		if !open(f, now) {
			return ErrFlightUnavailable
		}

		seat := req.Seat
		switch {
		case seat == "":
			if seat = s.assign(f); seat == "" {
				return ErrFlightFull
			}
		case f.SeatTaken(seat):
			return ErrSeatTaken
		}

		res = reservationFor(f, req, seat, now)
		fields, err := store.Encode(res)
		if err != nil {
			return err
		}
		if err := tx.Put(models.BookingsCollection(uid), res.ID, fields); err != nil {
			return err
		}
		if err := tx.Put(models.BookedFlightsCollection(uid), req.FlightReference, store.Fields{
			"bookingId": res.ID,
			"bookedAt":  res.BookedAt,
		}); err != nil {
			return err
		}
		if err := tx.AppendToSet(models.FlightsCollection, f.ID, "takenSeats", seat); err != nil {
			return err
		}
		// The user document anchors the mover's sweep over all users.
		return tx.Put(models.UsersCollection, uid, store.Fields{"uid": uid}, store.Merge())
	})
	if err != nil {
		return models.Reservation{}, err
	}
	return res, nil
}

func (s *Service) user(ctx context.Context, uid string) (models.User, error) {
	doc, err := s.store.Get(ctx, models.UsersCollection, uid)
	if errors.Is(err, store.ErrNotFound) {
		return models.User{UID: uid}, nil
	}
	if err != nil {
		return models.User{}, fmt.Errorf("load user: %w", err)
	}
	var u models.User
	if err := doc.Decode(&u); err != nil {
		return models.User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}

// assign picks a random free seat, or "" when the flight is full.
func (s *Service) assign(f models.FlightRecord) string {
	var free []string
	for _, seat := range s.Seats(f.Aircraft) {
		if !f.SeatTaken(seat) {
			free = append(free, seat)
		}
	}
	if len(free) == 0 {
		return ""
	}
	return free[rand.IntN(len(free))]
}

// open reports whether f still sells seats: not landed, not cancelled,
// and not yet rolling.
func open(f models.FlightRecord, now time.Time) bool {
	if f.Landed {
		return false
	}
	switch status.Resolve(f.Schedule(), now).Status {
	case status.TakingOff, status.MidAir, status.Landed, status.Cancelled:
		return false
	}
	return true
}

func reservationFor(f models.FlightRecord, req Request, seat string, now time.Time) models.Reservation {
	distance := f.Distance
	if distance == 0 {
		distance = RouteDistances[f.From+"-"+f.To]
	}
	duration := f.DurationMins
	if duration <= 0 {
		duration = 1
	}
	delay := f.DelayMins
	if delay < 0 {
		delay = 0
	}
	return models.Reservation{
		ID:                 BookingID(req.PassengerName, f.ID),
		FlightReference:    f.ID,
		FlightCode:         f.FlightCode,
		From:               f.From,
		To:                 f.To,
		Date:               f.Date,
		PassengerName:      req.PassengerName,
		Email:              req.Email,
		Seat:               seat,
		Class:              f.Class,
		Aircraft:           f.Aircraft,
		Gate:               f.Gate,
		Price:              f.Price,
		Distance:           distance,
		BookedAt:           models.FormatTimestamp(now),
		DepartureTimestamp: f.DepartureTimestamp,
		DelayMins:          delay,
		DurationMins:       duration,
	}
}
