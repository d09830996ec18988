// Package api serves the flight board, bookings, loyalty and crew
// controls over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/CharlesOkeke1/AirValora/internal/auth"
	"github.com/CharlesOkeke1/AirValora/internal/booking"
	"github.com/CharlesOkeke1/AirValora/internal/crew"
	"github.com/CharlesOkeke1/AirValora/internal/edge"
	"github.com/CharlesOkeke1/AirValora/internal/lifecycle"
	"github.com/CharlesOkeke1/AirValora/internal/query"
	"github.com/CharlesOkeke1/AirValora/internal/store"
)

// Deps are the services behind the API. Store, Booking, Crew and Mover
// are required.
type Deps struct {
	Store    store.Store
	Booking  *booking.Service
	Crew     *crew.Controls
	Mover    *lifecycle.Mover
	Verifier *auth.Verifier      // nil rejects every authenticated route
	Limiter  *RateLimiter        // nil disables rate limiting
	Memory   *edge.MemoryMonitor // nil skips memory checks
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Version  string
}

// Server is the HTTP API.
type Server struct {
	Deps
	startTime time.Time
	ready     atomic.Bool
	log       *slog.Logger
}

// publicPaths need no token.
var publicPaths = auth.PathPrefixes(
	"/health", "/ready", "/live", "/metrics",
	"/api/v1/flights", "/api/v1/flights/", "/api/v1/map", "/api/v1/board", "/api/v1/search",
)

// New builds a server. It reports not-ready until SetReady(true).
func New(d Deps) *Server {
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	log := d.Logger
	if log == nil {
		log = slog.Default().With("component", "api")
	}
	return &Server{Deps: d, startTime: d.Clock.Now(), log: log}
}

// SetReady flips the readiness probe.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Probes and metrics
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Flights
	mux.HandleFunc("GET /api/v1/flights", s.handleView(query.ListView))
	mux.HandleFunc("GET /api/v1/board", s.handleView(query.DailyBoard))
	mux.HandleFunc("GET /api/v1/map", s.handleMap)
	mux.HandleFunc("GET /api/v1/flights/{ref}", s.handleFlight)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)

	// Passenger
	mux.HandleFunc("POST /api/v1/bookings", s.handleBook)
	mux.HandleFunc("GET /api/v1/bookings", s.handleBookings)
	mux.HandleFunc("GET /api/v1/past", s.handlePast)
	mux.HandleFunc("GET /api/v1/loyalty", s.handleLoyalty)

	// Crew
	mux.HandleFunc("GET /api/v1/crew/flights", s.handleCrewFlights)
	mux.HandleFunc("POST /api/v1/crew/flights/{ref}/delay", s.handleDelay)
	mux.HandleFunc("POST /api/v1/crew/flights/{ref}/cancel", s.handleCancel)

	var h http.Handler = mux
	h = auth.NewMiddleware(s.Verifier, publicPaths)(h)
	h = s.Limiter.Middleware(h)
	return s.observe(h)
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, crew.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, query.ErrNoRoute),
		errors.Is(err, query.ErrNoDate),
		errors.Is(err, query.ErrBookingClosed):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrInvalidRequest),
		errors.Is(err, crew.ErrInvalidDelay):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrFlightUnavailable),
		errors.Is(err, booking.ErrAlreadyBooked),
		errors.Is(err, booking.ErrSeatTaken),
		errors.Is(err, booking.ErrFlightFull),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged
// and their text is not exposed.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, code, "internal error")
		return
	}
	respondError(w, code, err.Error())
}
