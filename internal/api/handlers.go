package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CharlesOkeke1/AirValora/internal/auth"
	"github.com/CharlesOkeke1/AirValora/internal/booking"
	"github.com/CharlesOkeke1/AirValora/internal/edge"
	"github.com/CharlesOkeke1/AirValora/internal/lifecycle"
	"github.com/CharlesOkeke1/AirValora/internal/metrics"
	"github.com/CharlesOkeke1/AirValora/internal/query"
	"github.com/CharlesOkeke1/AirValora/internal/status"
	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

// maxBody caps JSON request bodies.
const maxBody = 64 << 10

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	Memory    *edge.MemoryStats `json:"memory,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.Clock.Now()
	resp := healthResponse{
		Status:    "healthy",
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    now.Sub(s.startTime).Round(time.Second).String(),
		Version:   s.Version,
	}
	if s.Memory != nil {
		stats := s.Memory.Stats()
		resp.Memory = &stats
		if stats.State >= edge.MemoryStateCritical {
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if !s.ready.Load() {
		resp.Status = "starting"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": "starting"})
		return
	}
	if s.Memory != nil && s.Memory.State() == edge.MemoryStateEmergency {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": "memory"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(metrics.Default().Export()))
}

// ---------------------------------------------------------------------------
// Flights
// ---------------------------------------------------------------------------

type flightView struct {
	models.FlightRecord
	State     status.Result `json:"state"`
	SeatsLeft int           `json:"seatsLeft"`
}

type flightDetail struct {
	flightView
	Timeline *status.Timeline `json:"timeline,omitempty"`
}

func (s *Server) view(f models.FlightRecord, now time.Time) flightView {
	return flightView{
		FlightRecord: f,
		State:        status.Resolve(f.Schedule(), now),
		SeatsLeft:    query.SeatsLeft(f, s.Booking.Capacity(f.Aircraft)),
	}
}

func (s *Server) flights(ctx context.Context) ([]models.FlightRecord, error) {
	docs, err := s.Store.List(ctx, models.FlightsCollection)
	if err != nil {
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("list flights: %w", err)
	}
	out := make([]models.FlightRecord, 0, len(docs))
	for _, d := range docs {
		var f models.FlightRecord
		if err := d.Decode(&f); err != nil {
			s.log.Warn("skipping undecodable flight", "key", d.Key, "error", err)
			continue
		}
		if f.ID == "" {
			f.ID = d.Key
		}
		out = append(out, f)
	}
	return out, nil
}

func (s *Server) handleView(v query.View) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := s.flights(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		now := s.Clock.Now()
		live := query.Live(v, all, now)
		out := make([]flightView, 0, len(live))
		for _, f := range live {
			out = append(out, s.view(f, now))
		}
		respondJSON(w, http.StatusOK, map[string]any{"view": v.String(), "flights": out, "count": len(out)})
	}
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	all, err := s.flights(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	set := query.MapSet(all, s.Clock.Now())
	respondJSON(w, http.StatusOK, map[string]any{"view": query.MapView.String(), "flights": set, "count": len(set)})
}

func (s *Server) handleFlight(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	doc, err := s.Store.Get(r.Context(), models.FlightsCollection, ref)
	if err != nil {
		s.fail(w, r, fmt.Errorf("flight %s: %w", ref, err))
		return
	}
	var f models.FlightRecord
	if err := doc.Decode(&f); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.ID == "" {
		f.ID = doc.Key
	}

	now := s.Clock.Now()
	if p, ok := status.Progress(f.Schedule(), now); ok && p > f.Progress {
		f.Progress = p
	}
	detail := flightDetail{flightView: s.view(f, now)}
	if tl, ok := status.TimelineOf(f.Schedule()); ok {
		detail.Timeline = &tl
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := query.SearchRequest{
		From: strings.ToUpper(strings.TrimSpace(q.Get("from"))),
		To:   strings.ToUpper(strings.TrimSpace(q.Get("to"))),
		Date: strings.TrimSpace(q.Get("date")),
	}
	if req.From == "" || req.To == "" || req.Date == "" {
		respondError(w, http.StatusBadRequest, "from, to and date are required")
		return
	}

	all, err := s.flights(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.Clock.Now()
	found, err := query.Search(all, req, now)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]flightView, 0, len(found))
	for _, f := range found {
		out = append(out, s.view(f, now))
	}
	respondJSON(w, http.StatusOK, map[string]any{"flights": out, "count": len(out)})
}

// ---------------------------------------------------------------------------
// Passenger
// ---------------------------------------------------------------------------

type reservationView struct {
	models.Reservation
	State status.Result `json:"state"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	if s.Memory != nil && s.Memory.ShouldRejectWrites() {
		w.Header().Set("Retry-After", "30")
		respondError(w, http.StatusServiceUnavailable, "bookings paused under memory pressure")
		return
	}
	uid, _ := auth.UserFromContext(r.Context())

	var req booking.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.Booking.Book(r.Context(), uid, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// handleBookings runs a lifecycle sweep for the caller before listing,
// so landed flights are settled by the time the page renders.
func (s *Server) handleBookings(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserFromContext(r.Context())
	if !ok {
		s.fail(w, r, auth.ErrUnauthenticated)
		return
	}
	if _, err := s.Mover.Sweep(r.Context(), uid); err != nil {
		s.log.Warn("sweep before listing failed", "uid", uid, "error", err)
	}

	list, err := s.reservations(r.Context(), models.BookingsCollection(uid))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.Clock.Now()
	out := make([]reservationView, 0, len(list))
	for _, res := range list {
		out = append(out, reservationView{Reservation: res, State: status.Resolve(res.Schedule(), now)})
	}
	respondJSON(w, http.StatusOK, map[string]any{"bookings": out, "count": len(out)})
}

func (s *Server) handlePast(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserFromContext(r.Context())
	if !ok {
		s.fail(w, r, auth.ErrUnauthenticated)
		return
	}
	list, err := s.reservations(r.Context(), models.PastFlightsCollection(uid))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flights": list, "count": len(list)})
}

func (s *Server) reservations(ctx context.Context, collection string) ([]models.Reservation, error) {
	docs, err := s.Store.List(ctx, collection)
	if err != nil {
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	out := make([]models.Reservation, 0, len(docs))
	for _, d := range docs {
		var res models.Reservation
		if err := d.Decode(&res); err != nil {
			s.log.Warn("skipping undecodable reservation", "collection", collection, "key", d.Key, "error", err)
			continue
		}
		if res.ID == "" {
			res.ID = d.Key
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *Server) handleLoyalty(w http.ResponseWriter, r *http.Request) {
	uid, ok := auth.UserFromContext(r.Context())
	if !ok {
		s.fail(w, r, auth.ErrUnauthenticated)
		return
	}
	var u models.User
	doc, err := s.Store.Get(r.Context(), models.UsersCollection, uid)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		metrics.StoreErrors.Inc()
		s.fail(w, r, fmt.Errorf("get user %s: %w", uid, err))
		return
	default:
		if err := doc.Decode(&u); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, lifecycle.StandingFor(u.AVMiles))
}

// ---------------------------------------------------------------------------
// Crew
// ---------------------------------------------------------------------------

func (s *Server) handleCrewFlights(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserFromContext(r.Context())
	list, err := s.Crew.Eligible(r.Context(), uid)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	now := s.Clock.Now()
	out := make([]flightView, 0, len(list))
	for _, f := range list {
		out = append(out, s.view(f, now))
	}
	respondJSON(w, http.StatusOK, map[string]any{"flights": out, "count": len(out)})
}

type delayRequest struct {
	Minutes *int `json:"minutes"`
}

func (s *Server) handleDelay(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserFromContext(r.Context())
	var req delayRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil || req.Minutes == nil {
		respondError(w, http.StatusBadRequest, "minutes is required")
		return
	}
	f, err := s.Crew.ApplyDelay(r.Context(), uid, r.PathValue("ref"), *req.Minutes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(f, s.Clock.Now()))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserFromContext(r.Context())
	f, err := s.Crew.Cancel(r.Context(), uid, r.PathValue("ref"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, s.view(f, s.Clock.Now()))
}
