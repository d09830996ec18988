package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharlesOkeke1/AirValora/pkg/models"
)

func TestSearch(t *testing.T) {
	early := flight("EARLY", 0, 30)
	late := flight("LATE", 0, 30)
	late.DepartureTimestamp = dep.Add(2 * time.Hour).Format(time.RFC3339)
	landed := flight("GONE", 0, 30)
	landed.Landed = true
	cancelled := flight("CXL", 0, 30)
	cancelled.StatusOverride = models.OverrideCancelled
	other := flight("OTHER", 0, 30)
	other.To = "SAN"

	flights := []models.FlightRecord{late, landed, other, cancelled, early}
	now := dep.Add(-time.Hour)

	got, err := Search(flights, SearchRequest{From: "LSA", To: "CAS", Date: "2024-01-01"}, now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "EARLY", got[0].ID)
	assert.Equal(t, "LATE", got[1].ID)

	// 15 minutes before the early departure only the late one is still open.
	got, err = Search(flights, SearchRequest{From: "LSA", To: "CAS", Date: "2024-01-01"}, dep.Add(-15*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "LATE", got[0].ID)
}

func TestSearchErrors(t *testing.T) {
	flights := []models.FlightRecord{flight("A", 0, 30)}

	_, err := Search(flights, SearchRequest{From: "MCK", To: "FCD", Date: "2024-01-01"}, dep)
	assert.ErrorIs(t, err, ErrNoRoute)

	_, err = Search(flights, SearchRequest{From: "LSA", To: "CAS", Date: "2024-02-01"}, dep)
	assert.ErrorIs(t, err, ErrNoDate)

	_, err = Search(flights, SearchRequest{From: "LSA", To: "CAS", Date: "2024-01-01"}, dep)
	assert.ErrorIs(t, err, ErrBookingClosed)
}

func TestSeatsLeft(t *testing.T) {
	f := flight("A", 0, 30)
	f.TakenSeats = []string{"1A", "1B"}
	assert.Equal(t, 178, SeatsLeft(f, 180))
	assert.Equal(t, 0, SeatsLeft(f, 1))
}

func TestPosition(t *testing.T) {
	p, ok := Position("LSA", "CAS", 0)
	require.True(t, ok)
	assert.Equal(t, Airports["LSA"], p)

	p, ok = Position("LSA", "CAS", 1)
	require.True(t, ok)
	assert.Equal(t, Airports["CAS"], p)

	p, _ = Position("LSA", "CAS", 0.5)
	assert.InDelta(t, 48.5, p.X, 1e-9)
	assert.InDelta(t, 77.75, p.Y, 1e-9)

	_, ok = Position("LSA", "XXX", 0.5)
	assert.False(t, ok)
}

func TestMapSet(t *testing.T) {
	a := flight("A", 0, 10)
	b := flight("B", 0, 10)
	b.Landed = true
	c := flight("C", 0, 10)
	c.To = "ZZZ"

	set := MapSet([]models.FlightRecord{a, b, c}, dep.Add(5*time.Minute))
	require.Len(t, set, 2)
	assert.InDelta(t, 0.5, set[0].Progress, 1e-9)
	require.NotNil(t, set[0].Position)
	assert.Equal(t, "Mid-Air", set[0].Status.Status.String())
	assert.Nil(t, set[1].Position)
}
