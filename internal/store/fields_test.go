package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	ts := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	got, err := Normalize(Fields{"n": 3, "at": ts, "seats": []string{"1A"}, "nil": nil})
	require.NoError(t, err)
	assert.Equal(t, Fields{
		"n":     float64(3),
		"at":    "2024-01-01T10:00:00Z",
		"seats": []any{"1A"},
		"nil":   nil,
	}, got)

	empty, err := Normalize(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestApplyPut(t *testing.T) {
	cur := Fields{"a": float64(1), "b": "x"}

	replaced, err := ApplyPut(cur, Fields{"c": true}, false)
	require.NoError(t, err)
	assert.Equal(t, Fields{"c": true}, replaced)

	merged, err := ApplyPut(cur, Fields{"b": "y", "c": true}, true)
	require.NoError(t, err)
	assert.Equal(t, Fields{"a": float64(1), "b": "y", "c": true}, merged)
	assert.Equal(t, "x", cur["b"], "input must not be mutated")

	created, err := ApplyPut(nil, Fields{"a": 2}, true)
	require.NoError(t, err)
	assert.Equal(t, Fields{"a": float64(2)}, created)
}

func TestApplyIncrement(t *testing.T) {
	out, err := ApplyIncrement(nil, "AVMiles", 300)
	require.NoError(t, err)
	assert.Equal(t, Fields{"AVMiles": float64(300)}, out)

	out, err = ApplyIncrement(out, "AVMiles", -50)
	require.NoError(t, err)
	assert.Equal(t, float64(250), out["AVMiles"])

	_, err = ApplyIncrement(Fields{"AVMiles": "x"}, "AVMiles", 1)
	assert.ErrorIs(t, err, ErrNotNumeric)
}

func TestApplyAppend(t *testing.T) {
	cur := Fields{"takenSeats": []any{"1A"}}

	out, changed, err := ApplyAppend(cur, "takenSeats", "1B")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []any{"1A", "1B"}, out["takenSeats"])
	assert.Equal(t, []any{"1A"}, cur["takenSeats"])

	_, changed, err = ApplyAppend(out, "takenSeats", "1A")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = ApplyAppend(Fields{"takenSeats": 4.0}, "takenSeats", "1A")
	assert.ErrorIs(t, err, ErrNotSet)
}

func TestStagingChangesOrder(t *testing.T) {
	st := NewStaging(func(string, string) (Fields, bool, error) { return nil, false, nil })
	require.NoError(t, st.Put("b", "1", Fields{"x": 1}))
	require.NoError(t, st.Put("a", "1", Fields{"x": 1}))
	require.NoError(t, st.Delete("b", "1"))

	changes := st.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, "b", changes[0].Collection)
	assert.True(t, changes[0].Deleted())
	assert.Equal(t, "a", changes[1].Collection)
	assert.False(t, changes[1].Deleted())
}
