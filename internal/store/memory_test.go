package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharlesOkeke1/AirValora/internal/store"
	"github.com/CharlesOkeke1/AirValora/internal/store/storetest"
)

func TestMemoryConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return store.NewMemory()
	})
}

func TestMemoryReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory(store.WithCapacity(4))
	require.NoError(t, m.Put(ctx, "flights", "AV1", store.Fields{"takenSeats": []string{"1A"}}))

	doc, err := m.Get(ctx, "flights", "AV1")
	require.NoError(t, err)
	doc.Fields["takenSeats"].([]any)[0] = "9Z"
	doc.Fields["landed"] = true

	again, err := m.Get(ctx, "flights", "AV1")
	require.NoError(t, err)
	assert.Equal(t, store.Fields{"takenSeats": []any{"1A"}}, again.Fields)
}

func TestMemoryChangeCallback(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var seen []string
	m := store.NewMemory(store.WithChangeCallback(func(collection, key string) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, collection+"/"+key)
	}))

	require.NoError(t, m.Put(ctx, "flights", "AV1", store.Fields{"progress": 0}))
	require.NoError(t, m.Increment(ctx, "users", "u1", "AVMiles", 5))
	require.NoError(t, m.Delete(ctx, "flights", "AV1"))

	// A duplicate append stages nothing.
	require.NoError(t, m.AppendToSet(ctx, "flights", "AV2", "takenSeats", "1A"))
	require.NoError(t, m.AppendToSet(ctx, "flights", "AV2", "takenSeats", "1A"))

	assert.Equal(t, []string{"flights/AV1", "users/u1", "flights/AV1", "flights/AV2"}, seen)
	assert.Equal(t, 1, m.Size("flights"))
	assert.Equal(t, 0, m.Size("missing"))
}

func TestMemoryCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := store.NewMemory()
	assert.ErrorIs(t, m.Put(ctx, "flights", "AV1", store.Fields{}), context.Canceled)
}
