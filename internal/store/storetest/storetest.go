// Package storetest is a conformance suite run against every
// store.Store backend.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CharlesOkeke1/AirValora/internal/store"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// Run executes the suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	for _, tc := range []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"GetMissing", testGetMissing},
		{"PutReplace", testPutReplace},
		{"PutMerge", testPutMerge},
		{"Delete", testDelete},
		{"Increment", testIncrement},
		{"IncrementConcurrent", testIncrementConcurrent},
		{"IncrementNotNumeric", testIncrementNotNumeric},
		{"AppendToSet", testAppendToSet},
		{"ListScoped", testListScoped},
		{"TxCommit", testTxCommit},
		{"TxRollback", testTxRollback},
		{"TxReadYourWrites", testTxReadYourWrites},
		{"Decode", testDecode},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tc.fn(t, s)
		})
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	_, err := s.Get(context.Background(), "flights", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPutReplace(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "flights", "AV1", store.Fields{"from": "LSA", "progress": 0.25}))
	require.NoError(t, s.Put(ctx, "flights", "AV1", store.Fields{"to": "CAS"}))

	doc, err := s.Get(ctx, "flights", "AV1")
	require.NoError(t, err)
	assert.Equal(t, "AV1", doc.Key)
	assert.Equal(t, store.Fields{"to": "CAS"}, doc.Fields)
}

func testPutMerge(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "flights", "AV1", store.Fields{"from": "LSA", "landed": false}))
	require.NoError(t, s.Put(ctx, "flights", "AV1", store.Fields{"landed": true, "progress": 1}, store.Merge()))

	doc, err := s.Get(ctx, "flights", "AV1")
	require.NoError(t, err)
	assert.Equal(t, store.Fields{"from": "LSA", "landed": true, "progress": float64(1)}, doc.Fields)

	// Merge into a missing document creates it.
	require.NoError(t, s.Put(ctx, "flights", "AV2", store.Fields{"from": "SAN"}, store.Merge()))
	doc, err = s.Get(ctx, "flights", "AV2")
	require.NoError(t, err)
	assert.Equal(t, "SAN", doc.Fields["from"])
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "users/u1/bookings", "JOAV1", store.Fields{"seat": "1A"}))
	require.NoError(t, s.Delete(ctx, "users/u1/bookings", "JOAV1"))

	_, err := s.Get(ctx, "users/u1/bookings", "JOAV1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete(ctx, "users/u1/bookings", "JOAV1"))
}

func testIncrement(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Increment(ctx, "users", "u1", "AVMiles", 300))

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(300), doc.Fields["AVMiles"])

	require.NoError(t, s.Put(ctx, "users", "u1", store.Fields{"name": "Jo"}, store.Merge()))
	require.NoError(t, s.Increment(ctx, "users", "u1", "AVMiles", 50.5))

	doc, err = s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, 350.5, doc.Fields["AVMiles"])
	assert.Equal(t, "Jo", doc.Fields["name"])
}

func testIncrementConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers, each = 8, 10

	var wg sync.WaitGroup
	errs := make(chan error, workers*each)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := s.Increment(ctx, "users", "u1", "AVMiles", 1); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(workers*each), doc.Fields["AVMiles"])
}

func testIncrementNotNumeric(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "users", "u1", store.Fields{"AVMiles": "lots"}))
	err := s.Increment(ctx, "users", "u1", "AVMiles", 1)
	assert.True(t, errors.Is(err, store.ErrNotNumeric), "got %v", err)
}

func testAppendToSet(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "flights", "AV1", store.Fields{"takenSeats": []string{}}))

	for _, seat := range []string{"1A", "1B", "1A"} {
		require.NoError(t, s.AppendToSet(ctx, "flights", "AV1", "takenSeats", seat))
	}

	doc, err := s.Get(ctx, "flights", "AV1")
	require.NoError(t, err)
	assert.Equal(t, []any{"1A", "1B"}, doc.Fields["takenSeats"])

	// Appending to a missing document creates the field.
	require.NoError(t, s.AppendToSet(ctx, "flights", "AV2", "takenSeats", "3C"))
	doc, err = s.Get(ctx, "flights", "AV2")
	require.NoError(t, err)
	assert.Equal(t, []any{"3C"}, doc.Fields["takenSeats"])

	require.NoError(t, s.Put(ctx, "flights", "AV3", store.Fields{"takenSeats": "1A"}))
	assert.ErrorIs(t, s.AppendToSet(ctx, "flights", "AV3", "takenSeats", "1B"), store.ErrNotSet)
}

func testListScoped(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "users", "u2", store.Fields{"AVMiles": 1}))
	require.NoError(t, s.Put(ctx, "users", "u1", store.Fields{"AVMiles": 2}))
	require.NoError(t, s.Put(ctx, "users/u1/bookings", "JOAV1", store.Fields{"seat": "1A"}))

	docs, err := s.List(ctx, "users")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "u1", docs[0].Key)
	assert.Equal(t, "u2", docs[1].Key)

	docs, err = s.List(ctx, "users/u1/bookings")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "1A", docs[0].Fields["seat"])

	docs, err = s.List(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testTxCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "users/u1/bookings", "JOAV1", store.Fields{"avMilesAwarded": false, "distance": 300}))

	err := s.RunTx(ctx, func(tx store.Tx) error {
		doc, err := tx.Get("users/u1/bookings", "JOAV1")
		if err != nil {
			return err
		}
		if doc.Fields["avMilesAwarded"] == true {
			return nil
		}
		if err := tx.Increment("users", "u1", "AVMiles", doc.Fields["distance"].(float64)); err != nil {
			return err
		}
		if err := tx.Put("users/u1/bookings", "JOAV1", store.Fields{"avMilesAwarded": true}, store.Merge()); err != nil {
			return err
		}
		return tx.Put("users/u1/milesLedger", "JOAV1", store.Fields{"miles": 300})
	})
	require.NoError(t, err)

	user, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(300), user.Fields["AVMiles"])

	booking, err := s.Get(ctx, "users/u1/bookings", "JOAV1")
	require.NoError(t, err)
	assert.Equal(t, true, booking.Fields["avMilesAwarded"])
	assert.Equal(t, float64(300), booking.Fields["distance"])

	_, err = s.Get(ctx, "users/u1/milesLedger", "JOAV1")
	assert.NoError(t, err)
}

func testTxRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "users", "u1", store.Fields{"AVMiles": 10}))

	boom := errors.New("boom")
	err := s.RunTx(ctx, func(tx store.Tx) error {
		if err := tx.Increment("users", "u1", "AVMiles", 5); err != nil {
			return err
		}
		if err := tx.Delete("users", "u1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, float64(10), doc.Fields["AVMiles"])
}

func testTxReadYourWrites(t *testing.T, s store.Store) {
	ctx := context.Background()
	err := s.RunTx(ctx, func(tx store.Tx) error {
		if err := tx.Put("flights", "AV9", store.Fields{"progress": 0.5}); err != nil {
			return err
		}
		if err := tx.Increment("flights", "AV9", "progress", 0.25); err != nil {
			return err
		}
		doc, err := tx.Get("flights", "AV9")
		if err != nil {
			return err
		}
		assert.Equal(t, 0.75, doc.Fields["progress"])

		if err := tx.Delete("flights", "AV9"); err != nil {
			return err
		}
		_, err = tx.Get("flights", "AV9")
		assert.ErrorIs(t, err, store.ErrNotFound)
		return tx.Put("flights", "AV9", store.Fields{"progress": 1})
	})
	require.NoError(t, err)

	doc, err := s.Get(ctx, "flights", "AV9")
	require.NoError(t, err)
	assert.Equal(t, float64(1), doc.Fields["progress"])
}

type flight struct {
	Ref        string   `json:"flightReference"`
	Progress   float64  `json:"progress"`
	Landed     bool     `json:"landed"`
	TakenSeats []string `json:"takenSeats"`
}

func testDecode(t *testing.T, s store.Store) {
	ctx := context.Background()
	in := flight{Ref: "AV1", Progress: 0.4, TakenSeats: []string{"2C"}}
	fields, err := store.Encode(in)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "flights", in.Ref, fields))

	doc, err := s.Get(ctx, "flights", "AV1")
	require.NoError(t, err)
	var out flight
	require.NoError(t, doc.Decode(&out))
	assert.Equal(t, in, out)
}
