// Package store defines the document-store contract the flight
// lifecycle runs on, and an in-memory implementation of it.
//
// Documents live in collections addressed by slash-separated paths
// ("flights", "users/u1/bookings"). A document is a flat map of JSON
// values. Every backend normalises field values through encoding/json,
// so numbers come back as float64 and timestamps as strings regardless
// of where they are stored.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get for a missing document.
	ErrNotFound = errors.New("store: document not found")
	// ErrNotNumeric is returned when incrementing a non-numeric field.
	ErrNotNumeric = errors.New("store: field is not numeric")
	// ErrNotSet is returned when appending to a field that is not an array.
	ErrNotSet = errors.New("store: field is not an array")
	// ErrConflict is returned when a transaction keeps losing to
	// concurrent writers.
	ErrConflict = errors.New("store: transaction conflict")
)

// Fields is the content of a document.
type Fields map[string]any

// Document is one stored record.
type Document struct {
	Collection string `json:"-"`
	Key        string `json:"key"`
	Fields     Fields `json:"fields"`
}

// Decode unmarshals the document fields into v.
func (d Document) Decode(v any) error {
	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", d.Collection, d.Key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", d.Collection, d.Key, err)
	}
	return nil
}

// Encode converts a struct with json tags into Fields.
func Encode(v any) (Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Contract
// ---------------------------------------------------------------------------

type putOptions struct {
	merge bool
}

// PutOption configures Put.
type PutOption func(*putOptions)

// Merge makes Put a field-level upsert: fields not named in the call
// keep their stored values.
func Merge() PutOption {
	return func(o *putOptions) { o.merge = true }
}

// IsMerge reports whether opts request a merge write.
func IsMerge(opts []PutOption) bool {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.merge
}

// Store is a shared document store. Implementations are safe for
// concurrent use, and Increment and AppendToSet are atomic per document.
type Store interface {
	Get(ctx context.Context, collection, key string) (Document, error)
	Put(ctx context.Context, collection, key string, fields Fields, opts ...PutOption) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, key string) error
	// Increment adds delta to a numeric field, creating the document or
	// field at zero when absent.
	Increment(ctx context.Context, collection, key, field string, delta float64) error
	// AppendToSet adds value to an array field unless an equal element
	// is already present.
	AppendToSet(ctx context.Context, collection, key, field string, value any) error
	// List returns the documents directly in collection, ordered by key.
	List(ctx context.Context, collection string) ([]Document, error)
	// RunTx runs fn atomically. fn may be invoked more than once when a
	// backend retries on conflict, so it must not have outside effects.
	RunTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the view of the store inside RunTx. Reads observe writes made
// earlier in the same transaction.
type Tx interface {
	Get(collection, key string) (Document, error)
	Put(collection, key string, fields Fields, opts ...PutOption) error
	Delete(collection, key string) error
	Increment(collection, key, field string, delta float64) error
	AppendToSet(collection, key, field string, value any) error
}
