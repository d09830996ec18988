package store

import (
	"context"
	"sync"
)

const defaultCollectionCap = 64

// Memory is a process-local Store.
//
// Storage layout: collection path → key → fields. Stored fields are
// always normalised copies; reads hand out fresh copies so callers can
// never alias stored state.
//
// Concurrency: sync.RWMutex. Mutations and transactions take the write
// lock, Get and List take the read lock.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]Fields

	// Callback for document changes (optional)
	onChange func(collection, key string)
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithCapacity sets the initial capacity of the collection index.
func WithCapacity(collections int) MemoryOption {
	return func(m *Memory) {
		m.collections = make(map[string]map[string]Fields, collections)
	}
}

// WithChangeCallback sets a callback invoked after each committed write.
func WithChangeCallback(fn func(collection, key string)) MemoryOption {
	return func(m *Memory) {
		m.onChange = fn
	}
}

// NewMemory creates an empty Memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{collections: make(map[string]map[string]Fields, defaultCollectionCap)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =========================================================================
// Reads (read-locked)
// =========================================================================

// Get implements Store.
func (m *Memory) Get(_ context.Context, collection, key string) (Document, error) {
	m.mu.RLock()
	f, ok := m.collections[collection][key]
	m.mu.RUnlock()
	if !ok {
		return Document{}, ErrNotFound
	}
	out, err := Normalize(f)
	if err != nil {
		return Document{}, err
	}
	return Document{Collection: collection, Key: key, Fields: out}, nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, collection string) ([]Document, error) {
	m.mu.RLock()
	docs := make([]Document, 0, len(m.collections[collection]))
	for key, f := range m.collections[collection] {
		docs = append(docs, Document{Collection: collection, Key: key, Fields: f})
	}
	m.mu.RUnlock()

	for i := range docs {
		out, err := Normalize(docs[i].Fields)
		if err != nil {
			return nil, err
		}
		docs[i].Fields = out
	}
	SortDocuments(docs)
	return docs, nil
}

// Size returns the number of documents in collection.
func (m *Memory) Size(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// =========================================================================
// Mutation (write-locked)
// =========================================================================

// Put implements Store.
func (m *Memory) Put(ctx context.Context, collection, key string, fields Fields, opts ...PutOption) error {
	return m.RunTx(ctx, func(tx Tx) error { return tx.Put(collection, key, fields, opts...) })
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, collection, key string) error {
	return m.RunTx(ctx, func(tx Tx) error { return tx.Delete(collection, key) })
}

// Increment implements Store.
func (m *Memory) Increment(ctx context.Context, collection, key, field string, delta float64) error {
	return m.RunTx(ctx, func(tx Tx) error { return tx.Increment(collection, key, field, delta) })
}

// AppendToSet implements Store.
func (m *Memory) AppendToSet(ctx context.Context, collection, key, field string, value any) error {
	return m.RunTx(ctx, func(tx Tx) error { return tx.AppendToSet(collection, key, field, value) })
}

// RunTx implements Store. The write lock is held for the whole of fn.
func (m *Memory) RunTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	st := NewStaging(m.readLocked)
	if err := fn(st); err != nil {
		m.mu.Unlock()
		return err
	}
	changes := st.Changes()
	for _, c := range changes {
		m.applyLocked(c)
	}
	callback := m.onChange
	m.mu.Unlock()

	// Notify outside the lock so callbacks may read the store.
	if callback != nil {
		for _, c := range changes {
			callback(c.Collection, c.Key)
		}
	}
	return nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }

func (m *Memory) readLocked(collection, key string) (Fields, bool, error) {
	f, ok := m.collections[collection][key]
	return f, ok, nil
}

func (m *Memory) applyLocked(c Change) {
	docs := m.collections[c.Collection]
	if c.Deleted() {
		delete(docs, c.Key)
		if len(docs) == 0 {
			delete(m.collections, c.Collection)
		}
		return
	}
	if docs == nil {
		docs = make(map[string]Fields)
		m.collections[c.Collection] = docs
	}
	docs[c.Key] = c.Fields
}
