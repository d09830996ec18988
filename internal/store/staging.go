package store

import "sort"

// ReadFunc loads the committed fields of a document. ok is false when
// the document does not exist.
type ReadFunc func(collection, key string) (f Fields, ok bool, err error)

// Change is one document write produced by a transaction. Fields is nil
// for a delete.
type Change struct {
	Collection string
	Key        string
	Fields     Fields
}

// Deleted reports whether the change removes the document.
func (c Change) Deleted() bool { return c.Fields == nil }

type docRef struct {
	collection string
	key        string
}

type stagedDoc struct {
	fields Fields // nil when deleted
}

// Staging buffers the writes of one transaction over a ReadFunc.
// Backends run the caller's function against a Staging and then commit
// its Changes with their own atomic primitive.
type Staging struct {
	read   ReadFunc
	staged map[docRef]*stagedDoc
	order  []docRef
}

// NewStaging returns an empty Staging reading through read.
func NewStaging(read ReadFunc) *Staging {
	return &Staging{read: read, staged: make(map[docRef]*stagedDoc)}
}

func (s *Staging) load(collection, key string) (Fields, bool, error) {
	if d, ok := s.staged[docRef{collection, key}]; ok {
		return d.fields, d.fields != nil, nil
	}
	return s.read(collection, key)
}

func (s *Staging) stage(collection, key string, f Fields) {
	ref := docRef{collection, key}
	if _, ok := s.staged[ref]; !ok {
		s.order = append(s.order, ref)
	}
	s.staged[ref] = &stagedDoc{fields: f}
}

// Get implements Tx.
func (s *Staging) Get(collection, key string) (Document, error) {
	f, ok, err := s.load(collection, key)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, ErrNotFound
	}
	out, err := Normalize(f)
	if err != nil {
		return Document{}, err
	}
	return Document{Collection: collection, Key: key, Fields: out}, nil
}

// Put implements Tx.
func (s *Staging) Put(collection, key string, fields Fields, opts ...PutOption) error {
	var cur Fields
	if IsMerge(opts) {
		f, ok, err := s.load(collection, key)
		if err != nil {
			return err
		}
		if ok {
			cur = f
		}
	}
	next, err := ApplyPut(cur, fields, IsMerge(opts))
	if err != nil {
		return err
	}
	s.stage(collection, key, next)
	return nil
}

// Delete implements Tx.
func (s *Staging) Delete(collection, key string) error {
	s.stage(collection, key, nil)
	return nil
}

// Increment implements Tx.
func (s *Staging) Increment(collection, key, field string, delta float64) error {
	cur, _, err := s.load(collection, key)
	if err != nil {
		return err
	}
	next, err := ApplyIncrement(cur, field, delta)
	if err != nil {
		return err
	}
	s.stage(collection, key, next)
	return nil
}

// AppendToSet implements Tx.
func (s *Staging) AppendToSet(collection, key, field string, value any) error {
	cur, _, err := s.load(collection, key)
	if err != nil {
		return err
	}
	next, changed, err := ApplyAppend(cur, field, value)
	if err != nil {
		return err
	}
	if changed {
		s.stage(collection, key, next)
	}
	return nil
}

// Changes returns the staged writes in first-touch order.
func (s *Staging) Changes() []Change {
	out := make([]Change, 0, len(s.order))
	for _, ref := range s.order {
		out = append(out, Change{Collection: ref.collection, Key: ref.key, Fields: s.staged[ref].fields})
	}
	return out
}

// SortDocuments orders docs by key.
func SortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
}
