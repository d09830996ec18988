// Package sqlstore implements store.Store on a single SQL table, for
// SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/CharlesOkeke1/AirValora/internal/store"
)

// Dialect names a supported database. The value doubles as the
// database/sql driver name.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts "sqlite" or "postgres".
func ParseDialect(s string) (Dialect, bool) {
	switch Dialect(s) {
	case SQLite, Postgres:
		return Dialect(s), true
	}
	return "", false
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	doc_key TEXT NOT NULL,
	body TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (collection, doc_key)
)`

const (
	getQuery    = "SELECT body FROM documents WHERE collection = ? AND doc_key = ?"
	listQuery   = "SELECT doc_key, body FROM documents WHERE collection = ? ORDER BY doc_key"
	deleteQuery = "DELETE FROM documents WHERE collection = ? AND doc_key = ?"
	upsertQuery = "INSERT INTO documents (collection, doc_key, body, updated_at) VALUES (?, ?, ?, ?) " +
		"ON CONFLICT (collection, doc_key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at"
)

type queries struct {
	get, getForUpdate, list, delete, upsert string
}

func queriesFor(d Dialect) queries {
	q := queries{get: getQuery, getForUpdate: getQuery, list: listQuery, delete: deleteQuery, upsert: upsertQuery}
	if d == Postgres {
		q.getForUpdate = getQuery + " FOR UPDATE"
		q.get, q.getForUpdate, q.list = rebind(q.get), rebind(q.getForUpdate), rebind(q.list)
		q.delete, q.upsert = rebind(q.delete), rebind(q.upsert)
	}
	return q
}

// rebind turns ? placeholders into $1, $2, ...
func rebind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store implements store.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	q       queries
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and prepares the schema. SQLite is limited to a
// single connection so that transactions serialise instead of failing
// with SQLITE_BUSY.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and runs the migration.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, q: queriesFor(dialect)}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate documents: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close implements store.Store.
func (s *Store) Close() error { return s.db.Close() }

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, collection, key string) (store.Document, error) {
	fields, ok, err := readDoc(ctx, s.db, s.q.get, collection, key)
	if err != nil {
		return store.Document{}, fmt.Errorf("sql get %s/%s: %w", collection, key, err)
	}
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return store.Document{Collection: collection, Key: key, Fields: fields}, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list, collection)
	if err != nil {
		return nil, fmt.Errorf("sql list %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	docs := []store.Document{}
	for rows.Next() {
		var key, body string
		if err := rows.Scan(&key, &body); err != nil {
			return nil, fmt.Errorf("sql list %s: %w", collection, err)
		}
		fields, err := decodeBody(body)
		if err != nil {
			return nil, fmt.Errorf("sql list %s/%s: %w", collection, key, err)
		}
		docs = append(docs, store.Document{Collection: collection, Key: key, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql list %s: %w", collection, err)
	}
	store.SortDocuments(docs)
	return docs, nil
}

// Put implements store.Store. A replace is a single upsert; a merge
// reads and rewrites the row inside a transaction.
func (s *Store) Put(ctx context.Context, collection, key string, fields store.Fields, opts ...store.PutOption) error {
	if store.IsMerge(opts) {
		return s.RunTx(ctx, func(tx store.Tx) error {
			return tx.Put(collection, key, fields, opts...)
		})
	}
	norm, err := store.Normalize(fields)
	if err != nil {
		return fmt.Errorf("sql put %s/%s: %w", collection, key, err)
	}
	if err := writeDoc(ctx, s.db, s.q.upsert, collection, key, norm); err != nil {
		return fmt.Errorf("sql put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.delete, collection, key); err != nil {
		return fmt.Errorf("sql delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Increment implements store.Store.
func (s *Store) Increment(ctx context.Context, collection, key, field string, delta float64) error {
	return s.RunTx(ctx, func(tx store.Tx) error {
		return tx.Increment(collection, key, field, delta)
	})
}

// AppendToSet implements store.Store.
func (s *Store) AppendToSet(ctx context.Context, collection, key, field string, value any) error {
	return s.RunTx(ctx, func(tx store.Tx) error {
		return tx.AppendToSet(collection, key, field, value)
	})
}

// RunTx implements store.Store. On PostgreSQL every row read inside fn
// is locked with SELECT ... FOR UPDATE until commit.
func (s *Store) RunTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	st := store.NewStaging(func(collection, key string) (store.Fields, bool, error) {
		return readDoc(ctx, tx, s.q.getForUpdate, collection, key)
	})
	if err := fn(st); err != nil {
		return err
	}
	for _, c := range st.Changes() {
		if c.Deleted() {
			_, err = tx.ExecContext(ctx, s.q.delete, c.Collection, c.Key)
		} else {
			err = writeDoc(ctx, tx, s.q.upsert, c.Collection, c.Key, c.Fields)
		}
		if err != nil {
			return fmt.Errorf("sql write %s/%s: %w", c.Collection, c.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql commit: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Row helpers
// ---------------------------------------------------------------------------

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func readDoc(ctx context.Context, q querier, query, collection, key string) (store.Fields, bool, error) {
	var body string
	err := q.QueryRowContext(ctx, query, collection, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fields, err := decodeBody(body)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

func writeDoc(ctx context.Context, q querier, query, collection, key string, fields store.Fields) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, query, collection, key, string(body), time.Now().UTC())
	return err
}

func decodeBody(body string) (store.Fields, error) {
	fields := store.Fields{}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
