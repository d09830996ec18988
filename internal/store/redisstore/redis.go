// Package redisstore implements store.Store on Redis so several
// avflight instances can share one document store.
//
// Each document is a hash at {prefix}:doc:{collection}:{key} whose
// fields hold JSON-encoded values. Membership of a collection is kept
// in the set {prefix}:idx:{collection}; a document exists iff its key
// is in that set.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/CharlesOkeke1/AirValora/internal/store"
)

const (
	defaultPrefix = "avf"
	maxTxAttempts = 32
)

// incrementScript bumps one numeric field and registers the document.
// KEYS[1] = document hash
// KEYS[2] = collection index set
// ARGV[1] = field
// ARGV[2] = delta
// ARGV[3] = document key
var incrementScript = redis.NewScript(`
local v = redis.call("HINCRBYFLOAT", KEYS[1], ARGV[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
return v
`)

// deleteScript removes a document and its index entry together.
// KEYS[1] = document hash
// KEYS[2] = collection index set
// ARGV[1] = document key
var deleteScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
return redis.call("SREM", KEYS[2], ARGV[1])
`)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Store implements store.Store using Redis.
type Store struct {
	client *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// New creates a store backed by a new Redis client.
func New(opts Options) *Store {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewFromClient(rdb, opts.Prefix)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements store.Store.
func (s *Store) Close() error { return s.client.Close() }

func (s *Store) docKey(collection, key string) string {
	return s.prefix + ":doc:" + collection + ":" + key
}

func (s *Store) indexKey(collection string) string {
	return s.prefix + ":idx:" + collection
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, collection, key string) (store.Document, error) {
	var all *redis.MapStringStringCmd
	var member *redis.BoolCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		all = pipe.HGetAll(ctx, s.docKey(collection, key))
		member = pipe.SIsMember(ctx, s.indexKey(collection), key)
		return nil
	})
	if err != nil {
		return store.Document{}, fmt.Errorf("redis get %s/%s: %w", collection, key, err)
	}
	if !member.Val() {
		return store.Document{}, store.ErrNotFound
	}
	fields, err := decodeHash(all.Val())
	if err != nil {
		return store.Document{}, fmt.Errorf("redis get %s/%s: %w", collection, key, err)
	}
	return store.Document{Collection: collection, Key: key, Fields: fields}, nil
}

// List implements store.Store.
func (s *Store) List(ctx context.Context, collection string) ([]store.Document, error) {
	keys, err := s.client.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", collection, err)
	}
	if len(keys) == 0 {
		return []store.Document{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.docKey(collection, key))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", collection, err)
	}

	docs := make([]store.Document, 0, len(keys))
	for i, key := range keys {
		fields, err := decodeHash(cmds[i].Val())
		if err != nil {
			return nil, fmt.Errorf("redis list %s/%s: %w", collection, key, err)
		}
		docs = append(docs, store.Document{Collection: collection, Key: key, Fields: fields})
	}
	store.SortDocuments(docs)
	return docs, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Put implements store.Store. A merge is a plain HSET; a replace clears
// the hash first inside MULTI.
func (s *Store) Put(ctx context.Context, collection, key string, fields store.Fields, opts ...store.PutOption) error {
	args, err := encodeHash(fields)
	if err != nil {
		return fmt.Errorf("redis put %s/%s: %w", collection, key, err)
	}
	merge := store.IsMerge(opts)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if !merge {
			pipe.Del(ctx, s.docKey(collection, key))
		}
		if len(args) > 0 {
			pipe.HSet(ctx, s.docKey(collection, key), args...)
		}
		pipe.SAdd(ctx, s.indexKey(collection), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, collection, key string) error {
	keys := []string{s.docKey(collection, key), s.indexKey(collection)}
	if err := deleteScript.Run(ctx, s.client, keys, key).Err(); err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Increment implements store.Store with a single HINCRBYFLOAT.
func (s *Store) Increment(ctx context.Context, collection, key, field string, delta float64) error {
	keys := []string{s.docKey(collection, key), s.indexKey(collection)}
	err := incrementScript.Run(ctx, s.client, keys, field, strconv.FormatFloat(delta, 'f', -1, 64), key).Err()
	if err != nil {
		if strings.Contains(err.Error(), "float") {
			return fmt.Errorf("redis increment %s/%s: %w: %s", collection, key, store.ErrNotNumeric, field)
		}
		return fmt.Errorf("redis increment %s/%s: %w", collection, key, err)
	}
	return nil
}

// AppendToSet implements store.Store as an optimistic transaction.
func (s *Store) AppendToSet(ctx context.Context, collection, key, field string, value any) error {
	return s.RunTx(ctx, func(tx store.Tx) error {
		return tx.AppendToSet(collection, key, field, value)
	})
}

// RunTx implements store.Store with WATCH/MULTI/EXEC. Every document
// read in fn is watched; a concurrent change aborts EXEC and fn is
// retried.
func (s *Store) RunTx(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			st := store.NewStaging(func(collection, key string) (store.Fields, bool, error) {
				return s.watchAndRead(ctx, rtx, collection, key)
			})
			if err := fn(st); err != nil {
				return err
			}
			changes := st.Changes()
			if len(changes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, c := range changes {
					if err := s.queueChange(ctx, pipe, c); err != nil {
						return err
					}
				}
				return nil
			})
			return err
		})
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err := sleepJitter(ctx, attempt); err != nil {
			return err
		}
	}
	return store.ErrConflict
}

func (s *Store) watchAndRead(ctx context.Context, rtx *redis.Tx, collection, key string) (store.Fields, bool, error) {
	docKey, idxKey := s.docKey(collection, key), s.indexKey(collection)
	if err := rtx.Watch(ctx, docKey, idxKey).Err(); err != nil {
		return nil, false, err
	}
	member, err := rtx.SIsMember(ctx, idxKey, key).Result()
	if err != nil {
		return nil, false, err
	}
	if !member {
		return nil, false, nil
	}
	raw, err := rtx.HGetAll(ctx, docKey).Result()
	if err != nil {
		return nil, false, err
	}
	fields, err := decodeHash(raw)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

func (s *Store) queueChange(ctx context.Context, pipe redis.Pipeliner, c store.Change) error {
	docKey, idxKey := s.docKey(c.Collection, c.Key), s.indexKey(c.Collection)
	pipe.Del(ctx, docKey)
	if c.Deleted() {
		pipe.SRem(ctx, idxKey, c.Key)
		return nil
	}
	args, err := encodeHash(c.Fields)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		pipe.HSet(ctx, docKey, args...)
	}
	pipe.SAdd(ctx, idxKey, c.Key)
	return nil
}

func sleepJitter(ctx context.Context, attempt int) error {
	d := time.Duration(rand.IntN(attempt+1)+1) * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func encodeHash(fields store.Fields) ([]any, error) {
	norm, err := store.Normalize(fields)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, 2*len(norm))
	for k, v := range norm {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		args = append(args, k, string(raw))
	}
	return args, nil
}

func decodeHash(raw map[string]string) (store.Fields, error) {
	fields := make(store.Fields, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		fields[k] = val
	}
	return fields, nil
}
