// Package redisstore keeps documents in Redis.
//
// A document lives in a string key as {"v": version, "f": fields}. Every
// collection has a sorted set of child ids scored by first insertion, and
// every write publishes the change on the channels of the document and of its
// collection inside the same MULTI, so subscribers see changes in commit order.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/store"
)

const (
	DefaultPrefix = "livelook"
	maxTxAttempts = 16
)

type envelope struct {
	Version int64        `json:"v"`
	Fields  store.Fields `json:"f"`
}

type event struct {
	Type    store.ChangeType `json:"t"`
	Path    store.Path       `json:"p"`
	Version int64            `json:"v"`
	Fields  store.Fields     `json:"f,omitempty"`
}

type Store struct {
	rdb    *redis.Client
	prefix string

	mu       sync.Mutex
	closed   bool
	watchers map[*watcher]struct{}
}

// New takes ownership of rdb; Close closes it.
func New(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		rdb:      rdb,
		prefix:   prefix,
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *Store) docKey(path store.Path) string {
	return s.prefix + ":doc:" + string(path)
}

func (s *Store) childrenKey(collection store.Path) string {
	return s.prefix + ":children:" + string(collection)
}

func (s *Store) channel(path store.Path) string {
	return s.prefix + ":changes:" + string(path)
}

func (s *Store) versionKey() string {
	return s.prefix + ":version"
}

func (s *Store) Get(ctx context.Context, path store.Path) (store.Document, error) {
	if err := path.ValidateDocument(); err != nil {
		return store.Document{}, err
	}
	if err := s.check(); err != nil {
		return store.Document{}, err
	}

	snap, err := s.read(ctx, s.rdb, path)
	if err != nil {
		return store.Document{}, err
	}
	if !snap.Exists {
		return store.Document{}, store.ErrNotFound
	}
	return snap.Document, nil
}

func (s *Store) Put(ctx context.Context, path store.Path, fields store.Fields, opts ...store.PutOption) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}
	o := store.NewPutOptions(opts...)

	return s.mutate(ctx, path, func(m *store.Mutation) error {
		if o.Merge {
			m.Merge(fields)
		} else {
			m.Set(fields)
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, path store.Path) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}

	return s.mutate(ctx, path, func(m *store.Mutation) error {
		m.Delete()
		return nil
	})
}

func (s *Store) Transact(ctx context.Context, path store.Path, fn func(tx store.Tx) error) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}

	return s.mutate(ctx, path, func(m *store.Mutation) error {
		return fn(m)
	})
}

func (s *Store) List(ctx context.Context, collection store.Path) ([]store.Document, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}
	if err := s.check(); err != nil {
		return nil, err
	}

	return s.list(ctx, collection)
}

func (s *Store) list(ctx context.Context, collection store.Path) ([]store.Document, error) {
	ids, err := s.rdb.ZRange(ctx, s.childrenKey(collection), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []store.Document{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.docKey(collection.Child(id)))
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]store.Document, 0, len(ids))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// removed between ZRANGE and MGET
			continue
		}
		doc, err := decode(collection.Child(ids[i]), []byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	watchers := s.watchers
	s.watchers = make(map[*watcher]struct{})
	s.mu.Unlock()

	for w := range watchers {
		w.stop()
	}
	return s.rdb.Close()
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) read(ctx context.Context, c redis.Cmdable, path store.Path) (store.Snapshot, error) {
	raw, err := c.Get(ctx, s.docKey(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Snapshot{Document: store.Document{Path: path}}, nil
	}
	if err != nil {
		return store.Snapshot{}, err
	}

	doc, err := decode(path, raw)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Document: doc, Exists: true}, nil
}

// mutate runs fn under WATCH on the document key and commits its result with
// MULTI/EXEC, retrying when another writer touched the key first.
func (s *Store) mutate(ctx context.Context, path store.Path, fn func(m *store.Mutation) error) error {
	if err := s.check(); err != nil {
		return err
	}

	key := s.docKey(path)
	parent := path.Parent()

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := s.read(ctx, tx, path)
			if err != nil {
				return err
			}

			m := &store.Mutation{Current: current}
			if err := fn(m); err != nil {
				return err
			}

			fields, exists, changed := m.Result()
			if !changed {
				return nil
			}

			version, err := tx.Incr(ctx, s.versionKey()).Result()
			if err != nil {
				return err
			}

			ev := event{Type: store.Removed, Path: path, Version: version}
			if exists {
				ev.Type = store.Modified
				if !current.Exists {
					ev.Type = store.Added
				}
				ev.Fields = fields
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if exists {
					value, err := json.Marshal(envelope{Version: version, Fields: fields})
					if err != nil {
						return err
					}
					pipe.Set(ctx, key, value, 0)
					pipe.ZAddNX(ctx, s.childrenKey(parent), &redis.Z{Score: float64(version), Member: path.ID()})
				} else {
					pipe.Del(ctx, key)
					pipe.ZRem(ctx, s.childrenKey(parent), path.ID())
				}
				pipe.Publish(ctx, s.channel(parent), payload)
				pipe.Publish(ctx, s.channel(path), payload)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			log.Debug().Str("service", "store").Str("path", string(path)).Int("attempt", attempt).Msg("redis transaction conflict, retrying")
			continue
		}
		return err
	}

	return fmt.Errorf("%s: %w", path, store.ErrConflict)
}

func decode(path store.Path, raw []byte) (store.Document, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return store.Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return store.Document{Path: path, Fields: env.Fields, Version: env.Version}, nil
}
