// Package natsstore keeps documents in a NATS JetStream key-value bucket.
//
// Paths map to keys by replacing '/' with '.', so the direct children of a
// collection are matched by the "<collection>.*" subject filter. The bucket
// revision of a key is the document version; writes are compare-and-set on it.
package natsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/store"
)

const (
	DefaultBucket = "livelook"
	maxTxAttempts = 16

	// JetStream "wrong last sequence" API error code returned on a lost CAS.
	errCodeWrongLastSequence nats.ErrorCode = 10071
)

// envelope keeps the revision of the first write so children can be listed in
// insertion order. Created is zero on the first write: that write's own revision.
type envelope struct {
	Created uint64       `json:"c,omitempty"`
	Fields  store.Fields `json:"f"`
}

type Store struct {
	nc *nats.Conn
	kv nats.KeyValue

	mu       sync.Mutex
	closed   bool
	watchers map[*watcher]struct{}
}

// Connect dials url and opens (or creates) the bucket.
func Connect(url, bucket string) (*Store, error) {
	nc, err := nats.Connect(url, nats.NoEcho())
	if err != nil {
		return nil, err
	}

	s, err := New(nc, bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// New takes ownership of nc; Close drains it.
func New(nc *nats.Conn, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      bucket,
			Description: "livelook session documents",
			History:     1,
			Storage:     nats.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}

	return &Store{
		nc:       nc,
		kv:       kv,
		watchers: make(map[*watcher]struct{}),
	}, nil
}

func key(path store.Path) string {
	return strings.ReplaceAll(string(path), "/", ".")
}

func pathOf(key string) store.Path {
	return store.Path(strings.ReplaceAll(key, ".", "/"))
}

func (s *Store) Get(ctx context.Context, path store.Path) (store.Document, error) {
	if err := path.ValidateDocument(); err != nil {
		return store.Document{}, err
	}
	if err := s.check(ctx); err != nil {
		return store.Document{}, err
	}

	snap, _, err := s.read(path)
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
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	w, err := s.kv.Watch(key(collection)+".*", nats.IgnoreDeletes(), nats.Context(ctx))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = w.Stop()
	}()

	entries := make([]nats.KeyValueEntry, 0)
	for entry := range w.Updates() {
		if entry == nil {
			break
		}
		entries = append(entries, entry)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return documents(entries)
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
	return s.nc.Drain()
}

func (s *Store) check(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.ErrClosed
	}
	return ctx.Err()
}

// read returns the snapshot, whose Version is the revision to CAS on, and the
// revision of the document's first write.
func (s *Store) read(path store.Path) (store.Snapshot, uint64, error) {
	entry, err := s.kv.Get(key(path))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return store.Snapshot{Document: store.Document{Path: path}}, 0, nil
	}
	if err != nil {
		return store.Snapshot{}, 0, err
	}

	doc, created, err := decode(entry)
	if err != nil {
		return store.Snapshot{}, 0, err
	}
	return store.Snapshot{Document: doc, Exists: true}, created, nil
}

func (s *Store) mutate(ctx context.Context, path store.Path, fn func(m *store.Mutation) error) error {
	k := key(path)

	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if err := s.check(ctx); err != nil {
			return err
		}

		current, created, err := s.read(path)
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

		switch {
		case exists && current.Exists:
			var value []byte
			value, err = json.Marshal(envelope{Created: created, Fields: fields})
			if err != nil {
				return err
			}
			_, err = s.kv.Update(k, value, uint64(current.Version))
		case exists:
			var value []byte
			value, err = json.Marshal(envelope{Fields: fields})
			if err != nil {
				return err
			}
			_, err = s.kv.Create(k, value)
		default:
			err = s.kv.Delete(k, nats.LastRevision(uint64(current.Version)))
		}

		if isConflict(err) {
			log.Debug().Str("service", "store").Str("path", string(path)).Int("attempt", attempt).Msg("kv revision conflict, retrying")
			continue
		}
		return err
	}

	return fmt.Errorf("%s: %w", path, store.ErrConflict)
}

func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}

	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == errCodeWrongLastSequence
}

func decode(entry nats.KeyValueEntry) (store.Document, uint64, error) {
	path := pathOf(entry.Key())

	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return store.Document{}, 0, fmt.Errorf("decode %s: %w", path, err)
	}

	created := env.Created
	if created == 0 {
		created = entry.Revision()
	}
	return store.Document{Path: path, Fields: env.Fields, Version: int64(entry.Revision())}, created, nil
}

// documents decodes put entries and orders them by first insertion.
func documents(entries []nats.KeyValueEntry) ([]store.Document, error) {
	type child struct {
		created uint64
		doc     store.Document
	}

	children := make([]child, 0, len(entries))
	for _, entry := range entries {
		if entry.Operation() != nats.KeyValuePut {
			continue
		}
		doc, created, err := decode(entry)
		if err != nil {
			return nil, err
		}
		children = append(children, child{created: created, doc: doc})
	}

	sort.Slice(children, func(i, j int) bool {
		return children[i].created < children[j].created
	})

	docs := make([]store.Document, 0, len(children))
	for _, c := range children {
		docs = append(docs, c.doc)
	}
	return docs, nil
}
