// Package memstore keeps documents in process memory. It backs tests and
// single-process sessions where every participant shares one Store value.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/isqad/livelook-party/internal/store"
)

type entry struct {
	fields  store.Fields
	version int64
	// seq orders children of a collection by first insertion
	seq int64
}

type Store struct {
	mu       sync.Mutex
	closed   bool
	version  int64
	seq      int64
	docs     map[store.Path]*entry
	watchers map[*watcher]struct{}
}

func New() *Store {
	return &Store{
		docs:     make(map[store.Path]*entry),
		watchers: make(map[*watcher]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, path store.Path) (store.Document, error) {
	if err := path.ValidateDocument(); err != nil {
		return store.Document{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return store.Document{}, err
	}

	e, ok := s.docs[path]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return e.document(path), nil
}

func (s *Store) Put(ctx context.Context, path store.Path, fields store.Fields, opts ...store.PutOption) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}
	o := store.NewPutOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	if o.Merge {
		if e, ok := s.docs[path]; ok {
			fields = fields.MergeInto(e.fields)
		}
	}
	s.write(path, fields)

	return nil
}

func (s *Store) Delete(ctx context.Context, path store.Path) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	s.remove(path)
	return nil
}

func (s *Store) List(ctx context.Context, collection store.Path) ([]store.Document, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	return s.children(collection), nil
}

func (s *Store) WatchCollection(ctx context.Context, collection store.Path, fn func(store.Change)) (store.Subscription, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	w := &watcher{path: collection, collection: true, changes: store.NewFeed(fn)}
	for _, doc := range s.children(collection) {
		w.changes.Push(store.Change{Type: store.Added, Document: doc})
	}
	s.watchers[w] = struct{}{}

	return s.subscription(w), nil
}

func (s *Store) WatchDocument(ctx context.Context, path store.Path, fn func(store.Snapshot)) (store.Subscription, error) {
	if err := path.ValidateDocument(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return nil, err
	}

	w := &watcher{path: path, snapshots: store.NewFeed(fn)}
	w.snapshots.Push(s.snapshot(path))
	s.watchers[w] = struct{}{}

	return s.subscription(w), nil
}

func (s *Store) Transact(ctx context.Context, path store.Path, fn func(tx store.Tx) error) error {
	if err := path.ValidateDocument(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(ctx); err != nil {
		return err
	}

	tx := &store.Mutation{Current: s.snapshot(path)}
	if err := fn(tx); err != nil {
		return err
	}

	if fields, exists, changed := tx.Result(); changed {
		if exists {
			s.write(path, fields)
		} else {
			s.remove(path)
		}
	}

	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for w := range s.watchers {
		w.stop()
		delete(s.watchers, w)
	}
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return store.ErrClosed
	}
	return ctx.Err()
}

func (s *Store) subscription(w *watcher) store.Subscription {
	return store.SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()

		w.stop()
	})
}

func (s *Store) write(path store.Path, fields store.Fields) {
	s.version++

	e, existed := s.docs[path]
	if !existed {
		s.seq++
		e = &entry{seq: s.seq}
		s.docs[path] = e
	}
	e.fields = fields.Clone()
	e.version = s.version

	change := store.Change{Type: store.Modified, Document: e.document(path)}
	if !existed {
		change.Type = store.Added
	}
	s.notify(path, change)
}

func (s *Store) remove(path store.Path) {
	e, ok := s.docs[path]
	if !ok {
		return
	}
	delete(s.docs, path)

	s.version++
	doc := e.document(path)
	doc.Version = s.version
	s.notify(path, store.Change{Type: store.Removed, Document: doc})
}

func (s *Store) notify(path store.Path, change store.Change) {
	for w := range s.watchers {
		switch {
		case w.collection && w.path == path.Parent():
			w.changes.Push(change)
		case !w.collection && w.path == path:
			snapshot := store.Snapshot{Document: change.Document, Exists: change.Type != store.Removed}
			if !snapshot.Exists {
				snapshot.Fields = nil
			}
			w.snapshots.Push(snapshot)
		}
	}
}

func (s *Store) snapshot(path store.Path) store.Snapshot {
	e, ok := s.docs[path]
	if !ok {
		return store.Snapshot{Document: store.Document{Path: path}}
	}
	return store.Snapshot{Document: e.document(path), Exists: true}
}

func (s *Store) children(collection store.Path) []store.Document {
	type child struct {
		seq int64
		doc store.Document
	}

	children := make([]child, 0)
	for p, e := range s.docs {
		if p.Parent() == collection {
			children = append(children, child{seq: e.seq, doc: e.document(p)})
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].seq < children[j].seq
	})

	docs := make([]store.Document, 0, len(children))
	for _, c := range children {
		docs = append(docs, c.doc)
	}
	return docs
}

func (e *entry) document(path store.Path) store.Document {
	return store.Document{Path: path, Fields: e.fields.Clone(), Version: e.version}
}

type watcher struct {
	path       store.Path
	collection bool
	changes    *store.Feed[store.Change]
	snapshots  *store.Feed[store.Snapshot]
}

func (w *watcher) stop() {
	if w.collection {
		w.changes.Stop()
	} else {
		w.snapshots.Stop()
	}
}
