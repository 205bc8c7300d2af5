package natsstore

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/store"
)

type watcher struct {
	kw nats.KeyWatcher

	mu      sync.Mutex
	stopped bool
}

func (w *watcher) active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.stopped
}

func (w *watcher) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()

	if err := w.kw.Stop(); err != nil {
		log.Debug().Err(err).Str("service", "store").Msg("stop kv watcher")
	}
}

func (s *Store) watch(ctx context.Context, filter string) (*watcher, store.Subscription, error) {
	if err := s.check(ctx); err != nil {
		return nil, nil, err
	}

	kw, err := s.kv.Watch(filter)
	if err != nil {
		return nil, nil, err
	}
	w := &watcher{kw: kw}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = kw.Stop()
		return nil, nil, store.ErrClosed
	}
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	sub := store.SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()

		w.stop()
	})
	return w, sub, nil
}

// WatchCollection collects the initial values up to the watcher's nil marker,
// delivers them in insertion order, then streams live updates.
func (s *Store) WatchCollection(ctx context.Context, collection store.Path, fn func(store.Change)) (store.Subscription, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}

	w, sub, err := s.watch(ctx, key(collection)+".*")
	if err != nil {
		return nil, err
	}

	go func() {
		initial := make([]nats.KeyValueEntry, 0)
		known := make(map[string]bool)
		live := false

		for entry := range w.kw.Updates() {
			if !live {
				if entry != nil {
					initial = append(initial, entry)
					continue
				}
				live = true

				docs, err := documents(initial)
				if err != nil {
					log.Error().Err(err).Str("service", "store").Str("collection", string(collection)).Msg("decode initial values")
				}
				for _, doc := range docs {
					known[doc.ID()] = true
					if !w.active() {
						return
					}
					fn(store.Change{Type: store.Added, Document: doc})
				}
				continue
			}
			if entry == nil {
				continue
			}

			change, ok := toChange(entry, known)
			if !ok {
				continue
			}
			if !w.active() {
				return
			}
			fn(change)
		}
	}()

	return sub, nil
}

func toChange(entry nats.KeyValueEntry, known map[string]bool) (store.Change, bool) {
	path := pathOf(entry.Key())
	id := path.ID()

	if entry.Operation() != nats.KeyValuePut {
		if !known[id] {
			return store.Change{}, false
		}
		delete(known, id)
		return store.Change{
			Type:     store.Removed,
			Document: store.Document{Path: path, Version: int64(entry.Revision())},
		}, true
	}

	doc, _, err := decode(entry)
	if err != nil {
		log.Error().Err(err).Str("service", "store").Msg("decode kv entry")
		return store.Change{}, false
	}

	change := store.Change{Type: store.Added, Document: doc}
	if known[id] {
		change.Type = store.Modified
	}
	known[id] = true
	return change, true
}

func (s *Store) WatchDocument(ctx context.Context, path store.Path, fn func(store.Snapshot)) (store.Subscription, error) {
	if err := path.ValidateDocument(); err != nil {
		return nil, err
	}

	w, sub, err := s.watch(ctx, key(path))
	if err != nil {
		return nil, err
	}

	go func() {
		current := store.Snapshot{Document: store.Document{Path: path}}
		live := false

		for entry := range w.kw.Updates() {
			if entry == nil {
				if live {
					continue
				}
				live = true
			} else {
				current = toSnapshot(path, entry)
				if !live {
					continue
				}
			}

			if !w.active() {
				return
			}
			fn(current)
		}
	}()

	return sub, nil
}

func toSnapshot(path store.Path, entry nats.KeyValueEntry) store.Snapshot {
	snap := store.Snapshot{Document: store.Document{Path: path, Version: int64(entry.Revision())}}
	if entry.Operation() != nats.KeyValuePut {
		return snap
	}

	doc, _, err := decode(entry)
	if err != nil {
		log.Error().Err(err).Str("service", "store").Str("path", string(path)).Msg("decode kv entry")
		return snap
	}
	return store.Snapshot{Document: doc, Exists: true}
}
