package redisstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/store"
)

type watcher struct {
	pubsub *redis.PubSub

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

	if err := w.pubsub.Close(); err != nil {
		log.Debug().Err(err).Str("service", "store").Msg("close redis subscription")
	}
}

// subscribe opens the change channel of path and waits until Redis confirms
// it, so nothing committed after the snapshot that follows can be missed.
func (s *Store) subscribe(ctx context.Context, path store.Path) (*watcher, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	pubsub := s.rdb.Subscribe(context.Background(), s.channel(path))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	w := &watcher{pubsub: pubsub}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = pubsub.Close()
		return nil, store.ErrClosed
	}
	s.watchers[w] = struct{}{}
	s.mu.Unlock()

	return w, nil
}

func (s *Store) subscription(w *watcher) store.Subscription {
	return store.SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()

		w.stop()
	})
}

func (s *Store) WatchCollection(ctx context.Context, collection store.Path, fn func(store.Change)) (store.Subscription, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}

	w, err := s.subscribe(ctx, collection)
	if err != nil {
		return nil, err
	}
	sub := s.subscription(w)

	docs, err := s.list(ctx, collection)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	go func() {
		known := make(map[string]int64, len(docs))
		for _, doc := range docs {
			known[doc.ID()] = doc.Version
			if !w.active() {
				return
			}
			fn(store.Change{Type: store.Added, Document: doc})
		}

		for msg := range w.pubsub.Channel() {
			ev, ok := parseEvent(msg)
			if !ok {
				continue
			}

			id := ev.Path.ID()
			last, seen := known[id]
			change := store.Change{Document: store.Document{Path: ev.Path, Fields: ev.Fields, Version: ev.Version}}

			if ev.Type == store.Removed {
				if !seen || last >= ev.Version {
					continue
				}
				delete(known, id)
				change.Type = store.Removed
			} else {
				if seen && last >= ev.Version {
					continue
				}
				if !seen {
					// the event may predate the snapshot and its document may be gone already
					current, err := s.read(context.Background(), s.rdb, ev.Path)
					if err != nil || !current.Exists {
						continue
					}
					change.Document = current.Document
				}
				known[id] = change.Document.Version
				change.Type = store.Added
				if seen {
					change.Type = store.Modified
				}
			}

			if !w.active() {
				return
			}
			fn(change)
		}
	}()

	return sub, nil
}

func (s *Store) WatchDocument(ctx context.Context, path store.Path, fn func(store.Snapshot)) (store.Subscription, error) {
	if err := path.ValidateDocument(); err != nil {
		return nil, err
	}

	w, err := s.subscribe(ctx, path)
	if err != nil {
		return nil, err
	}
	sub := s.subscription(w)

	current, err := s.read(ctx, s.rdb, path)
	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	go func() {
		if !w.active() {
			return
		}
		fn(current)

		last := current.Version
		for msg := range w.pubsub.Channel() {
			ev, ok := parseEvent(msg)
			if !ok || ev.Version <= last {
				continue
			}
			last = ev.Version

			snap := store.Snapshot{Document: store.Document{Path: path, Version: ev.Version}}
			if ev.Type != store.Removed {
				snap.Fields = ev.Fields
				snap.Exists = true
			}

			if !w.active() {
				return
			}
			fn(snap)
		}
	}()

	return sub, nil
}

func parseEvent(msg *redis.Message) (event, bool) {
	var ev event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		log.Error().Err(err).Str("service", "store").Str("channel", msg.Channel).Msg("malformed change event")
		return ev, false
	}
	return ev, true
}
