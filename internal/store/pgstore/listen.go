package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/store"
)

const reconnectDelay = time.Second

var errNoListener = errors.New("pgstore: watching needs a dsn")

type listener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *listener) close() {
	l.cancel()
	<-l.done
}

type item struct {
	init bool
	n    notification
}

type watcher struct {
	path       store.Path
	collection bool
	feed       *store.Feed[item]
}

func (s *Store) connectListener(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, s.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}
	return conn, nil
}

func (s *Store) ensureListener(ctx context.Context) error {
	s.mu.Lock()
	running := s.listener != nil
	s.mu.Unlock()

	if running {
		return nil
	}
	if s.dsn == "" {
		return errNoListener
	}

	conn, err := s.connectListener(ctx)
	if err != nil {
		return err
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &listener{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed || s.listener != nil {
		closed := s.closed
		s.mu.Unlock()
		cancel()
		_ = conn.Close(context.Background())
		if closed {
			return store.ErrClosed
		}
		return nil
	}
	s.listener = l
	s.mu.Unlock()

	go s.listen(lctx, conn, l)
	return nil
}

func (s *Store) listen(ctx context.Context, conn *pgx.Conn, l *listener) {
	defer close(l.done)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
	}()

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}

			var err error
			conn, err = s.connectListener(ctx)
			if err != nil {
				log.Error().Err(err).Str("service", "store").Msg("reconnect postgres listener")
				conn = nil
				continue
			}
			log.Warn().Str("service", "store").Msg("postgres listener reconnected, changes in between were not observed")
		}

		msg, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("service", "store").Msg("wait for postgres notification")
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}

		n := notification{}
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			log.Error().Err(err).Str("service", "store").Str("payload", msg.Payload).Msg("malformed notification")
			continue
		}
		s.dispatch(n)
	}
}

func (s *Store) dispatch(n notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for w := range s.watchers {
		if (w.collection && w.path == n.Path.Parent()) || (!w.collection && w.path == n.Path) {
			w.feed.Push(item{n: n})
		}
	}
}

// register adds the watcher and queues its initial read in one step, so every
// notification dispatched afterwards is handled after the snapshot.
func (s *Store) register(w *watcher, handle func(item)) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	w.feed = store.NewFeed(handle)
	w.feed.Push(item{init: true})
	s.watchers[w] = struct{}{}

	return store.SubscriptionFunc(func() {
		s.mu.Lock()
		delete(s.watchers, w)
		s.mu.Unlock()

		w.feed.Stop()
	}), nil
}

func (s *Store) WatchCollection(ctx context.Context, collection store.Path, fn func(store.Change)) (store.Subscription, error) {
	if err := collection.ValidateCollection(); err != nil {
		return nil, err
	}
	if err := s.ensureListener(ctx); err != nil {
		return nil, err
	}

	w := &watcher{path: collection, collection: true}
	known := make(map[string]int64)

	return s.register(w, func(it item) {
		bg := context.Background()

		if it.init {
			docs, err := s.List(bg, collection)
			if err != nil {
				log.Error().Err(err).Str("service", "store").Str("collection", string(collection)).Msg("initial list")
				return
			}
			for _, doc := range docs {
				known[doc.ID()] = doc.Version
				if !w.feed.Active() {
					return
				}
				fn(store.Change{Type: store.Added, Document: doc})
			}
			return
		}

		id := it.n.Path.ID()
		last, seen := known[id]

		if it.n.Type == store.Removed {
			if !seen || last >= it.n.Version {
				return
			}
			delete(known, id)
			if w.feed.Active() {
				fn(store.Change{Type: store.Removed, Document: store.Document{Path: it.n.Path, Version: it.n.Version}})
			}
			return
		}

		if seen && last >= it.n.Version {
			return
		}
		doc, err := s.get(bg, it.n.Path)
		if err != nil {
			// gone again: its removal is queued behind this one
			return
		}
		if seen && last >= doc.Version {
			return
		}
		known[id] = doc.Version

		change := store.Change{Type: store.Added, Document: doc}
		if seen {
			change.Type = store.Modified
		}
		if w.feed.Active() {
			fn(change)
		}
	})
}

func (s *Store) WatchDocument(ctx context.Context, path store.Path, fn func(store.Snapshot)) (store.Subscription, error) {
	if err := path.ValidateDocument(); err != nil {
		return nil, err
	}
	if err := s.ensureListener(ctx); err != nil {
		return nil, err
	}

	w := &watcher{path: path}
	var last int64

	return s.register(w, func(it item) {
		bg := context.Background()

		if !it.init && it.n.Version <= last {
			return
		}

		snap := store.Snapshot{Document: store.Document{Path: path}}
		if it.init || it.n.Type != store.Removed {
			doc, err := s.get(bg, path)
			switch {
			case err == nil:
				snap = store.Snapshot{Document: doc, Exists: true}
			case errors.Is(err, store.ErrNotFound):
				if !it.init {
					return
				}
			default:
				log.Error().Err(err).Str("service", "store").Str("path", string(path)).Msg("read watched document")
				return
			}
		} else {
			snap.Version = it.n.Version
		}

		if snap.Version > last {
			last = snap.Version
		}
		if w.feed.Active() {
			fn(snap)
		}
	})
}
