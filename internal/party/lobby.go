// Package party joins participants to watch-party sessions and owns their
// lifetime, including the delayed cleanup after they leave.
package party

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/config"
	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/presence"
	"github.com/isqad/livelook-party/internal/rtc"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/telemetry"
)

var (
	ErrAlreadyJoined = errors.New("party: participant already joined")
	ErrLeft          = errors.New("party: participant left")
	ErrLobbyClosed   = errors.New("party: lobby closed")
)

type Options struct {
	Session   config.SessionConfig
	Playback  config.PlaybackConfig
	Transport rtc.Transport
}

func NewOptions(conf *config.Config, transport rtc.Transport) Options {
	return Options{
		Session:   conf.Session,
		Playback:  conf.Playback,
		Transport: transport,
	}
}

type pendingCleanup struct {
	timer  *time.Timer
	client *Client
}

type key struct {
	sessionID core.SessionID
	id        core.ParticipantID
}

// Lobby keeps the clients of one process.
type Lobby struct {
	store store.Store
	opts  Options

	lock    sync.Mutex
	closed  bool
	clients map[key]*Client
	pending map[key]*pendingCleanup
	cleanup sync.WaitGroup
}

func NewLobby(st store.Store, opts Options) *Lobby {
	return &Lobby{
		store:   st,
		opts:    opts,
		clients: make(map[key]*Client),
		pending: make(map[key]*pendingCleanup),
	}
}

// Join starts a client. A rejoin within the grace window keeps the presence
// record and the mailbox of the previous join.
func (l *Lobby) Join(ctx context.Context, sessionID core.SessionID, self core.Participant) (*Client, error) {
	k := key{sessionID: sessionID, id: self.ID}

	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return nil, ErrLobbyClosed
	}
	if _, ok := l.clients[k]; ok {
		l.lock.Unlock()
		return nil, ErrAlreadyJoined
	}
	if p, ok := l.pending[k]; ok {
		delete(l.pending, k)
		if p.timer.Stop() {
			l.cleanup.Done()
		}
		log.Debug().
			Str("service", "party").
			Str("participantID", self.ID.String()).
			Msg("rejoined within grace, cleanup cancelled")
	}
	c := newClient(l.store, l.opts, sessionID, self)
	l.clients[k] = c
	l.lock.Unlock()

	if err := c.start(ctx, l.opts); err != nil {
		c.stop()
		l.lock.Lock()
		delete(l.clients, k)
		l.lock.Unlock()
		telemetry.Operation("join", err, "")
		return nil, fmt.Errorf("join %s: %w", c, err)
	}
	telemetry.Operation("join", nil, "")

	log.Info().
		Str("service", "party").
		Str("participantID", self.ID.String()).
		Str("sessionID", sessionID.String()).
		Msg("joined")

	return c, nil
}

// Leave stops c now and retracts its presence after the grace window.
func (l *Lobby) Leave(c *Client) {
	k := key{sessionID: c.sessionID, id: c.self.ID}

	l.lock.Lock()
	if l.clients[k] != c {
		l.lock.Unlock()
		return
	}
	delete(l.clients, k)
	l.lock.Unlock()

	c.stop()

	l.lock.Lock()
	defer l.lock.Unlock()

	l.cleanup.Add(1)
	if l.closed || l.opts.Session.Grace <= 0 {
		go l.runCleanup(c)
		return
	}

	p := &pendingCleanup{client: c}
	p.timer = time.AfterFunc(l.opts.Session.Grace, func() {
		l.lock.Lock()
		if l.pending[k] != p {
			// cancelled by a rejoin after the timer fired
			l.lock.Unlock()
			l.cleanup.Done()
			return
		}
		delete(l.pending, k)
		l.lock.Unlock()

		l.runCleanup(c)
	})
	l.pending[k] = p
}

func (l *Lobby) runCleanup(c *Client) {
	defer l.cleanup.Done()
	l.retract(c)
}

func (l *Lobby) retract(c *Client) {
	ctx := context.Background()
	logger := log.With().
		Str("service", "party").
		Str("participantID", c.self.ID.String()).
		Str("sessionID", c.sessionID.String()).
		Logger()

	if err := c.registry.Retract(ctx); err != nil {
		logger.Error().Err(err).Msg("retract presence")
		return
	}

	purged, err := presence.PurgeIfEmpty(ctx, l.store, c.sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("purge messages")
		return
	}
	if purged {
		logger.Info().Msg("session empty, messages purged")
	}
}

// Clients returns the clients that have joined and not left.
func (l *Lobby) Clients() []*Client {
	l.lock.Lock()
	defer l.lock.Unlock()

	clients := make([]*Client, 0, len(l.clients))
	for _, c := range l.clients {
		clients = append(clients, c)
	}
	return clients
}

// Close leaves every client and runs pending cleanups without waiting for the grace window.
func (l *Lobby) Close() {
	l.lock.Lock()
	if l.closed {
		l.lock.Unlock()
		return
	}
	l.closed = true
	clients := make([]*Client, 0, len(l.clients))
	for _, c := range l.clients {
		clients = append(clients, c)
	}
	l.lock.Unlock()

	for _, c := range clients {
		l.Leave(c)
	}

	l.lock.Lock()
	for k, p := range l.pending {
		if p.timer.Stop() {
			delete(l.pending, k)
			go l.runCleanup(p.client)
		}
	}
	l.lock.Unlock()

	l.cleanup.Wait()
}
