// Package host elects the participant that controls playback.
//
// The claim re-reads the session document inside a store transaction and
// only writes hostId when it is still empty. A held claim is never contested
// and never handed off.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/eventloop"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/telemetry"
)

type Coordinator struct {
	store     store.Store
	loop      *eventloop.Loop
	sessionID core.SessionID
	self      core.ParticipantID
	now       func() time.Time

	mu     sync.RWMutex
	hostID core.ParticipantID

	ctx    context.Context
	cancel context.CancelFunc
	sub    store.Subscription

	onChange func(core.ParticipantID)
}

func NewCoordinator(st store.Store, loop *eventloop.Loop, sessionID core.SessionID, self core.ParticipantID) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		store:     st,
		loop:      loop,
		sessionID: sessionID,
		self:      self,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// OnChange is called on the loop whenever the known host changes.
func (c *Coordinator) OnChange(f func(core.ParticipantID)) {
	c.onChange = f
}

func (c *Coordinator) HostID() core.ParticipantID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.hostID
}

func (c *Coordinator) IsHost() bool {
	return c.HostID() == c.self
}

// Watch observes the session document until Close.
func (c *Coordinator) Watch(ctx context.Context) error {
	sub, err := c.store.WatchDocument(ctx, store.SessionPath(c.sessionID), func(snap store.Snapshot) {
		c.loop.Post(func() {
			c.Observe(snap)
		})
	})
	if err != nil {
		return fmt.Errorf("watch session %s: %w", c.sessionID, err)
	}
	c.sub = sub

	return nil
}

func (c *Coordinator) Close() {
	c.cancel()
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

// Observe handles one snapshot of the session document. It runs on the loop.
func (c *Coordinator) Observe(snap store.Snapshot) {
	if c.ctx.Err() != nil {
		return
	}

	session := core.Session{}
	if snap.Exists {
		if err := snap.Decode(&session); err != nil {
			log.Error().Err(err).Str("service", "host").Str("sessionID", c.sessionID.String()).Msg("decode session")
			return
		}
	}

	if session.HasHost() {
		c.adopt(session.HostID)
		return
	}

	// claimed is stable, an empty snapshot is older than the claim we know of
	if c.HostID() != "" {
		return
	}

	c.claim()
}

func (c *Coordinator) claim() {
	var observed core.ParticipantID

	err := c.store.Transact(c.ctx, store.SessionPath(c.sessionID), func(tx store.Tx) error {
		snap := tx.Snapshot()

		session := core.Session{}
		if snap.Exists {
			if err := snap.Decode(&session); err != nil {
				return err
			}
		}

		if session.HasHost() {
			observed = session.HostID
			return nil
		}

		observed = c.self
		if !snap.Exists {
			tx.Set(store.MustFields(NewSession(c.self, c.now())))
			return nil
		}

		patch := core.Session{HostID: c.self}
		if session.PlayerState == nil {
			patch.PlayerState = &core.PlaybackState{}
		}
		if session.CreatedAt == nil {
			createdAt := c.now().UTC()
			patch.CreatedAt = &createdAt
		}
		tx.Merge(store.MustFields(patch))

		return nil
	})

	telemetry.Operation("host_claim", err, "")
	if err != nil {
		log.Error().Err(err).Str("service", "host").Str("participantID", c.self.String()).Msg("host claim failed, staying non-host")
		return
	}

	log.Debug().
		Str("service", "host").
		Str("participantID", c.self.String()).
		Str("hostID", observed.String()).
		Msg("host claim settled")

	c.adopt(observed)
}

func (c *Coordinator) adopt(hostID core.ParticipantID) {
	c.mu.Lock()
	changed := c.hostID != hostID
	c.hostID = hostID
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(hostID)
	}
}

// NewSession is the document written by the first participant of a session.
func NewSession(hostID core.ParticipantID, now time.Time) core.Session {
	createdAt := now.UTC()

	return core.Session{
		HostID:      hostID,
		PlayerState: &core.PlaybackState{},
		CreatedAt:   &createdAt,
	}
}
