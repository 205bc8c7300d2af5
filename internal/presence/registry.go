// Package presence publishes the local participant's liveness record and
// observes the roster of a session.
package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/eventloop"
	"github.com/isqad/livelook-party/internal/signaling"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/telemetry"
)

var errSuperseded = errors.New("presence record belongs to another incarnation")

type Registry struct {
	store       store.Store
	loop        *eventloop.Loop
	sessionID   core.SessionID
	self        core.Participant
	incarnation string
	now         func() time.Time
	joinedAt    time.Time

	// loop only
	records map[core.ParticipantID]Record

	mu     sync.RWMutex
	roster []core.Participant

	sub      store.Subscription
	onRoster func([]core.Participant)
	onRejoin func(core.ParticipantID)
}

func NewRegistry(st store.Store, loop *eventloop.Loop, sessionID core.SessionID, self core.Participant) *Registry {
	return &Registry{
		store:       st,
		loop:        loop,
		sessionID:   sessionID,
		self:        self,
		incarnation: uuid.NewString(),
		now:         time.Now,
		records:     map[core.ParticipantID]Record{},
	}
}

// OnRoster is called on the loop with the full roster whenever its members or names change.
func (r *Registry) OnRoster(f func([]core.Participant)) {
	r.onRoster = f
}

func (r *Registry) Roster() []core.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.roster)
}

func (r *Registry) Incarnation() string {
	return r.incarnation
}

func (r *Registry) record() Record {
	now := r.now().UTC()
	if r.joinedAt.IsZero() {
		r.joinedAt = now
	}

	return Record{
		ID:          r.self.ID,
		Name:        r.self.Name,
		Incarnation: r.incarnation,
		JoinedAt:    r.joinedAt,
		LastSeen:    now,
	}
}

// Join writes the own presence record.
func (r *Registry) Join(ctx context.Context) error {
	err := r.store.Put(ctx, store.PeerPath(r.sessionID, r.self.ID), store.MustFields(r.record()))
	telemetry.Operation("presence_join", err, "")
	if err != nil {
		return fmt.Errorf("write presence: %w", err)
	}

	log.Debug().
		Str("service", "presence").
		Str("participantID", r.self.ID.String()).
		Str("sessionID", r.sessionID.String()).
		Msg("joined")

	return nil
}

// Heartbeat refreshes lastSeen. A swept record is written again; a record
// of a newer incarnation is left alone.
func (r *Registry) Heartbeat(ctx context.Context) error {
	err := r.store.Transact(ctx, store.PeerPath(r.sessionID, r.self.ID), func(tx store.Tx) error {
		snap := tx.Snapshot()
		if snap.Exists {
			current := Record{}
			if err := snap.Decode(&current); err != nil {
				return err
			}
			if current.Incarnation != r.incarnation {
				return errSuperseded
			}
		}

		tx.Set(store.MustFields(r.record()))
		return nil
	})
	if errors.Is(err, errSuperseded) {
		log.Debug().Str("service", "presence").Str("participantID", r.self.ID.String()).Msg("heartbeat skipped, superseded")
		return nil
	}

	return err
}

func (r *Registry) Watch(ctx context.Context) error {
	sub, err := r.store.WatchCollection(ctx, store.PeersPath(r.sessionID), func(change store.Change) {
		r.loop.Post(func() {
			r.handle(change)
		})
	})
	if err != nil {
		return fmt.Errorf("watch presence: %w", err)
	}
	r.sub = sub

	return nil
}

// OnRejoin is called on the loop when another participant's record is
// replaced by a new incarnation without leaving the roster first.
func (r *Registry) OnRejoin(f func(core.ParticipantID)) {
	r.onRejoin = f
}

// Close stops observing. The own record stays until Retract.
func (r *Registry) Close() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
}

func (r *Registry) handle(change store.Change) {
	id := core.ParticipantID(change.Document.ID())
	rejoined := false

	switch change.Type {
	case store.Added, store.Modified:
		rec := Record{}
		if err := change.Document.Decode(&rec); err != nil {
			log.Error().Err(err).Str("service", "presence").Str("path", change.Document.Path.String()).Msg("decode presence")
			return
		}
		rec.ID = id
		if prev, ok := r.records[id]; ok && prev.Incarnation != rec.Incarnation && id != r.self.ID {
			rejoined = true
		}
		r.records[id] = rec
	case store.Removed:
		delete(r.records, id)
	}

	roster := lo.MapToSlice(r.records, func(_ core.ParticipantID, rec Record) Record { return rec })
	sort.Slice(roster, func(i, j int) bool {
		if !roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].JoinedAt.Before(roster[j].JoinedAt)
		}
		return roster[i].ID < roster[j].ID
	})
	participants := lo.Map(roster, func(rec Record, _ int) core.Participant { return rec.Participant() })

	r.mu.Lock()
	changed := !slices.Equal(r.roster, participants)
	if changed {
		r.roster = participants
	}
	r.mu.Unlock()

	if rejoined {
		log.Info().Str("service", "presence").Str("participantID", r.self.ID.String()).Str("peerID", id.String()).Msg("rejoined")
		if r.onRejoin != nil {
			r.onRejoin(id)
		}
	}

	if !changed {
		return
	}

	telemetry.RosterSize(len(participants))
	if r.onRoster != nil {
		r.onRoster(slices.Clone(participants))
	}
}

// Retract deletes the own record when it still belongs to this incarnation
// and purges the own mailbox.
func (r *Registry) Retract(ctx context.Context) error {
	_, err := retract(ctx, r.store, r.sessionID, r.self.ID, func(rec Record) bool {
		return rec.Incarnation == r.incarnation
	})
	telemetry.Operation("presence_retract", err, "")

	return err
}

func retract(ctx context.Context, st store.Store, sessionID core.SessionID, id core.ParticipantID, owned func(Record) bool) (bool, error) {
	removed := false
	err := st.Transact(ctx, store.PeerPath(sessionID, id), func(tx store.Tx) error {
		removed = false

		snap := tx.Snapshot()
		if !snap.Exists {
			return nil
		}

		rec := Record{}
		if err := snap.Decode(&rec); err != nil {
			return err
		}
		if !owned(rec) {
			return nil
		}

		tx.Delete()
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("retract presence of %s: %w", id, err)
	}

	if !removed {
		log.Debug().Str("service", "presence").Str("participantID", id.String()).Msg("presence kept")
		return false, nil
	}

	if err := signaling.PurgeMailbox(ctx, st, sessionID, id); err != nil {
		return true, fmt.Errorf("purge mailbox of %s: %w", id, err)
	}

	return true, nil
}

// PurgeIfEmpty deletes the message history once nobody is present. It reports whether it did.
func PurgeIfEmpty(ctx context.Context, st store.Store, sessionID core.SessionID) (bool, error) {
	peers, err := st.List(ctx, store.PeersPath(sessionID))
	if err != nil {
		return false, err
	}
	if len(peers) > 0 {
		return false, nil
	}

	n, err := store.DeleteCollection(ctx, st, store.MessagesPath(sessionID))
	if err != nil {
		return false, err
	}

	log.Debug().
		Str("service", "presence").
		Str("sessionID", sessionID.String()).
		Int("messages", n).
		Msg("last one out, history purged")

	return true, nil
}
