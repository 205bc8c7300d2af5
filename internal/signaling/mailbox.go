// Package signaling relays offers, answers and ICE candidates through
// per-participant mailboxes kept in the shared store.
//
// A message is written into the recipient's mailbox, handled once by the
// recipient and then deleted by it. Offers and answers are keyed by the
// sender id, candidates get a random id.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/eventloop"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/telemetry"
)

var ErrClosed = errors.New("mailbox is closed")

type Mailbox struct {
	store     store.Store
	loop      *eventloop.Loop
	sessionID core.SessionID
	self      core.ParticipantID

	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	subscriptions []store.Subscription

	// loop only
	consumed map[store.Path]int64

	onOffer        func(core.ParticipantID, webrtc.SessionDescription)
	onAnswer       func(core.ParticipantID, webrtc.SessionDescription)
	onICECandidate func(core.ParticipantID, webrtc.ICECandidateInit)
}

func NewMailbox(st store.Store, loop *eventloop.Loop, sessionID core.SessionID, self core.ParticipantID) *Mailbox {
	ctx, cancel := context.WithCancel(context.Background())

	return &Mailbox{
		store:     st,
		loop:      loop,
		sessionID: sessionID,
		self:      self,
		ctx:       ctx,
		cancel:    cancel,
		consumed:  map[store.Path]int64{},
	}
}

func (m *Mailbox) OnOffer(f func(core.ParticipantID, webrtc.SessionDescription)) {
	m.onOffer = f
}

func (m *Mailbox) OnAnswer(f func(core.ParticipantID, webrtc.SessionDescription)) {
	m.onAnswer = f
}

func (m *Mailbox) OnICECandidate(f func(core.ParticipantID, webrtc.ICECandidateInit)) {
	m.onICECandidate = f
}

func (m *Mailbox) SendOffer(ctx context.Context, to core.ParticipantID, sdp webrtc.SessionDescription) error {
	return m.send(ctx, to, OfferKind, string(m.self), NewOfferMessage(m.self, sdp))
}

func (m *Mailbox) SendAnswer(ctx context.Context, to core.ParticipantID, sdp webrtc.SessionDescription) error {
	return m.send(ctx, to, AnswerKind, string(m.self), NewAnswerMessage(m.self, sdp))
}

func (m *Mailbox) SendICECandidate(ctx context.Context, to core.ParticipantID, candidate webrtc.ICECandidateInit) error {
	return m.send(ctx, to, ICECandidateKind, uuid.NewString(), NewICECandidateMessage(m.self, candidate))
}

func (m *Mailbox) send(ctx context.Context, to core.ParticipantID, kind Kind, docID string, msg interface{}) error {
	fields, err := store.FieldsOf(msg)
	if err != nil {
		return err
	}

	path := store.MailboxPath(m.sessionID, to, kind.Collection()).Child(docID)
	err = m.store.Put(ctx, path, fields)
	telemetry.Operation("signaling_send", err, "")
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", kind, to, err)
	}

	log.Debug().
		Str("service", "signaling").
		Str("participantID", m.self.String()).
		Str("peerID", to.String()).
		Str("kind", string(kind)).
		Msg("sent")

	return nil
}

// Listen subscribes to the own mailbox. Handlers run on the event loop.
func (m *Mailbox) Listen(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return ErrClosed
	}

	for _, collection := range store.MailboxCollections {
		kind, err := kindOf(collection)
		if err != nil {
			return err
		}

		path := store.MailboxPath(m.sessionID, m.self, collection)
		sub, err := m.store.WatchCollection(ctx, path, func(change store.Change) {
			m.loop.Post(func() {
				m.consume(kind, change)
			})
		})
		if err != nil {
			m.unsubscribe()
			return fmt.Errorf("watch %s: %w", path, err)
		}
		m.subscriptions = append(m.subscriptions, sub)
	}

	return nil
}

// Close stops consuming. Messages already in the mailbox stay there until PurgeMailbox.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()
	m.unsubscribe()
}

func (m *Mailbox) unsubscribe() {
	for _, sub := range m.subscriptions {
		sub.Unsubscribe()
	}
	m.subscriptions = nil
}

func (m *Mailbox) consume(kind Kind, change store.Change) {
	if m.ctx.Err() != nil {
		return
	}

	path := change.Document.Path
	if change.Type == store.Removed {
		delete(m.consumed, path)
		return
	}

	if version, ok := m.consumed[path]; ok && change.Document.Version <= version {
		log.Debug().
			Str("service", "signaling").
			Str("participantID", m.self.String()).
			Str("path", path.String()).
			Msg("duplicate delivery dropped")
		return
	}
	m.consumed[path] = change.Document.Version

	if err := m.dispatch(kind, change.Document); err != nil {
		telemetry.Operation("signaling_consume", err, "malformed")
		log.Debug().Err(err).Str("service", "signaling").Str("path", path.String()).Msg("")
	} else {
		telemetry.Operation("signaling_consume", nil, "")
	}

	if err := m.store.Delete(m.ctx, path); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("service", "signaling").Str("path", path.String()).Msg("delete consumed message")
	}
}

func (m *Mailbox) dispatch(kind Kind, doc store.Document) error {
	switch kind {
	case OfferKind:
		msg, err := decodeOffer(doc)
		if err != nil {
			return err
		}
		if m.onOffer != nil {
			m.onOffer(msg.From, *msg.Offer)
		}
	case AnswerKind:
		msg, err := decodeAnswer(doc)
		if err != nil {
			return err
		}
		if m.onAnswer != nil {
			m.onAnswer(msg.From, *msg.Answer)
		}
	case ICECandidateKind:
		msg, err := decodeICECandidate(doc)
		if err != nil {
			return err
		}
		if m.onICECandidate != nil {
			m.onICECandidate(msg.From, *msg.Candidate)
		}
	default:
		return fmt.Errorf("%w: %s", errUndefinedKind, kind)
	}

	return nil
}

// PurgeMailbox deletes every message in the mailbox of id.
func PurgeMailbox(ctx context.Context, st store.Store, sessionID core.SessionID, id core.ParticipantID) error {
	for _, collection := range store.MailboxCollections {
		if _, err := store.DeleteCollection(ctx, st, store.MailboxPath(sessionID, id, collection)); err != nil {
			return err
		}
	}
	return nil
}
