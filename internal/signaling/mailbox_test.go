package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/eventloop"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/store/memstore"
	mock_store "github.com/isqad/livelook-party/internal/store/mock"
)

const (
	alice = core.ParticipantID("a1")
	bob   = core.ParticipantID("b2")
)

var mockOffer = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}

type MockCallbacks struct {
	mu         sync.Mutex
	Offers     []core.ParticipantID
	Answers    []core.ParticipantID
	Candidates []string
}

func (m *MockCallbacks) OnOffer(from core.ParticipantID, sdp webrtc.SessionDescription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Offers = append(m.Offers, from)
}

func (m *MockCallbacks) OnAnswer(from core.ParticipantID, sdp webrtc.SessionDescription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Answers = append(m.Answers, from)
}

func (m *MockCallbacks) OnICECandidate(from core.ParticipantID, c webrtc.ICECandidateInit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Candidates = append(m.Candidates, c.Candidate)
}

func (m *MockCallbacks) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Offers), len(m.Answers), len(m.Candidates)
}

func newMailbox(t *testing.T, st store.Store, sessionID core.SessionID, self core.ParticipantID) (*Mailbox, *MockCallbacks) {
	t.Helper()

	loop := eventloop.New()
	t.Cleanup(loop.Stop)

	cb := &MockCallbacks{}
	m := NewMailbox(st, loop, sessionID, self)
	m.OnOffer(cb.OnOffer)
	m.OnAnswer(cb.OnAnswer)
	m.OnICECandidate(cb.OnICECandidate)
	t.Cleanup(m.Close)

	return m, cb
}

func mailboxSize(t *testing.T, st store.Store, sessionID core.SessionID, id core.ParticipantID) int {
	n := 0
	for _, collection := range store.MailboxCollections {
		docs, err := st.List(context.Background(), store.MailboxPath(sessionID, id, collection))
		require.NoError(t, err)
		n += len(docs)
	}
	return n
}

func TestMailboxDeliversAndDeletes(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())

	sender, _ := newMailbox(t, st, sessionID, alice)
	receiver, cb := newMailbox(t, st, sessionID, bob)
	require.NoError(t, receiver.Listen(ctx))

	require.NoError(t, sender.SendOffer(ctx, bob, mockOffer))
	require.NoError(t, sender.SendAnswer(ctx, bob, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"}))
	for _, c := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		require.NoError(t, sender.SendICECandidate(ctx, bob, webrtc.ICECandidateInit{Candidate: c}))
	}

	assert.Eventually(t, func() bool {
		offers, answers, candidates := cb.counts()
		return offers == 1 && answers == 1 && candidates == 3
	}, 2*time.Second, 10*time.Millisecond)

	cb.mu.Lock()
	assert.Equal(t, []core.ParticipantID{alice}, cb.Offers)
	assert.Equal(t, []string{"candidate:1", "candidate:2", "candidate:3"}, cb.Candidates)
	cb.mu.Unlock()

	assert.Eventually(t, func() bool {
		return mailboxSize(t, st, sessionID, bob) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMailboxKeysOffersBySender(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())

	sender, _ := newMailbox(t, st, sessionID, alice)
	require.NoError(t, sender.SendOffer(ctx, bob, mockOffer))

	doc, err := st.Get(ctx, store.MailboxPath(sessionID, bob, store.OffersCollection).Child(string(alice)))
	require.NoError(t, err)

	msg, err := decodeOffer(doc)
	require.NoError(t, err)
	assert.Equal(t, alice, msg.From)
	assert.Equal(t, mockOffer, *msg.Offer)
}

func TestMailboxDuplicateDelivery(t *testing.T) {
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())
	m, cb := newMailbox(t, st, sessionID, bob)

	path := store.MailboxPath(sessionID, bob, store.OffersCollection).Child(string(alice))
	change := store.Change{
		Type: store.Added,
		Document: store.Document{
			Path:    path,
			Fields:  store.MustFields(NewOfferMessage(alice, mockOffer)),
			Version: 7,
		},
	}

	m.consume(OfferKind, change)
	m.consume(OfferKind, change)

	offers, _, _ := cb.counts()
	assert.Equal(t, 1, offers)

	t.Run("rewritten message is a new message", func(t *testing.T) {
		change.Type = store.Modified
		change.Document.Version = 9
		m.consume(OfferKind, change)

		offers, _, _ := cb.counts()
		assert.Equal(t, 2, offers)
	})

	t.Run("removal forgets the path", func(t *testing.T) {
		m.consume(OfferKind, store.Change{Type: store.Removed, Document: store.Document{Path: path, Version: 10}})
		_, ok := m.consumed[path]
		assert.False(t, ok)
	})
}

func TestMailboxMalformedMessage(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())
	m, cb := newMailbox(t, st, sessionID, bob)

	path := store.MailboxPath(sessionID, bob, store.OffersCollection).Child("junk")
	require.NoError(t, st.Put(ctx, path, store.MustFields(map[string]string{"from": "x"})))
	doc, err := st.Get(ctx, path)
	require.NoError(t, err)

	m.consume(OfferKind, store.Change{Type: store.Added, Document: doc})

	offers, _, _ := cb.counts()
	assert.Equal(t, 0, offers)
	_, err = st.Get(ctx, path)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMailboxClose(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())

	sender, _ := newMailbox(t, st, sessionID, alice)
	receiver, cb := newMailbox(t, st, sessionID, bob)
	require.NoError(t, receiver.Listen(ctx))
	receiver.Close()

	require.NoError(t, sender.SendOffer(ctx, bob, mockOffer))
	require.NoError(t, sender.SendICECandidate(ctx, bob, webrtc.ICECandidateInit{Candidate: "candidate:1"}))

	time.Sleep(50 * time.Millisecond)
	offers, _, candidates := cb.counts()
	assert.Equal(t, 0, offers)
	assert.Equal(t, 0, candidates)
	assert.Equal(t, 2, mailboxSize(t, st, sessionID, bob))

	assert.ErrorIs(t, receiver.Listen(ctx), ErrClosed)

	require.NoError(t, PurgeMailbox(ctx, st, sessionID, bob))
	assert.Equal(t, 0, mailboxSize(t, st, sessionID, bob))
}

func TestMailboxSendError(t *testing.T) {
	ctrl := gomock.NewController(t)
	st := mock_store.NewMockStore(ctrl)

	boom := errors.New("write rejected")
	st.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return(boom)

	loop := eventloop.New()
	defer loop.Stop()

	m := NewMailbox(st, loop, "s1", alice)
	err := m.SendICECandidate(context.Background(), bob, webrtc.ICECandidateInit{Candidate: "candidate:1"})
	assert.ErrorIs(t, err, boom)
}

func TestKindCollections(t *testing.T) {
	for _, kind := range []Kind{OfferKind, AnswerKind, ICECandidateKind} {
		got, err := kindOf(kind.Collection())
		require.NoError(t, err)
		assert.Equal(t, kind, got)
	}

	_, err := kindOf("messages")
	assert.ErrorIs(t, err, errUndefinedKind)
}
