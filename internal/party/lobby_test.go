package party

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-party/internal/config"
	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/mesh"
	"github.com/isqad/livelook-party/internal/playback"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/store/memstore"
)

const (
	time2s = 2 * time.Second
	tick   = 10 * time.Millisecond
)

func testOptions(transport *MockTransport, grace time.Duration) Options {
	conf := config.NewConfig()
	conf.Session.Grace = grace
	conf.Session.RosterSettle = 20 * time.Millisecond

	return NewOptions(conf, transport)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) has(t EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

func rosterOf(c *Client) []core.ParticipantID {
	ids := []core.ParticipantID{}
	for _, p := range c.Roster() {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestLobby_TwoParticipants(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	transport := &MockTransport{}
	lobby := NewLobby(st, testOptions(transport, 0))
	defer lobby.Close()

	a, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)
	b, err := lobby.Join(ctx, "s1", core.NewParticipant("b", "Bob"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(rosterOf(a)) == 2 && len(rosterOf(b)) == 2
	}, time2s, tick)
	assert.Equal(t, []core.ParticipantID{"a", "b"}, rosterOf(a))

	// b is larger and offers, a answers
	assert.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, time2s, tick)
	assert.Equal(t, 1, transport.Count("a"))
	assert.Equal(t, 1, transport.Count("b"))
	assert.Equal(t, mesh.Answerer.String(), a.Peers()[0].Role)
	assert.Equal(t, mesh.Offerer.String(), b.Peers()[0].Role)

	assert.Eventually(t, func() bool {
		return a.Host().HostID != "" && a.Host().HostID == b.Host().HostID
	}, time2s, tick)
	assert.NotEqual(t, a.Host().IsHost, b.Host().IsHost)
}

func TestLobby_PlaybackFromHost(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	lobby := NewLobby(st, testOptions(&MockTransport{}, 0))
	defer lobby.Close()

	a, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return a.Host().IsHost }, time2s, tick)

	b, err := lobby.Join(ctx, "s1", core.NewParticipant("b", "Bob"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return b.Host().HostID == "a" }, time2s, tick)

	events := &recorder{}
	unsubscribe, err := b.Subscribe(events.record)
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, a.SetVideoSource(ctx, " https://example.com/movie.mp4 "))
	playing := true
	require.NoError(t, a.SetPlaybackState(ctx, core.PlaybackPatch{IsPlaying: &playing}))

	assert.Eventually(t, func() bool {
		state := b.Playback()
		return state.VideoURL == "https://example.com/movie.mp4" && state.IsPlaying
	}, time2s, tick)
	assert.Eventually(t, func() bool { return events.has(PlaybackEvent) }, time2s, tick)
	assert.Equal(t, core.ParticipantID("a"), b.Playback().LastUpdatedBy)

	err = b.SetPlaybackState(ctx, core.PlaybackPatch{IsPlaying: &playing})
	assert.ErrorIs(t, err, playback.ErrNotHost)

	t.Run("guest scrubs", func(t *testing.T) {
		require.NoError(t, b.SetSeeking(ctx, true))
		assert.True(t, b.Playback().Seeking)

		require.NoError(t, b.SetSeeking(ctx, false))
		assert.False(t, b.Playback().Seeking)
	})

	t.Run("invalid position", func(t *testing.T) {
		negative := -3.0
		assert.ErrorIs(t, a.SetPlaybackState(ctx, core.PlaybackPatch{CurrentTime: &negative}), playback.ErrBadPosition)
	})
}

func TestLobby_AlreadyJoined(t *testing.T) {
	ctx := context.Background()
	lobby := NewLobby(memstore.New(), testOptions(&MockTransport{}, 0))
	defer lobby.Close()

	_, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)

	_, err = lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = lobby.Join(ctx, "s2", core.NewParticipant("a", "Alice"))
	assert.NoError(t, err)
}

func TestLobby_LeaveRetractsPresence(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	lobby := NewLobby(st, testOptions(&MockTransport{}, 0))
	defer lobby.Close()

	a, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)
	b, err := lobby.Join(ctx, "s1", core.NewParticipant("b", "Bob"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(rosterOf(a)) == 2 }, time2s, tick)

	lobby.Leave(b)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]core.ParticipantID{"a"}, rosterOf(a))
	}, time2s, tick)
	assert.Eventually(t, func() bool { return len(a.Peers()) == 0 }, time2s, tick)

	_, err = b.Subscribe(func(Event) {})
	assert.ErrorIs(t, err, ErrLeft)
	assert.ErrorIs(t, b.SetVideoSource(ctx, "x"), ErrLeft)
}

func TestLobby_LastLeavePurgesMessages(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	lobby := NewLobby(st, testOptions(&MockTransport{}, 0))

	a, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)
	message := store.MessagesPath("s1").Child("m1")
	require.NoError(t, st.Put(ctx, message, store.Fields{"text": []byte(`"hi"`)}))

	lobby.Leave(a)
	lobby.Close()

	peers, err := st.List(ctx, store.PeersPath("s1"))
	require.NoError(t, err)
	assert.Empty(t, peers)

	_, err = st.Get(ctx, message)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLobby_RejoinWithinGrace(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	lobby := NewLobby(st, testOptions(&MockTransport{}, 100*time.Millisecond))
	defer lobby.Close()

	a, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)
	lobby.Leave(a)

	// presence survives until the grace window passes
	_, err = st.Get(ctx, store.PeerPath("s1", "a"))
	require.NoError(t, err)

	again, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	_, err = st.Get(ctx, store.PeerPath("s1", "a"))
	assert.NoError(t, err)
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]core.ParticipantID{"a"}, rosterOf(again))
	}, time2s, tick)
}

func TestLobby_RejoinResetsPeerPair(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	transport := &MockTransport{}
	lobby := NewLobby(st, testOptions(transport, time.Second))
	defer lobby.Close()

	a, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)
	b, err := lobby.Join(ctx, "s1", core.NewParticipant("b", "Bob"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(a.Peers()) == 1 && len(b.Peers()) == 1 }, time2s, tick)

	// the record outlives the leave, so b never sees a leave the roster
	lobby.Leave(a)
	again, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return transport.Count("a") == 2 && len(again.Peers()) == 1
	}, time2s, tick)
	assert.Equal(t, mesh.Answerer.String(), again.Peers()[0].Role)
	assert.Len(t, b.Peers(), 1)
}

func TestLobby_GraceExpires(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	lobby := NewLobby(st, testOptions(&MockTransport{}, 50*time.Millisecond))
	defer lobby.Close()

	a, err := lobby.Join(ctx, "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)
	lobby.Leave(a)

	assert.Eventually(t, func() bool {
		_, err := st.Get(ctx, store.PeerPath("s1", "a"))
		return err == store.ErrNotFound
	}, time2s, tick)
}

func TestLobby_Closed(t *testing.T) {
	lobby := NewLobby(memstore.New(), testOptions(&MockTransport{}, time.Hour))
	_, err := lobby.Join(context.Background(), "s1", core.NewParticipant("a", "Alice"))
	require.NoError(t, err)

	lobby.Close()
	assert.Empty(t, lobby.Clients())

	_, err = lobby.Join(context.Background(), "s1", core.NewParticipant("b", "Bob"))
	assert.ErrorIs(t, err, ErrLobbyClosed)
}
