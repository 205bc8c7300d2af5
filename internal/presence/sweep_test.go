package presence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/store/memstore"
)

func putRecord(t *testing.T, st store.Store, sessionID core.SessionID, id core.ParticipantID, lastSeen time.Time) {
	t.Helper()

	rec := Record{ID: id, Name: string(id), Incarnation: uuid.NewString(), JoinedAt: lastSeen, LastSeen: lastSeen}
	require.NoError(t, st.Put(context.Background(), store.PeerPath(sessionID, id), store.MustFields(rec)))
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())
	now := time.Unix(10000, 0)

	require.NoError(t, st.Put(ctx, store.SessionPath(sessionID), store.MustFields(core.Session{HostID: "a1"})))
	putRecord(t, st, sessionID, "a1", now.Add(-time.Minute))
	putRecord(t, st, sessionID, "b2", now.Add(-5*time.Second))
	candidate := store.MailboxPath(sessionID, "a1", store.ICECandidatesCollection).Child(uuid.NewString())
	require.NoError(t, st.Put(ctx, candidate, store.MustFields(map[string]string{"from": "b2"})))
	message := store.MessagesPath(sessionID).Child("m1")
	require.NoError(t, st.Put(ctx, message, store.MustFields(map[string]string{"text": "hi"})))

	swept, err := Sweep(ctx, st, sessionID, 45*time.Second, now)
	require.NoError(t, err)
	assert.Equal(t, []core.ParticipantID{"a1"}, swept)

	_, err = st.Get(ctx, candidate)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Get(ctx, store.PeerPath(sessionID, "b2"))
	assert.NoError(t, err)
	_, err = st.Get(ctx, message)
	assert.NoError(t, err, "history stays while somebody is present")

	t.Run("last one out purges history", func(t *testing.T) {
		total, err := SweepAll(ctx, st, 45*time.Second, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		peers, err := st.List(ctx, store.PeersPath(sessionID))
		require.NoError(t, err)
		assert.Empty(t, peers)

		_, err = st.Get(ctx, message)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestPurgeIfEmpty(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())

	message := store.MessagesPath(sessionID).Child("m1")
	require.NoError(t, st.Put(ctx, message, store.MustFields(map[string]string{"text": "hi"})))
	putRecord(t, st, sessionID, "a1", time.Now())

	purged, err := PurgeIfEmpty(ctx, st, sessionID)
	require.NoError(t, err)
	assert.False(t, purged)

	require.NoError(t, st.Delete(ctx, store.PeerPath(sessionID, "a1")))
	purged, err = PurgeIfEmpty(ctx, st, sessionID)
	require.NoError(t, err)
	assert.True(t, purged)

	_, err = st.Get(ctx, message)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordStale(t *testing.T) {
	now := time.Unix(100, 0)
	assert.True(t, Record{LastSeen: now.Add(-time.Minute)}.Stale(45*time.Second, now))
	assert.False(t, Record{LastSeen: now.Add(-time.Second)}.Stale(45*time.Second, now))
	assert.True(t, Record{}.Stale(45*time.Second, now))
}
