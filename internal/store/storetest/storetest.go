// Package storetest checks that a store.Store backend honours the contract the
// coordination protocol relies on.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-party/internal/store"
)

const waitFor = 5 * time.Second

// Factory returns a ready backend. The suite closes it.
type Factory func(t *testing.T) store.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("get missing document", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("put, merge and delete", func(t *testing.T) { testPutMergeDelete(t, newStore(t)) })
	t.Run("list keeps insertion order", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("versions grow across recreation", func(t *testing.T) { testVersions(t, newStore(t)) })
	t.Run("collection watch", func(t *testing.T) { testWatchCollection(t, newStore(t)) })
	t.Run("document watch", func(t *testing.T) { testWatchDocument(t, newStore(t)) })
	t.Run("unsubscribe stops delivery", func(t *testing.T) { testUnsubscribe(t, newStore(t)) })
	t.Run("transaction claim has one winner", func(t *testing.T) { testTransactClaim(t, newStore(t)) })
	t.Run("transaction function error aborts", func(t *testing.T) { testTransactAbort(t, newStore(t)) })
}

func root() store.Path {
	return store.NewPath("sessions", uuid.NewString())
}

func fields(kv ...string) store.Fields {
	m := map[string]string{}
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return store.MustFields(m)
}

func field(t *testing.T, doc store.Document, name string) string {
	t.Helper()

	var v string
	raw, ok := doc.Fields[name]
	if !ok {
		return ""
	}
	assert.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func testGetMissing(t *testing.T, s store.Store) {
	defer s.Close()

	_, err := s.Get(context.Background(), root())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPutMergeDelete(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	p := root()

	require.NoError(t, s.Put(ctx, p, fields("hostId", "a1", "createdAt", "t0")))
	require.NoError(t, s.Put(ctx, p, fields("hostId", "b2"), store.WithMerge()))

	doc, err := s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "b2", field(t, doc, "hostId"))
	assert.Equal(t, "t0", field(t, doc, "createdAt"))

	require.NoError(t, s.Put(ctx, p, fields("hostId", "c3")))
	doc, err = s.Get(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "", field(t, doc, "createdAt"))

	require.NoError(t, s.Delete(ctx, p))
	require.NoError(t, s.Delete(ctx, p))

	_, err = s.Get(ctx, p)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListOrder(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	peers := root().Child("peers")

	for _, id := range []string{"zed", "amy", "kim"} {
		require.NoError(t, s.Put(ctx, peers.Child(id), fields("id", id)))
	}
	// modification does not move a document
	require.NoError(t, s.Put(ctx, peers.Child("zed"), fields("id", "zed", "name", "Zed")))
	// nested collections are not children
	require.NoError(t, s.Put(ctx, peers.Child("amy", "offers", "zed"), fields("from", "zed")))

	docs, err := s.List(ctx, peers)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "zed", docs[0].ID())
	assert.Equal(t, "amy", docs[1].ID())
	assert.Equal(t, "kim", docs[2].ID())
}

func testVersions(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	p := root().Child("peers", "a1", "offers", "b2")

	require.NoError(t, s.Put(ctx, p, fields("from", "b2")))
	first, err := s.Get(ctx, p)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, p))
	require.NoError(t, s.Put(ctx, p, fields("from", "b2")))
	second, err := s.Get(ctx, p)
	require.NoError(t, err)

	assert.Greater(t, second.Version, first.Version)
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []store.Change
}

func (r *changeRecorder) record(c store.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) snapshot() []store.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.Change(nil), r.changes...)
}

func (r *changeRecorder) waitLen(t *testing.T, n int) []store.Change {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, waitFor, 10*time.Millisecond)
	return r.snapshot()
}

func testWatchCollection(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	peers := root().Child("peers")

	require.NoError(t, s.Put(ctx, peers.Child("a1"), fields("id", "a1")))
	require.NoError(t, s.Put(ctx, peers.Child("b2"), fields("id", "b2")))

	rec := &changeRecorder{}
	sub, err := s.WatchCollection(ctx, peers, rec.record)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	initial := rec.waitLen(t, 2)
	assert.Equal(t, store.Added, initial[0].Type)
	assert.Equal(t, "a1", initial[0].Document.ID())
	assert.Equal(t, "b2", initial[1].Document.ID())

	require.NoError(t, s.Put(ctx, peers.Child("c3"), fields("id", "c3")))
	require.NoError(t, s.Put(ctx, peers.Child("a1"), fields("id", "a1", "name", "Amy")))
	require.NoError(t, s.Put(ctx, peers.Child("b2", "offers", "a1"), fields("from", "a1")))
	require.NoError(t, s.Delete(ctx, peers.Child("b2")))

	all := rec.waitLen(t, 5)
	require.Len(t, all, 5)

	assert.Equal(t, store.Added, all[2].Type)
	assert.Equal(t, "c3", all[2].Document.ID())

	assert.Equal(t, store.Modified, all[3].Type)
	assert.Equal(t, "Amy", field(t, all[3].Document, "name"))

	assert.Equal(t, store.Removed, all[4].Type)
	assert.Equal(t, "b2", all[4].Document.ID())

	for i := 3; i < len(all); i++ {
		assert.Greater(t, all[i].Document.Version, all[i-1].Document.Version)
	}
}

func testWatchDocument(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	p := root()

	var mu sync.Mutex
	snapshots := make([]store.Snapshot, 0)
	sub, err := s.WatchDocument(ctx, p, func(snap store.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snapshots = append(snapshots, snap)
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	get := func() []store.Snapshot {
		mu.Lock()
		defer mu.Unlock()
		return append([]store.Snapshot(nil), snapshots...)
	}

	require.Eventually(t, func() bool { return len(get()) == 1 }, waitFor, 10*time.Millisecond)
	assert.False(t, get()[0].Exists)

	require.NoError(t, s.Put(ctx, p, fields("hostId", "a1")))
	require.Eventually(t, func() bool { return len(get()) == 2 }, waitFor, 10*time.Millisecond)
	assert.True(t, get()[1].Exists)
	assert.Equal(t, "a1", field(t, get()[1].Document, "hostId"))

	require.NoError(t, s.Delete(ctx, p))
	require.Eventually(t, func() bool { return len(get()) == 3 }, waitFor, 10*time.Millisecond)
	assert.False(t, get()[2].Exists)
}

func testUnsubscribe(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	peers := root().Child("peers")

	rec := &changeRecorder{}
	sub, err := s.WatchCollection(ctx, peers, rec.record)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, peers.Child("a1"), fields("id", "a1")))
	rec.waitLen(t, 1)

	sub.Unsubscribe()
	require.NoError(t, s.Put(ctx, peers.Child("b2"), fields("id", "b2")))

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func testTransactClaim(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	p := root()

	const contenders = 8

	var wg sync.WaitGroup
	observed := make([]string, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			self := uuid.NewString()
			err := s.Transact(ctx, p, func(tx store.Tx) error {
				current := tx.Snapshot()
				if current.Exists {
					if host := field(t, current.Document, "hostId"); host != "" {
						observed[i] = host
						return nil
					}
				}
				observed[i] = self
				tx.Merge(fields("hostId", self))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	doc, err := s.Get(ctx, p)
	require.NoError(t, err)

	winner := field(t, doc, "hostId")
	require.NotEmpty(t, winner)
	for _, o := range observed {
		assert.Equal(t, winner, o)
	}
}

var errAbort = errors.New("abort")

func testTransactAbort(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()
	p := root()

	err := s.Transact(ctx, p, func(tx store.Tx) error {
		tx.Set(fields("hostId", "a1"))
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	_, err = s.Get(ctx, p)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
