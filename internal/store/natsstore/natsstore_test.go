package natsstore

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	url := os.Getenv("LIVELOOK_TEST_NATS_URL")
	if url == "" {
		t.Skip("LIVELOOK_TEST_NATS_URL is not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Connect(url, "livelook-test-"+uuid.NewString())
		require.NoError(t, err)
		return s
	})
}

func TestKeyMapping(t *testing.T) {
	p := store.Path("sessions/s1/peers/a1/iceCandidates/0b9c")

	assert.Equal(t, "sessions.s1.peers.a1.iceCandidates.0b9c", key(p))
	assert.Equal(t, p, pathOf(key(p)))
}

type entry struct {
	key      string
	value    []byte
	revision uint64
	op       nats.KeyValueOp
}

func (e entry) Bucket() string             { return "livelook" }
func (e entry) Key() string                { return e.key }
func (e entry) Value() []byte              { return e.value }
func (e entry) Revision() uint64           { return e.revision }
func (e entry) Created() time.Time         { return time.Time{} }
func (e entry) Delta() uint64              { return 0 }
func (e entry) Operation() nats.KeyValueOp { return e.op }

func TestDocumentsOrderByFirstWrite(t *testing.T) {
	entries := []nats.KeyValueEntry{
		// updated last, created first
		entry{key: "sessions.s1.peers.zed", value: []byte(`{"c":3,"f":{"id":"zed"}}`), revision: 9, op: nats.KeyValuePut},
		entry{key: "sessions.s1.peers.amy", value: []byte(`{"f":{"id":"amy"}}`), revision: 5, op: nats.KeyValuePut},
		entry{key: "sessions.s1.peers.kim", revision: 6, op: nats.KeyValueDelete},
	}

	docs, err := documents(entries)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "zed", docs[0].ID())
	assert.Equal(t, int64(9), docs[0].Version)
	assert.Equal(t, "amy", docs[1].ID())
}

func TestToChange(t *testing.T) {
	known := map[string]bool{}

	added, ok := toChange(entry{key: "sessions.s1.peers.a1", value: []byte(`{"f":{}}`), revision: 1, op: nats.KeyValuePut}, known)
	require.True(t, ok)
	assert.Equal(t, store.Added, added.Type)

	modified, ok := toChange(entry{key: "sessions.s1.peers.a1", value: []byte(`{"c":1,"f":{}}`), revision: 2, op: nats.KeyValuePut}, known)
	require.True(t, ok)
	assert.Equal(t, store.Modified, modified.Type)

	removed, ok := toChange(entry{key: "sessions.s1.peers.a1", revision: 3, op: nats.KeyValueDelete}, known)
	require.True(t, ok)
	assert.Equal(t, store.Removed, removed.Type)

	_, ok = toChange(entry{key: "sessions.s1.peers.b2", revision: 4, op: nats.KeyValueDelete}, known)
	assert.False(t, ok)
}

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(nil))
	assert.True(t, isConflict(nats.ErrKeyExists))
	assert.True(t, isConflict(&nats.APIError{Code: 400, ErrorCode: errCodeWrongLastSequence}))
	assert.False(t, isConflict(nats.ErrBucketNotFound))
}
