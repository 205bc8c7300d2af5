package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	addr := os.Getenv("LIVELOOK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LIVELOOK_TEST_REDIS_ADDR is not set")
	}

	storetest.Run(t, func(t *testing.T) store.Store {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		require.NoError(t, rdb.Ping(context.Background()).Err())

		return New(rdb, "livelook-test-"+uuid.NewString())
	})
}

func TestKeys(t *testing.T) {
	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "")
	defer s.Close()

	assert.Equal(t, "livelook:doc:sessions/s1/peers/a1", s.docKey("sessions/s1/peers/a1"))
	assert.Equal(t, "livelook:children:sessions/s1/peers", s.childrenKey("sessions/s1/peers"))
	assert.Equal(t, "livelook:changes:sessions/s1", s.channel("sessions/s1"))
}

func TestDecode(t *testing.T) {
	doc, err := decode("sessions/s1", []byte(`{"v":7,"f":{"hostId":"a1"}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(7), doc.Version)
	assert.Equal(t, `"a1"`, string(doc.Fields["hostId"]))

	_, err = decode("sessions/s1", []byte(`nope`))
	assert.Error(t, err)
}

func TestParseEvent(t *testing.T) {
	ev, ok := parseEvent(&redis.Message{Payload: `{"t":2,"p":"sessions/s1/peers/a1","v":9}`})
	require.True(t, ok)
	assert.Equal(t, store.Removed, ev.Type)
	assert.Equal(t, store.Path("sessions/s1/peers/a1"), ev.Path)

	_, ok = parseEvent(&redis.Message{Payload: `{`})
	assert.False(t, ok)
}
