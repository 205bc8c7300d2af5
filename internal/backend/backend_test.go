package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-party/internal/config"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/store/memstore"
)

func TestOpen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("memory", func(t *testing.T) {
		conf := config.NewConfig().Store
		conf.Backend = config.MemoryBackend

		st, err := Open(ctx, conf)
		require.NoError(t, err)
		defer st.Close()

		assert.IsType(t, &memstore.Store{}, st)
		require.NoError(t, st.Put(ctx, store.SessionPath("s1"), store.Fields{"hostId": []byte(`"a"`)}))
	})

	t.Run("unknown", func(t *testing.T) {
		conf := config.NewConfig().Store
		conf.Backend = "etcd"

		_, err := Open(ctx, conf)
		assert.ErrorIs(t, err, config.ErrUnknownBackend)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		conf := config.NewConfig().Store
		conf.Backend = config.RedisBackend
		conf.Redis.Addr = "127.0.0.1:1"

		_, err := Open(ctx, conf)
		assert.ErrorContains(t, err, "connect redis")
	})

	t.Run("unreachable nats", func(t *testing.T) {
		conf := config.NewConfig().Store
		conf.Backend = config.NATSBackend
		conf.NATS.URL = "nats://127.0.0.1:1"

		_, err := Open(ctx, conf)
		assert.ErrorContains(t, err, "connect nats")
	})
}
