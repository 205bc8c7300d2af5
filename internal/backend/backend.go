// Package backend opens the shared store selected by the configuration.
package backend

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/config"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/store/memstore"
	"github.com/isqad/livelook-party/internal/store/natsstore"
	"github.com/isqad/livelook-party/internal/store/pgstore"
	"github.com/isqad/livelook-party/internal/store/redisstore"
)

// Open connects to the configured backend. The caller closes the store.
func Open(ctx context.Context, conf config.StoreConfig) (store.Store, error) {
	logger := log.With().Str("service", "store").Str("backend", conf.Backend).Logger()

	switch conf.Backend {
	case config.MemoryBackend:
		logger.Warn().Msg("in-memory store, sessions are not shared with other processes")
		return memstore.New(), nil

	case config.RedisBackend:
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", conf.Redis.Addr, err)
		}
		logger.Info().Str("addr", conf.Redis.Addr).Msg("connected")
		return redisstore.New(rdb, conf.Redis.Prefix), nil

	case config.NATSBackend:
		s, err := natsstore.Connect(conf.NATS.URL, conf.NATS.Bucket)
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", conf.NATS.URL, err)
		}
		logger.Info().Str("url", conf.NATS.URL).Str("bucket", conf.NATS.Bucket).Msg("connected")
		return s, nil

	case config.PostgresBackend:
		s, err := pgstore.Connect(ctx, conf.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info().Msg("connected")
		return s, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, conf.Backend)
	}
}
