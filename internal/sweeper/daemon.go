// Package sweeper periodically removes the presence of participants that
// stopped sending heartbeats without leaving.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/presence"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/telemetry"
)

type Daemon struct {
	store      store.Store
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	stop chan struct{}
	done chan struct{}
}

func New(st store.Store, interval, staleAfter time.Duration) *Daemon {
	return &Daemon{
		store:      st,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run sweeps every interval until ctx is done or Stop is called.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)

	log.Info().
		Str("service", "sweeper").
		Dur("interval", d.interval).
		Dur("staleAfter", d.staleAfter).
		Msg("start sweeper daemon")

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		d.Sweep(ctx)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info().Str("service", "sweeper").Msg("stop sweeper daemon")
			return nil
		case <-d.stop:
			log.Info().Str("service", "sweeper").Msg("stop sweeper daemon")
			return nil
		}
	}
}

// Sweep runs one pass over every session and reports how many records it removed.
func (d *Daemon) Sweep(ctx context.Context) int {
	swept, err := presence.SweepAll(ctx, d.store, d.staleAfter, d.now())
	telemetry.Operation("sweep", err, "")
	if err != nil {
		log.Error().Err(err).Str("service", "sweeper").Msg("sweep")
	}
	if swept > 0 {
		log.Info().Str("service", "sweeper").Int("swept", swept).Msg("stale presence removed")
	}
	return swept
}

// Stop ends Run and waits for it.
func (d *Daemon) Stop() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
}
