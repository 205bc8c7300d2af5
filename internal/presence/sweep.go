package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/telemetry"
)

// Sweep removes presence records of the session whose heartbeat is older
// than staleAfter, together with their mailboxes. The stale check is
// repeated inside the deleting transaction.
func Sweep(ctx context.Context, st store.Store, sessionID core.SessionID, staleAfter time.Duration, now time.Time) ([]core.ParticipantID, error) {
	docs, err := st.List(ctx, store.PeersPath(sessionID))
	if err != nil {
		return nil, err
	}

	swept := []core.ParticipantID{}
	for _, doc := range docs {
		rec := Record{}
		if err := doc.Decode(&rec); err != nil {
			log.Error().Err(err).Str("service", "presence").Str("path", doc.Path.String()).Msg("decode presence")
			continue
		}
		if !rec.Stale(staleAfter, now) {
			continue
		}

		id := core.ParticipantID(doc.ID())
		removed, err := retract(ctx, st, sessionID, id, func(current Record) bool {
			return current.Incarnation == rec.Incarnation && current.Stale(staleAfter, now)
		})
		telemetry.Operation("presence_sweep", err, "")
		if err != nil {
			return swept, err
		}
		if removed {
			swept = append(swept, id)
			log.Info().
				Str("service", "presence").
				Str("sessionID", sessionID.String()).
				Str("participantID", id.String()).
				Time("lastSeen", rec.LastSeen).
				Msg("stale presence swept")
		}
	}

	if len(swept) > 0 {
		if _, err := PurgeIfEmpty(ctx, st, sessionID); err != nil {
			return swept, err
		}
	}

	return swept, nil
}

// SweepAll runs Sweep over every session and returns how many records it removed.
func SweepAll(ctx context.Context, st store.Store, staleAfter time.Duration, now time.Time) (int, error) {
	sessions, err := st.List(ctx, store.SessionsPath())
	if err != nil {
		return 0, err
	}

	total := 0
	for _, session := range sessions {
		swept, err := Sweep(ctx, st, core.SessionID(session.ID()), staleAfter, now)
		total += len(swept)
		if err != nil {
			return total, err
		}
	}

	return total, nil
}
