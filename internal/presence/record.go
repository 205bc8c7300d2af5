package presence

import (
	"time"

	"github.com/isqad/livelook-party/internal/core"
)

// Record is the presence document of one participant. Its existence means
// the participant is in the session.
type Record struct {
	ID          core.ParticipantID `json:"id"`
	Name        string             `json:"name"`
	Incarnation string             `json:"incarnation"`
	JoinedAt    time.Time          `json:"joinedAt"`
	LastSeen    time.Time          `json:"lastSeen"`
}

func (r Record) Participant() core.Participant {
	return core.Participant{ID: r.ID, Name: r.Name}
}

// Stale reports whether the record missed its heartbeats.
func (r Record) Stale(staleAfter time.Duration, now time.Time) bool {
	return now.Sub(r.LastSeen) > staleAfter
}
