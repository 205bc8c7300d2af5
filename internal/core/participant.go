package core

import (
	"strings"

	"github.com/google/uuid"
)

// ParticipantID is an opaque, session-unique participant identifier.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

func (id ParticipantID) String() string {
	return string(id)
}

// Participant is the roster entry other participants see. Name carries no authority.
type Participant struct {
	ID   ParticipantID `json:"id"`
	Name string        `json:"name"`
}

func NewParticipant(id ParticipantID, name string) Participant {
	name = strings.TrimSpace(name)
	if name == "" {
		name = string(id)
	}

	return Participant{ID: id, Name: name}
}
