package mesh

import (
	"fmt"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/rtc"
)

type Role int

const (
	Offerer Role = iota
	Answerer
)

func (r Role) String() string {
	switch r {
	case Offerer:
		return "offerer"
	case Answerer:
		return "answerer"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// State of a pair. Absent pairs have no entry at all.
type State int

const (
	Connecting State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type peer struct {
	id     core.ParticipantID
	role   Role
	state  State
	conn   rtc.Connection
	stream *rtc.RemoteStream
}

// PeerInfo describes one pair for observers.
type PeerInfo struct {
	PeerID core.ParticipantID `json:"peerId"`
	Role   string             `json:"role"`
	State  string             `json:"state"`
}

// Stream is inbound media of one remote participant.
type Stream struct {
	PeerID core.ParticipantID
	Stream *rtc.RemoteStream
}
