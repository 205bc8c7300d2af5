package party

import (
	"github.com/isqad/livelook-party/internal/buffer"
	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/mesh"
)

type EventType string

const (
	RosterEvent   EventType = "roster"
	StreamsEvent  EventType = "streams"
	HostEvent     EventType = "host"
	PlaybackEvent EventType = "playback"
)

// Event is a change of state a presentation client may render.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

type HostInfo struct {
	HostID core.ParticipantID `json:"hostId"`
	IsHost bool               `json:"isHost"`
}

type PlaybackInfo struct {
	core.PlaybackState
	// Position is the local player position.
	Position float64 `json:"position"`
	Seeking  bool    `json:"seeking"`
}

type StreamInfo struct {
	PeerID   core.ParticipantID `json:"peerId"`
	StreamID string             `json:"streamId"`
	TrackID  string             `json:"trackId"`
	Codec    string             `json:"codec"`
	Stats    buffer.Stats       `json:"stats"`
}

func streamInfos(streams []mesh.Stream) []StreamInfo {
	infos := make([]StreamInfo, 0, len(streams))
	for _, s := range streams {
		infos = append(infos, StreamInfo{
			PeerID:   s.PeerID,
			StreamID: s.Stream.StreamID,
			TrackID:  s.Stream.TrackID,
			Codec:    s.Stream.Codec,
			Stats:    s.Stream.Stats(),
		})
	}
	return infos
}
