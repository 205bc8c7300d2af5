package api

import (
	"context"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/mesh"
	"github.com/isqad/livelook-party/internal/party"
)

// Party is the joined participant the API presents.
type Party interface {
	Self() core.Participant
	Roster() []core.Participant
	Streams() []party.StreamInfo
	Peers() []mesh.PeerInfo
	Host() party.HostInfo
	Playback() party.PlaybackInfo
	SetVideoSource(ctx context.Context, url string) error
	SetPlaybackState(ctx context.Context, patch core.PlaybackPatch) error
	SetSeeking(ctx context.Context, seeking bool) error
	Subscribe(f func(party.Event)) (func(), error)
}
