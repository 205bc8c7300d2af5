package playback

import (
	"context"

	"github.com/isqad/livelook-party/internal/core"
)

// Player keeps a local Clock in step with the shared state. Its methods run on the loop.
type Player struct {
	sync       *Synchronizer
	host       HostView
	clock      *Clock
	reconciler Reconciler

	videoURL string
	last     core.PlaybackState
}

func NewPlayer(sync *Synchronizer, host HostView, clock *Clock, reconciler Reconciler) *Player {
	return &Player{
		sync:       sync,
		host:       host,
		clock:      clock,
		reconciler: reconciler,
	}
}

func (p *Player) Clock() *Clock {
	return p.clock
}

// Follow moves the clock to state.
func (p *Player) Follow(state core.PlaybackState) {
	last := p.last
	p.last = state

	if state.IsPlaying {
		p.clock.Play()
	} else {
		p.clock.Pause()
	}

	if state.VideoURL != p.videoURL {
		p.videoURL = state.VideoURL
		p.clock.Seek(state.CurrentTime)
		return
	}

	// our own seek is taken as is, the thresholds only absorb remote jitter
	if p.ownWrite(state) && state.CurrentTime != last.CurrentTime {
		p.clock.Seek(state.CurrentTime)
		return
	}

	if position, ok := p.reconciler.Correct(p.clock.Position(), state.CurrentTime, p.clock.Seeking()); ok {
		p.clock.Seek(position)
	}
}

// SetSeeking holds off corrections and republishing while the user scrubs.
// On release the host publishes where it landed and a guest catches up with
// the last known state.
func (p *Player) SetSeeking(ctx context.Context, seeking bool) error {
	p.clock.SetSeeking(seeking)
	if seeking || p.last.VideoURL == "" {
		return nil
	}

	position := p.clock.Position()
	if p.host.IsHost() {
		if !p.reconciler.ShouldPublish(position, p.last.CurrentTime) {
			return nil
		}
		return p.sync.SetPlaybackState(ctx, core.PlaybackPatch{CurrentTime: &position})
	}

	if corrected, ok := p.reconciler.Correct(position, p.last.CurrentTime, false); ok {
		p.clock.Seek(corrected)
	}
	return nil
}

func (p *Player) ownWrite(state core.PlaybackState) bool {
	return p.sync != nil && state.LastUpdatedBy != "" && state.LastUpdatedBy == p.sync.self
}

// Tick writes the host position once it drifted past the publish threshold.
func (p *Player) Tick(ctx context.Context) error {
	if !p.host.IsHost() || p.clock.Seeking() {
		return nil
	}

	state := p.sync.State()
	if !state.IsPlaying || state.VideoURL == "" {
		return nil
	}

	position := p.clock.Position()
	if !p.reconciler.ShouldPublish(position, state.CurrentTime) {
		return nil
	}

	return p.sync.SetPlaybackState(ctx, core.PlaybackPatch{CurrentTime: &position})
}
