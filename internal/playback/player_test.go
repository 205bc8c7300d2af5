package playback

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/store/memstore"
)

func TestPlayerFollow(t *testing.T) {
	ft := &fakeTime{now: time.Unix(1000, 0)}
	clock := NewClock(ft.Now)
	p := NewPlayer(nil, staticHost(false), clock, DefaultReconciler())

	p.Follow(core.PlaybackState{VideoURL: "https://x/video.mp4", IsPlaying: true, CurrentTime: 10})
	assert.True(t, clock.Playing())
	assert.Equal(t, 10.0, clock.Position())

	ft.Advance(500 * time.Millisecond)
	p.Follow(core.PlaybackState{VideoURL: "https://x/video.mp4", IsPlaying: true, CurrentTime: 10})
	assert.Equal(t, 10.5, clock.Position(), "divergence under the threshold is left alone")

	p.Follow(core.PlaybackState{VideoURL: "https://x/video.mp4", IsPlaying: true, CurrentTime: 12.5})
	assert.Equal(t, 12.5, clock.Position())

	clock.SetSeeking(true)
	p.Follow(core.PlaybackState{VideoURL: "https://x/video.mp4", IsPlaying: false, CurrentTime: 40})
	assert.False(t, clock.Playing())
	assert.Equal(t, 12.5, clock.Position(), "seeking participants are not corrected")

	clock.SetSeeking(false)
	p.Follow(core.PlaybackState{VideoURL: "https://x/other.mp4", CurrentTime: 0})
	assert.Equal(t, 0.0, clock.Position(), "a new source always rewinds")
}

func TestPlayerTick(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTime{now: time.Unix(1000, 0)}
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())

	host := newSynchronizer(t, st, sessionID, "a1", true)
	clock := NewClock(ft.Now)
	p := NewPlayer(host, staticHost(true), clock, DefaultReconciler())
	host.OnChange(p.Follow)

	require.NoError(t, host.SetVideoSource(ctx, "https://x/video.mp4"))
	playing := true
	require.NoError(t, host.SetPlaybackState(ctx, core.PlaybackPatch{IsPlaying: &playing}))
	assert.True(t, clock.Playing())

	ft.Advance(800 * time.Millisecond)
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, 0.0, host.State().CurrentTime)

	ft.Advance(400 * time.Millisecond)
	require.NoError(t, p.Tick(ctx))
	assert.InDelta(t, 1.2, host.State().CurrentTime, 1e-9)

	t.Run("non-host never publishes", func(t *testing.T) {
		guest := NewPlayer(host, staticHost(false), clock, DefaultReconciler())
		ft.Advance(5 * time.Second)
		require.NoError(t, guest.Tick(ctx))
		assert.InDelta(t, 1.2, host.State().CurrentTime, 1e-9)
	})
}

func TestPlayerHostSeekSticks(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTime{now: time.Unix(1000, 0)}
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())

	host := newSynchronizer(t, st, sessionID, "a1", true)
	clock := NewClock(ft.Now)
	p := NewPlayer(host, staticHost(true), clock, DefaultReconciler())
	host.OnChange(p.Follow)

	require.NoError(t, host.SetVideoSource(ctx, "https://x/video.mp4"))
	playing := true
	require.NoError(t, host.SetPlaybackState(ctx, core.PlaybackPatch{IsPlaying: &playing}))

	ft.Advance(500 * time.Millisecond)
	position := 1.4
	require.NoError(t, host.SetPlaybackState(ctx, core.PlaybackPatch{CurrentTime: &position}))
	assert.InDelta(t, 1.4, clock.Position(), 1e-9, "a seek under the follow threshold still moves the clock")

	ft.Advance(200 * time.Millisecond)
	require.NoError(t, p.Tick(ctx))
	assert.InDelta(t, 1.4, host.State().CurrentTime, 1e-9)
	assert.InDelta(t, 1.6, clock.Position(), 1e-9)

	t.Run("pause keeps the local position", func(t *testing.T) {
		paused := false
		require.NoError(t, host.SetPlaybackState(ctx, core.PlaybackPatch{IsPlaying: &paused}))
		assert.False(t, clock.Playing())
		assert.InDelta(t, 1.6, clock.Position(), 1e-9)
	})

	t.Run("small seek while paused then resume", func(t *testing.T) {
		back := 0.9
		require.NoError(t, host.SetPlaybackState(ctx, core.PlaybackPatch{CurrentTime: &back}))
		assert.InDelta(t, 0.9, clock.Position(), 1e-9)

		require.NoError(t, host.SetPlaybackState(ctx, core.PlaybackPatch{IsPlaying: &playing}))
		ft.Advance(300 * time.Millisecond)
		require.NoError(t, p.Tick(ctx))
		assert.InDelta(t, 1.2, clock.Position(), 1e-9)
		assert.InDelta(t, 0.9, host.State().CurrentTime, 1e-9)
	})
}

func TestPlayerSeeking(t *testing.T) {
	ctx := context.Background()
	ft := &fakeTime{now: time.Unix(1000, 0)}
	st := memstore.New()
	sessionID := core.SessionID(uuid.NewString())

	host := newSynchronizer(t, st, sessionID, "a1", true)
	hostClock := NewClock(ft.Now)
	hostPlayer := NewPlayer(host, staticHost(true), hostClock, DefaultReconciler())

	guestClock := NewClock(ft.Now)
	guestPlayer := NewPlayer(nil, staticHost(false), guestClock, DefaultReconciler())
	host.OnChange(func(state core.PlaybackState) {
		hostPlayer.Follow(state)
		guestPlayer.Follow(state)
	})

	require.NoError(t, host.SetVideoSource(ctx, "https://x/video.mp4"))
	playing := true
	require.NoError(t, host.SetPlaybackState(ctx, core.PlaybackPatch{IsPlaying: &playing}))

	t.Run("guest catches up on release", func(t *testing.T) {
		require.NoError(t, guestPlayer.SetSeeking(ctx, true))
		guestClock.Seek(30)
		guestPlayer.Follow(host.State())
		assert.Equal(t, 30.0, guestClock.Position(), "no correction while scrubbing")

		require.NoError(t, guestPlayer.SetSeeking(ctx, false))
		assert.False(t, guestClock.Seeking())
		assert.InDelta(t, 0.0, guestClock.Position(), 1e-9)
	})

	t.Run("host publishes where it landed", func(t *testing.T) {
		require.NoError(t, hostPlayer.SetSeeking(ctx, true))
		hostClock.Seek(30)
		ft.Advance(2 * time.Second)
		require.NoError(t, hostPlayer.Tick(ctx))
		assert.Equal(t, 0.0, host.State().CurrentTime, "no republish while scrubbing")

		require.NoError(t, hostPlayer.SetSeeking(ctx, false))
		assert.InDelta(t, 32.0, host.State().CurrentTime, 1e-9)
		assert.InDelta(t, 32.0, hostClock.Position(), 1e-9)
		assert.InDelta(t, 32.0, guestClock.Position(), 1e-9)
	})

	t.Run("release without a source leaves the clock alone", func(t *testing.T) {
		idle := NewPlayer(nil, staticHost(false), NewClock(ft.Now), DefaultReconciler())
		idle.Clock().Seek(5)
		require.NoError(t, idle.SetSeeking(ctx, true))
		require.NoError(t, idle.SetSeeking(ctx, false))
		assert.Equal(t, 5.0, idle.Clock().Position())
	})
}
