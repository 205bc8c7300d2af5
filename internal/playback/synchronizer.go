// Package playback replicates the shared playback state from the host to
// every participant.
//
// Writes are stamped with lastUpdatedBy so the writer can recognize the echo
// of its own update and drop it. Only the host mutates the state.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/eventloop"
	"github.com/isqad/livelook-party/internal/store"
	"github.com/isqad/livelook-party/internal/telemetry"
)

var (
	ErrNotHost     = errors.New("only the host controls playback")
	ErrEmptySource = errors.New("video source is empty")
	ErrBadPosition = errors.New("playback position must be a non-negative number")
)

// HostView tells whether the local participant holds the host claim.
type HostView interface {
	IsHost() bool
}

type Synchronizer struct {
	store     store.Store
	loop      *eventloop.Loop
	sessionID core.SessionID
	self      core.ParticipantID
	host      HostView

	mu    sync.RWMutex
	state core.PlaybackState

	// loop only; echoes are recognized once this instance has written
	wrote bool

	sub      store.Subscription
	onChange func(core.PlaybackState)
}

func NewSynchronizer(st store.Store, loop *eventloop.Loop, sessionID core.SessionID, self core.ParticipantID, host HostView) *Synchronizer {
	return &Synchronizer{
		store:     st,
		loop:      loop,
		sessionID: sessionID,
		self:      self,
		host:      host,
	}
}

// OnChange is called on the loop after every change of the local state,
// remote or optimistic.
func (s *Synchronizer) OnChange(f func(core.PlaybackState)) {
	s.onChange = f
}

func (s *Synchronizer) State() core.PlaybackState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Synchronizer) Watch(ctx context.Context) error {
	sub, err := s.store.WatchDocument(ctx, store.SessionPath(s.sessionID), func(snap store.Snapshot) {
		s.loop.Post(func() {
			s.Observe(snap)
		})
	})
	if err != nil {
		return fmt.Errorf("watch session %s: %w", s.sessionID, err)
	}
	s.sub = sub

	return nil
}

func (s *Synchronizer) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
}

// Observe applies one snapshot of the session document. It runs on the loop.
func (s *Synchronizer) Observe(snap store.Snapshot) {
	if !snap.Exists {
		return
	}

	session := core.Session{}
	if err := snap.Decode(&session); err != nil {
		log.Error().Err(err).Str("service", "playback").Str("sessionID", s.sessionID.String()).Msg("decode session")
		return
	}
	if session.PlayerState == nil {
		return
	}

	if s.wrote && session.PlayerState.LastUpdatedBy == s.self {
		log.Debug().Str("service", "playback").Str("participantID", s.self.String()).Msg("echo dropped")
		return
	}

	s.replace(*session.PlayerState)
}

func (s *Synchronizer) replace(state core.PlaybackState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed && s.onChange != nil {
		s.onChange(state)
	}
}

// SetVideoSource switches the video and rewinds it paused. It runs on the loop.
func (s *Synchronizer) SetVideoSource(ctx context.Context, url string) error {
	playing := false
	position := 0.0

	return s.SetPlaybackState(ctx, core.PlaybackPatch{
		VideoURL:    &url,
		IsPlaying:   &playing,
		CurrentTime: &position,
	})
}

// SetPlaybackState merges patch into the last known state, applies it
// locally and writes it. It runs on the loop.
func (s *Synchronizer) SetPlaybackState(ctx context.Context, patch core.PlaybackPatch) error {
	if !s.host.IsHost() {
		return ErrNotHost
	}
	if patch.IsEmpty() {
		return nil
	}
	patch, err := validate(patch)
	if err != nil {
		return err
	}

	next := s.State().Apply(patch)
	next.LastUpdatedBy = s.self
	s.wrote = true
	s.replace(next)

	err = s.store.Put(ctx, store.SessionPath(s.sessionID), store.MustFields(core.Session{PlayerState: &next}), store.WithMerge())
	telemetry.Operation("playback_publish", err, "")
	if err != nil {
		log.Error().Err(err).Str("service", "playback").Str("participantID", s.self.String()).Msg("publish playback state")
		return fmt.Errorf("publish playback state: %w", err)
	}

	return nil
}

// validate trims the video url and rejects values the shared state cannot hold.
func validate(patch core.PlaybackPatch) (core.PlaybackPatch, error) {
	if patch.VideoURL != nil {
		url := strings.TrimSpace(*patch.VideoURL)
		if url == "" {
			return patch, ErrEmptySource
		}
		patch.VideoURL = &url
	}
	if patch.CurrentTime != nil {
		position := *patch.CurrentTime
		if position < 0 || math.IsNaN(position) || math.IsInf(position, 0) {
			return patch, ErrBadPosition
		}
	}

	return patch, nil
}
