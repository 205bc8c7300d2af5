package core

import (
	"time"
)

type SessionID string

func (id SessionID) String() string {
	return string(id)
}

// PlaybackState is the shared playback record replicated from the host.
// LastUpdatedBy only identifies the writer of this exact value; it grants no authority.
type PlaybackState struct {
	VideoURL      string        `json:"videoUrl"`
	IsPlaying     bool          `json:"isPlaying"`
	CurrentTime   float64       `json:"currentTime"`
	LastUpdatedBy ParticipantID `json:"lastUpdatedBy,omitempty"`
}

// PlaybackPatch is a partial update of PlaybackState. Nil fields are left as they are.
type PlaybackPatch struct {
	VideoURL    *string  `json:"videoUrl,omitempty"`
	IsPlaying   *bool    `json:"isPlaying,omitempty"`
	CurrentTime *float64 `json:"currentTime,omitempty"`
}

func (p PlaybackPatch) IsEmpty() bool {
	return p.VideoURL == nil && p.IsPlaying == nil && p.CurrentTime == nil
}

// Apply merges the patch into s and returns the result. LastUpdatedBy is kept as is.
func (s PlaybackState) Apply(p PlaybackPatch) PlaybackState {
	if p.VideoURL != nil {
		s.VideoURL = *p.VideoURL
	}
	if p.IsPlaying != nil {
		s.IsPlaying = *p.IsPlaying
	}
	if p.CurrentTime != nil {
		s.CurrentTime = *p.CurrentTime
	}

	return s
}

// Session is the session-level document: host claim plus playback state.
type Session struct {
	HostID      ParticipantID  `json:"hostId,omitempty"`
	PlayerState *PlaybackState `json:"playerState,omitempty"`
	CreatedAt   *time.Time     `json:"createdAt,omitempty"`
}

func (s *Session) HasHost() bool {
	return s.HostID != ""
}
