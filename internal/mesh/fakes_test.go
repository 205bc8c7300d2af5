package mesh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/rtc"
)

type MockConnection struct {
	mu         sync.Mutex
	PeerID     core.ParticipantID
	state      webrtc.SignalingState
	remote     *webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Closed     bool

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
	onTrack     func(*rtc.RemoteStream)
}

func (c *MockConnection) CreateOffer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = webrtc.SignalingStateHaveLocalOffer
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (c *MockConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remote == nil {
		return webrtc.SessionDescription{}, errors.New("no remote offer")
	}
	c.state = webrtc.SignalingStateStable
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *MockConnection) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remote = &sdp
	if sdp.Type == webrtc.SDPTypeOffer {
		c.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		c.state = webrtc.SignalingStateStable
	}
	return nil
}

func (c *MockConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.remote == nil {
		return rtc.ErrNoRemoteDescription
	}
	c.Candidates = append(c.Candidates, candidate)
	return nil
}

func (c *MockConnection) SignalingState() webrtc.SignalingState {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == 0 {
		return webrtc.SignalingStateStable
	}
	return c.state
}

func (c *MockConnection) OnICECandidate(f func(webrtc.ICECandidateInit)) { c.onCandidate = f }

func (c *MockConnection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) { c.onState = f }

func (c *MockConnection) OnTrack(f func(*rtc.RemoteStream)) { c.onTrack = f }

func (c *MockConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Closed = true
	return nil
}

func (c *MockConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.Closed
}

type MockTransport struct {
	mu    sync.Mutex
	Conns []*MockConnection
}

func (t *MockTransport) NewConnection(peerID core.ParticipantID) (rtc.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &MockConnection{PeerID: peerID}
	t.Conns = append(t.Conns, c)
	return c, nil
}

func (t *MockTransport) Last() *MockConnection {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.Conns) == 0 {
		return nil
	}
	return t.Conns[len(t.Conns)-1]
}

func (t *MockTransport) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.Conns)
}

type sent struct {
	To   core.ParticipantID
	Kind string
}

type MockSignaler struct {
	mu   sync.Mutex
	Sent []sent
	Err  error

	// Route, when set, delivers each message to the recipient.
	Route func(to core.ParticipantID, kind string, sdp webrtc.SessionDescription, candidate webrtc.ICECandidateInit)
}

func (s *MockSignaler) record(to core.ParticipantID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return s.Err
	}
	s.Sent = append(s.Sent, sent{To: to, Kind: kind})
	return nil
}

func (s *MockSignaler) SendOffer(ctx context.Context, to core.ParticipantID, sdp webrtc.SessionDescription) error {
	if err := s.record(to, "offer"); err != nil {
		return err
	}
	if s.Route != nil {
		s.Route(to, "offer", sdp, webrtc.ICECandidateInit{})
	}
	return nil
}

func (s *MockSignaler) SendAnswer(ctx context.Context, to core.ParticipantID, sdp webrtc.SessionDescription) error {
	if err := s.record(to, "answer"); err != nil {
		return err
	}
	if s.Route != nil {
		s.Route(to, "answer", sdp, webrtc.ICECandidateInit{})
	}
	return nil
}

func (s *MockSignaler) SendICECandidate(ctx context.Context, to core.ParticipantID, candidate webrtc.ICECandidateInit) error {
	if err := s.record(to, "iceCandidate"); err != nil {
		return err
	}
	if s.Route != nil {
		s.Route(to, "iceCandidate", webrtc.SessionDescription{}, candidate)
	}
	return nil
}

func (s *MockSignaler) Count(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.Sent {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

const (
	time2s = 2 * time.Second
	tick   = 10 * time.Millisecond
)
