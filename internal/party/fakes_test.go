package party

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/rtc"
)

type MockConnection struct {
	mu     sync.Mutex
	state  webrtc.SignalingState
	remote bool
	closed bool
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
	c.state = webrtc.SignalingStateStable
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *MockConnection) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = true
	if sdp.Type == webrtc.SDPTypeOffer {
		c.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		c.state = webrtc.SignalingStateStable
	}
	return nil
}

func (c *MockConnection) AddICECandidate(webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remote {
		return rtc.ErrNoRemoteDescription
	}
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

func (c *MockConnection) OnICECandidate(func(webrtc.ICECandidateInit))           {}
func (c *MockConnection) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}
func (c *MockConnection) OnTrack(func(*rtc.RemoteStream))                        {}

func (c *MockConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type MockTransport struct {
	mu    sync.Mutex
	conns map[core.ParticipantID]int
}

func (t *MockTransport) NewConnection(peerID core.ParticipantID) (rtc.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns == nil {
		t.conns = map[core.ParticipantID]int{}
	}
	t.conns[peerID]++
	return &MockConnection{}, nil
}

func (t *MockTransport) Count(peerID core.ParticipantID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[peerID]
}
