// Package rtc adapts pion peer connections to the audio-only mesh.
package rtc

import (
	"errors"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/config"
	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/telemetry"
)

const (
	dtlsRetransmissionInterval = 100 * time.Millisecond
	mtu                        = 1400
	iceDisconnectedTimeout     = 10 * time.Second
	iceFailedTimeout           = 25 * time.Second // pion's default
	iceKeepaliveInterval       = 2 * time.Second  // pion's default
)

// ErrNoRemoteDescription is returned for candidates that arrive before the remote description.
var ErrNoRemoteDescription = errors.New("remote description is not set")

// Connection is one media connection to a remote participant.
type Connection interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(sdp webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState
	OnICECandidate(f func(webrtc.ICECandidateInit))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*RemoteStream))
	Close() error
}

// Transport creates connections.
type Transport interface {
	NewConnection(peerID core.ParticipantID) (Connection, error)
}

type TransportParams struct {
	Config *config.WebRTCConfig
	// Local is sent on every connection. Nil means receive only.
	Local *LocalAudio
}

type MediaTransport struct {
	params TransportParams
}

func NewMediaTransport(params TransportParams) *MediaTransport {
	return &MediaTransport{params: params}
}

func (t *MediaTransport) NewConnection(peerID core.ParticipantID) (Connection, error) {
	pc, err := newPeerConnection(t.params)
	if err != nil {
		return nil, err
	}

	c := &PCConnection{peerID: peerID, pc: pc}

	if t.params.Local != nil {
		sender, err := pc.AddTrack(t.params.Local.Track())
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		go c.readReceiverReports(sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state == webrtc.ICEGathererStateComplete {
			log.Debug().Str("service", "rtc").Str("peerID", peerID.String()).Msg("ICE gathering complete")
		}
	})

	return c, nil
}

func newPeerConnection(params TransportParams) (*webrtc.PeerConnection, error) {
	me, registry, err := createMediaEngine(params.Config.EnabledCodecs, params.Config.Audio)
	if err != nil {
		return nil, err
	}

	se := params.Config.SettingEngine
	se.SetDTLSRetransmissionInterval(dtlsRetransmissionInterval)
	se.SetReceiveMTU(mtu)
	se.SetICETimeouts(iceDisconnectedTimeout, iceFailedTimeout, iceKeepaliveInterval)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithSettingEngine(se),
		webrtc.WithInterceptorRegistry(registry),
	)

	return api.NewPeerConnection(params.Config.Configuration)
}

// PCConnection is a Connection over a pion PeerConnection.
type PCConnection struct {
	peerID core.ParticipantID
	pc     *webrtc.PeerConnection
}

func (c *PCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return offer, nil
}

func (c *PCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return answer, nil
}

func (c *PCConnection) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sdp)
}

func (c *PCConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if c.pc.RemoteDescription() == nil {
		return ErrNoRemoteDescription
	}
	return c.pc.AddICECandidate(candidate)
}

func (c *PCConnection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *PCConnection) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

func (c *PCConnection) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *PCConnection) OnTrack(f func(*RemoteStream)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug().
			Str("service", "rtc").
			Str("peerID", c.peerID.String()).
			Str("streamID", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("on media track")

		stream := NewRemoteStream(track.StreamID(), track.ID(), track.Codec().MimeType, uint32(track.SSRC()))
		go stream.consume(track)
		f(stream)
	})
}

func (c *PCConnection) Close() error {
	return c.pc.Close()
}

func (c *PCConnection) readReceiverReports(sender *webrtc.RTPSender) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}

		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, r := range report.Reports {
				telemetry.ReceiverLoss(r.FractionLost)
			}
		}
	}
}
