// Package mesh keeps one media connection per remote participant.
//
// Every method of Manager runs on the client event loop. Callbacks of the
// media layer arrive on their own goroutines and are posted onto the loop,
// where they are checked against the current entry of their peer before they
// take effect.
package mesh

import (
	"context"
	"errors"
	"sort"

	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/eventloop"
	"github.com/isqad/livelook-party/internal/rtc"
	"github.com/isqad/livelook-party/internal/telemetry"
)

// Signaler delivers signaling messages to a remote participant.
type Signaler interface {
	SendOffer(ctx context.Context, to core.ParticipantID, sdp webrtc.SessionDescription) error
	SendAnswer(ctx context.Context, to core.ParticipantID, sdp webrtc.SessionDescription) error
	SendICECandidate(ctx context.Context, to core.ParticipantID, candidate webrtc.ICECandidateInit) error
}

type Manager struct {
	self      core.ParticipantID
	transport rtc.Transport
	signaler  Signaler
	loop      *eventloop.Loop

	ctx    context.Context
	cancel context.CancelFunc

	peers  map[core.ParticipantID]*peer
	roster map[core.ParticipantID]struct{}
	closed bool

	onStreams func([]Stream)
}

func NewManager(self core.ParticipantID, transport rtc.Transport, signaler Signaler, loop *eventloop.Loop) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		self:      self,
		transport: transport,
		signaler:  signaler,
		loop:      loop,
		ctx:       ctx,
		cancel:    cancel,
		peers:     map[core.ParticipantID]*peer{},
		roster:    map[core.ParticipantID]struct{}{},
	}
}

// OnStreams is called with the full stream set after every change of it.
func (m *Manager) OnStreams(f func([]Stream)) {
	m.onStreams = f
}

// SetRoster opens connections this side initiates and closes connections
// of participants that left the roster.
func (m *Manager) SetRoster(participants []core.Participant) {
	if m.closed {
		return
	}

	roster := lo.SliceToMap(
		lo.Reject(participants, func(p core.Participant, _ int) bool { return p.ID == m.self }),
		func(p core.Participant) (core.ParticipantID, struct{}) { return p.ID, struct{}{} },
	)

	for id := range m.roster {
		if _, ok := roster[id]; !ok {
			m.closePeer(id, "left roster")
		}
	}
	m.roster = roster

	ids := lo.Keys(roster)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, ok := m.peers[id]; ok {
			continue
		}
		if !ShouldInitiate(m.self, id) {
			continue
		}
		m.connect(id)
	}
}

// Reset drops the pair with a participant that came back under a new
// incarnation. The side that initiates reconnects right away, the other side
// waits for the fresh offer.
func (m *Manager) Reset(id core.ParticipantID) {
	if m.closed || id == m.self {
		return
	}

	m.closePeer(id, "peer rejoined")

	if _, ok := m.roster[id]; ok && ShouldInitiate(m.self, id) {
		m.connect(id)
	}
}

func (m *Manager) connect(id core.ParticipantID) {
	p, err := m.newPeer(id, Offerer)
	if err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("participantID", m.self.String()).Str("peerID", id.String()).Msg("create connection")
		return
	}

	offer, err := p.conn.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", id.String()).Msg("create offer")
		m.closePeer(id, "offer failed")
		return
	}

	if err := m.signaler.SendOffer(m.ctx, id, offer); err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", id.String()).Msg("send offer")
		m.closePeer(id, "offer not sent")
		return
	}

	log.Debug().Str("service", "mesh").Str("participantID", m.self.String()).Str("peerID", id.String()).Msg("offer sent")
}

func (m *Manager) HandleOffer(from core.ParticipantID, sdp webrtc.SessionDescription) {
	if m.closed || from == m.self {
		return
	}

	if p, ok := m.peers[from]; ok {
		log.Debug().
			Str("service", "mesh").
			Str("peerID", from.String()).
			Str("state", p.state.String()).
			Msg("offer ignored, pair is not idle")
		return
	}

	p, err := m.newPeer(from, Answerer)
	if err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", from.String()).Msg("create connection")
		return
	}

	if err := p.conn.SetRemoteDescription(sdp); err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", from.String()).Msg("apply offer")
		m.closePeer(from, "bad offer")
		return
	}

	answer, err := p.conn.CreateAnswer()
	if err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", from.String()).Msg("create answer")
		m.closePeer(from, "answer failed")
		return
	}

	if err := m.signaler.SendAnswer(m.ctx, from, answer); err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", from.String()).Msg("send answer")
		m.closePeer(from, "answer not sent")
	}
}

func (m *Manager) HandleAnswer(from core.ParticipantID, sdp webrtc.SessionDescription) {
	if m.closed {
		return
	}

	p, ok := m.peers[from]
	if !ok || p.role != Offerer || p.conn.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		log.Debug().Str("service", "mesh").Str("peerID", from.String()).Msg("stale answer dropped")
		return
	}

	if err := p.conn.SetRemoteDescription(sdp); err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", from.String()).Msg("apply answer")
		m.closePeer(from, "bad answer")
	}
}

func (m *Manager) HandleICECandidate(from core.ParticipantID, candidate webrtc.ICECandidateInit) {
	if m.closed {
		return
	}

	p, ok := m.peers[from]
	if !ok {
		log.Debug().Str("service", "mesh").Str("peerID", from.String()).Msg("candidate for unknown peer dropped")
		return
	}

	if err := p.conn.AddICECandidate(candidate); err != nil {
		log.Debug().Err(err).Str("service", "mesh").Str("peerID", from.String()).Msg("candidate dropped")
	}
}

func (m *Manager) newPeer(id core.ParticipantID, role Role) (*peer, error) {
	conn, err := m.transport.NewConnection(id)
	if err != nil {
		return nil, err
	}

	p := &peer{id: id, role: role, state: Connecting, conn: conn}
	m.peers[id] = p

	conn.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		m.loop.Post(func() {
			m.sendCandidate(p, candidate)
		})
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.loop.Post(func() {
			m.handleStateChange(p, state)
		})
	})
	conn.OnTrack(func(stream *rtc.RemoteStream) {
		if !m.loop.Post(func() { m.handleTrack(p, stream) }) {
			stream.Close()
		}
	})

	log.Debug().
		Str("service", "mesh").
		Str("participantID", m.self.String()).
		Str("peerID", id.String()).
		Str("role", role.String()).
		Msg("connecting")

	return p, nil
}

func (m *Manager) current(p *peer) bool {
	return !m.closed && m.peers[p.id] == p
}

func (m *Manager) sendCandidate(p *peer, candidate webrtc.ICECandidateInit) {
	if !m.current(p) {
		return
	}

	if err := m.signaler.SendICECandidate(m.ctx, p.id, candidate); err != nil {
		log.Error().Err(err).Str("service", "mesh").Str("peerID", p.id.String()).Msg("send candidate")
	}
}

func (m *Manager) handleStateChange(p *peer, state webrtc.PeerConnectionState) {
	if !m.current(p) {
		return
	}

	log.Debug().
		Str("service", "mesh").
		Str("peerID", p.id.String()).
		Str("state", state.String()).
		Msg("connection state changed")

	switch state {
	case webrtc.PeerConnectionStateConnected:
		if p.state != Connected {
			p.state = Connected
			telemetry.PeerConnected()
			telemetry.Operation("ice_connection", nil, "")
		}
	case webrtc.PeerConnectionStateFailed:
		telemetry.Operation("ice_connection", errors.New(state.String()), "state_failed")
		m.closePeer(p.id, state.String())
	case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateClosed:
		m.closePeer(p.id, state.String())
	}
}

func (m *Manager) handleTrack(p *peer, stream *rtc.RemoteStream) {
	if !m.current(p) {
		stream.Close()
		return
	}

	if p.stream != nil {
		if p.stream.StreamID == stream.StreamID {
			stream.Close()
			return
		}
		p.stream.Close()
	}
	p.stream = stream

	m.publishStreams()
}

func (m *Manager) closePeer(id core.ParticipantID, reason string) {
	p, ok := m.peers[id]
	if !ok {
		return
	}
	delete(m.peers, id)

	if p.state == Connected {
		telemetry.PeerDisconnected()
	}
	p.state = Closed

	log.Debug().
		Str("service", "mesh").
		Str("participantID", m.self.String()).
		Str("peerID", id.String()).
		Str("reason", reason).
		Msg("closed")

	if p.stream != nil {
		p.stream.Close()
		m.publishStreams()
	}

	// pion may block in Close while gathering candidates
	go func() {
		if err := p.conn.Close(); err != nil {
			log.Debug().Err(err).Str("service", "mesh").Str("peerID", id.String()).Msg("close connection")
		}
	}()
}

func (m *Manager) publishStreams() {
	streams := m.Streams()
	telemetry.RemoteStreams(len(streams))

	if m.onStreams != nil {
		m.onStreams(streams)
	}
}

// Streams returns inbound streams ordered by peer id.
func (m *Manager) Streams() []Stream {
	streams := lo.FilterMap(lo.Values(m.peers), func(p *peer, _ int) (Stream, bool) {
		return Stream{PeerID: p.id, Stream: p.stream}, p.stream != nil
	})
	sort.Slice(streams, func(i, j int) bool { return streams[i].PeerID < streams[j].PeerID })

	return streams
}

// Peers returns every open pair ordered by peer id.
func (m *Manager) Peers() []PeerInfo {
	infos := lo.MapToSlice(m.peers, func(id core.ParticipantID, p *peer) PeerInfo {
		return PeerInfo{PeerID: id, Role: p.role.String(), State: p.state.String()}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].PeerID < infos[j].PeerID })

	return infos
}

// Close tears down every connection. Later calls are no-ops.
func (m *Manager) Close() {
	if m.closed {
		return
	}

	for id := range m.peers {
		m.closePeer(id, "manager closed")
	}
	m.closed = true
	m.cancel()
}
