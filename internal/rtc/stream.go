package rtc

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/isqad/livelook-party/internal/buffer"
	"github.com/isqad/livelook-party/internal/telemetry"
)

// RemoteStream is inbound media of one remote participant.
type RemoteStream struct {
	StreamID string
	TrackID  string
	Codec    string

	buffer *buffer.Buffer
}

func NewRemoteStream(streamID, trackID, codec string, ssrc uint32) *RemoteStream {
	return &RemoteStream{
		StreamID: streamID,
		TrackID:  trackID,
		Codec:    codec,
		buffer:   buffer.NewBuffer(ssrc, codec),
	}
}

func (s *RemoteStream) Stats() buffer.Stats {
	return s.buffer.Stats()
}

// Close stops packet accounting. The track itself ends with its connection.
func (s *RemoteStream) Close() {
	_ = s.buffer.Close()
}

type rtpReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// consume drains the track until it ends or the stream is closed.
func (s *RemoteStream) consume(track rtpReader) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("service", "rtc").Str("streamID", s.StreamID).Msg("track ended")
			return
		}

		if err := s.buffer.Write(pkt, time.Now().UnixNano()); err != nil {
			return
		}
		telemetry.RTPPacketReceived()
	}
}
