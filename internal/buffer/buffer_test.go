package buffer

import (
	"io"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
)

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: seq, SSRC: 1234, PayloadType: 111},
		Payload: make([]byte, 88),
	}
}

func TestBufferCountsLoss(t *testing.T) {
	b := NewBuffer(1234, "audio/OPUS")
	now := time.Now().UnixNano()

	for _, seq := range []uint16{10, 11, 14, 12, 15} {
		assert.NoError(t, b.Write(packet(seq), now))
	}

	stats := b.Stats()
	assert.Equal(t, uint64(5), stats.Packets)
	assert.Equal(t, uint64(1), stats.Lost)
	assert.Equal(t, "audio/opus", b.Mime())
	assert.Greater(t, stats.Bitrate, 0.0)
}

func TestBufferSequenceWrap(t *testing.T) {
	b := NewBuffer(1, "audio/opus")
	now := time.Now().UnixNano()

	for _, seq := range []uint16{65534, 65535, 0, 1} {
		assert.NoError(t, b.Write(packet(seq), now))
	}

	assert.Equal(t, uint64(0), b.Stats().Lost)
}

func TestBufferWindow(t *testing.T) {
	b := NewBuffer(1, "audio/opus")
	start := time.Now()

	assert.NoError(t, b.Write(packet(1), start.UnixNano()))
	assert.NoError(t, b.Write(packet(2), start.Add(5*time.Second).UnixNano()))

	assert.Equal(t, 1, b.arrivals.Len())
	assert.Equal(t, start.Add(5*time.Second).UnixNano(), b.Stats().LastArrival.UnixNano())
}

func TestBufferClosed(t *testing.T) {
	b := NewBuffer(1, "audio/opus")
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())

	assert.ErrorIs(t, b.Write(packet(1), time.Now().UnixNano()), io.EOF)
}
