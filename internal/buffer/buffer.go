// Package buffer keeps receive statistics of inbound RTP streams.
package buffer

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
)

const defaultWindow = 2 * time.Second

type arrival struct {
	at   int64
	size int
}

type Stats struct {
	Packets     uint64    `json:"packets"`
	Lost        uint64    `json:"lost"`
	Bitrate     float64   `json:"bitrate"`
	LastArrival time.Time `json:"lastArrival"`
}

// Buffer counts packets of one SSRC. Packets may arrive out of order.
type Buffer struct {
	sync.RWMutex
	mediaSSRC uint32
	mime      string
	window    time.Duration

	arrivals deque.Deque[arrival]

	packets     uint64
	lost        uint64
	highestSeq  uint16
	started     bool
	lastArrival int64

	closed    atomic.Bool
	closeOnce sync.Once
}

func NewBuffer(ssrc uint32, mime string) *Buffer {
	b := &Buffer{
		mediaSSRC: ssrc,
		mime:      strings.ToLower(mime),
		window:    defaultWindow,
	}
	b.arrivals.SetBaseCap(64)

	return b
}

func (b *Buffer) SSRC() uint32 {
	return b.mediaSSRC
}

func (b *Buffer) Mime() string {
	return b.mime
}

func (b *Buffer) Close() error {
	b.closeOnce.Do(func() {
		log.Debug().Str("service", "RTP buffer").Uint32("ssrc", b.mediaSSRC).Msg("close buffer")
		b.closed.Store(true)
	})

	return nil
}

// Write accounts one received packet. It returns io.EOF once the buffer is closed.
func (b *Buffer) Write(pkt *rtp.Packet, arrivalTime int64) error {
	if b.closed.Load() {
		return io.EOF
	}

	b.Lock()
	defer b.Unlock()

	b.packets++
	b.lastArrival = arrivalTime
	b.arrivals.PushBack(arrival{at: arrivalTime, size: pkt.MarshalSize()})
	b.evict(arrivalTime)

	if !b.started {
		b.started = true
		b.highestSeq = pkt.SequenceNumber
		return nil
	}

	diff := pkt.SequenceNumber - b.highestSeq
	switch {
	case diff == 0:
	case diff < 0x8000:
		b.lost += uint64(diff - 1)
		b.highestSeq = pkt.SequenceNumber
	default:
		// late packet filling a gap counted earlier
		if b.lost > 0 {
			b.lost--
		}
	}

	return nil
}

func (b *Buffer) evict(now int64) {
	for b.arrivals.Len() > 0 && now-b.arrivals.Front().at > int64(b.window) {
		b.arrivals.PopFront()
	}
}

func (b *Buffer) Stats() Stats {
	b.RLock()
	defer b.RUnlock()

	bytes := 0
	for i := 0; i < b.arrivals.Len(); i++ {
		bytes += b.arrivals.At(i).size
	}

	s := Stats{
		Packets: b.packets,
		Lost:    b.lost,
		Bitrate: float64(bytes*8) / b.window.Seconds(),
	}
	if b.lastArrival > 0 {
		s.LastArrival = time.Unix(0, b.lastArrival)
	}

	return s
}
