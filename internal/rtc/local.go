package rtc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

const oggPageDuration = 20 * time.Millisecond

// LocalAudio loops an Ogg/Opus file into a track shared by every connection.
type LocalAudio struct {
	track *webrtc.TrackLocalStaticSample
	file  *os.File

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// OpenLocalAudio fails when the file is not readable Ogg/Opus.
func OpenLocalAudio(path string) (*LocalAudio, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	reader, header, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("read ogg header of %s: %w", path, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: uint16(header.Channels)},
		"audio",
		"livelook",
	)
	if err != nil {
		file.Close()
		return nil, err
	}

	a := &LocalAudio{
		track: track,
		file:  file,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go a.run(reader)

	return a, nil
}

func (a *LocalAudio) Track() webrtc.TrackLocal {
	return a.track
}

func (a *LocalAudio) Close() {
	a.stopOnce.Do(func() {
		close(a.stop)
	})
	<-a.done
	a.file.Close()
}

func (a *LocalAudio) run(reader *oggreader.OggReader) {
	defer close(a.done)

	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
		}

		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if reader, err = a.rewind(); err != nil {
				log.Error().Err(err).Str("service", "rtc").Msg("rewind local audio")
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("service", "rtc").Msg("read local audio")
			return
		}

		sampleCount := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration((sampleCount/48000)*1000) * time.Millisecond

		if err := a.track.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			log.Debug().Err(err).Str("service", "rtc").Msg("write local audio sample")
		}
	}
}

func (a *LocalAudio) rewind() (*oggreader.OggReader, error) {
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	reader, _, err := oggreader.NewWith(a.file)
	return reader, err
}
