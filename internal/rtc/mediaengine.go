package rtc

import (
	"errors"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-party/internal/config"
)

const opusPayloadType = 111

var errNoCodecs = errors.New("no enabled audio codec")

var opusCodec = webrtc.RTPCodecCapability{
	MimeType:    webrtc.MimeTypeOpus,
	ClockRate:   48000,
	Channels:    2,
	SDPFmtpLine: "minptime=10;useinbandfec=1",
}

// createMediaEngine returns a MediaEngine with its own interceptor registry.
// Both must be created per peer connection.
func createMediaEngine(enabledCodecs []config.CodecSpec, audio config.DirectionConfig) (*webrtc.MediaEngine, *interceptor.Registry, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine, enabledCodecs, audio.RTCPFeedback); err != nil {
		return nil, nil, err
	}

	if err := registerHeaderExtensions(mediaEngine, audio.RTPHeaderExtensions); err != nil {
		return nil, nil, err
	}

	// NACKs, RTCP reports and TWCC
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, i); err != nil {
		return nil, nil, err
	}

	return mediaEngine, i, nil
}

func registerCodecs(mediaEngine *webrtc.MediaEngine, enabledCodecs []config.CodecSpec, rtcpFeedback []webrtc.RTCPFeedback) error {
	codec := opusCodec
	codec.RTCPFeedback = rtcpFeedback

	if !isCodecEnabled(enabledCodecs, codec) {
		return errNoCodecs
	}

	return mediaEngine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: codec,
		PayloadType:        opusPayloadType,
	}, webrtc.RTPCodecTypeAudio)
}

func registerHeaderExtensions(me *webrtc.MediaEngine, extensions []string) error {
	for _, extension := range extensions {
		if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: extension}, webrtc.RTPCodecTypeAudio); err != nil {
			return err
		}
	}

	return nil
}

func isCodecEnabled(codecs []config.CodecSpec, cap webrtc.RTPCodecCapability) bool {
	for _, codec := range codecs {
		if !strings.EqualFold(codec.Mime, cap.MimeType) {
			continue
		}
		if codec.FmtpLine == "" || strings.EqualFold(codec.FmtpLine, cap.SDPFmtpLine) {
			return true
		}
	}
	return false
}
