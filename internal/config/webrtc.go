package config

import (
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
)

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
	EnabledCodecs []CodecSpec
	Audio         DirectionConfig
}

type DirectionConfig struct {
	RTPHeaderExtensions []string
	RTCPFeedback        []webrtc.RTCPFeedback
}

func NewWebRTCConfig(config *Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	if len(config.RTC.STUNServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: config.RTC.STUNServers}}
	}

	s := webrtc.SettingEngine{}

	// Use only UDP
	networkTypes := []webrtc.NetworkType{
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	}
	if err := s.SetEphemeralUDPPortRange(uint16(config.RTC.ICEPortRangeStart), uint16(config.RTC.ICEPortRangeEnd)); err != nil {
		return nil, err
	}
	s.SetNetworkTypes(networkTypes)

	audio := DirectionConfig{
		RTPHeaderExtensions: []string{
			sdp.SDESMidURI,
			sdp.AudioLevelURI,
		},
		RTCPFeedback: []webrtc.RTCPFeedback{
			{Type: webrtc.TypeRTCPFBTransportCC},
		},
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
		EnabledCodecs: config.RTC.EnabledCodecs,
		Audio:         audio,
	}, nil
}
