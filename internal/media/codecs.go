package media

import "github.com/pion/webrtc/v4"

// H264Codec is the router codec for the camera's baseline H264 stream.
func H264Codec(payloadType uint8, clockRate uint32, profileLevelID string) RtpCodecCapability {
	return RtpCodecCapability{
		Kind:                 KindVideo,
		MimeType:             webrtc.MimeTypeH264,
		PreferredPayloadType: payloadType,
		ClockRate:            clockRate,
		Parameters: map[string]string{
			"packetization-mode": "1",
			"profile-level-id":   profileLevelID,
		},
	}
}

// ProducerParameters builds the fixed rtp parameters the upstream sends with:
// the router codec at its preferred payload type and a single SSRC.
func ProducerParameters(codec RtpCodecCapability, ssrc uint32) RtpParameters {
	return RtpParameters{
		Codecs: []RtpCodecParameters{{
			MimeType:    codec.MimeType,
			PayloadType: codec.PreferredPayloadType,
			ClockRate:   codec.ClockRate,
			Parameters:  cloneParams(codec.Parameters),
		}},
		Encodings: []RtpEncodingParameters{{SSRC: ssrc}},
	}
}
