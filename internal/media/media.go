// Package media is the boundary to the media engine. It defines the narrow
// capability, transport, producer and consumer contracts the relay drives and
// implements them on top of pion/webrtc: a plain RTP ingest transport for the
// upstream camera and one WebRTC transport per viewer.
package media

import (
	"context"
	"errors"
	"net"
	"time"
)

// Kind is the media kind of a producer or consumer.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ConsumerTypeSimple is the only consumer type produced by this engine: one
// encoding forwarded as is.
const ConsumerTypeSimple = "simple"

var (
	// ErrClosed is returned by operations on a closed transport, producer or consumer.
	ErrClosed = errors.New("media: closed")

	// ErrNotConnected is returned when consuming on a transport whose remote
	// parameters were never applied.
	ErrNotConnected = errors.New("media: transport not connected")

	// ErrAlreadyConnected is returned by a second Connect on the same transport.
	ErrAlreadyConnected = errors.New("media: transport already connected")

	// ErrProducerNotFound is returned when consuming a producer the router does not know.
	ErrProducerNotFound = errors.New("media: producer not found")

	// ErrCannotConsume is returned when the consuming side's capabilities do not
	// cover the producer's codec.
	ErrCannotConsume = errors.New("media: cannot consume with given capabilities")

	// ErrProducerExists is returned by Produce while the ingest already feeds an open producer.
	ErrProducerExists = errors.New("media: ingest already has an open producer")

	// ErrUnsupportedKind is returned for producer kinds the router has no codec for.
	ErrUnsupportedKind = errors.New("media: unsupported kind")

	// ErrNoEncodings is returned when producer parameters carry no SSRC to match on.
	ErrNoEncodings = errors.New("media: rtp parameters carry no encodings")
)

// RtpCodecCapability is one codec the router supports.
type RtpCodecCapability struct {
	Kind                 Kind              `json:"kind" yaml:"kind"`
	MimeType             string            `json:"mimeType" yaml:"mime_type"`
	PreferredPayloadType uint8             `json:"preferredPayloadType" yaml:"preferred_payload_type"`
	ClockRate            uint32            `json:"clockRate" yaml:"clock_rate"`
	Parameters           map[string]string `json:"parameters,omitempty" yaml:"parameters"`
	RtcpFeedback         []RtcpFeedback    `json:"rtcpFeedback,omitempty" yaml:"-"`
}

// RtcpFeedback is a supported RTCP feedback mechanism.
type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

// RtpCapabilities is the capability descriptor exchanged during negotiation.
type RtpCapabilities struct {
	Codecs []RtpCodecCapability `json:"codecs"`
}

// RtpCodecParameters is a codec as used by a concrete producer or consumer.
type RtpCodecParameters struct {
	MimeType     string            `json:"mimeType"`
	PayloadType  uint8             `json:"payloadType"`
	ClockRate    uint32            `json:"clockRate"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback    `json:"rtcpFeedback,omitempty"`
}

// RtpEncodingParameters identifies one RTP stream.
type RtpEncodingParameters struct {
	SSRC uint32 `json:"ssrc"`
}

// RtpParameters describes what a producer sends or a consumer receives.
type RtpParameters struct {
	Mid       string                  `json:"mid,omitempty"`
	Codecs    []RtpCodecParameters    `json:"codecs"`
	Encodings []RtpEncodingParameters `json:"encodings"`
}

// TransportOptions bounds a viewer transport to the relay's listen address.
type TransportOptions struct {
	ListenIP    string
	AnnouncedIP string
}

// TransportParams is handed to the viewer after transport creation. The SDP
// offer carries the ICE credentials, candidates and DTLS fingerprint.
type TransportParams struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ConnectParams is the viewer's side of the negotiation (its SDP answer).
type ConnectParams struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ProducerOptions configures Produce on the ingest transport.
type ProducerOptions struct {
	Kind          Kind
	RtpParameters RtpParameters
}

// ConsumeOptions configures Consume on a viewer transport.
type ConsumeOptions struct {
	ProducerID      string
	RtpCapabilities RtpCapabilities
	Paused          bool
}

// ProducerStats is a point-in-time sample of what the producer has received.
type ProducerStats struct {
	PacketCount  uint64
	ByteCount    uint64
	LastPacketAt time.Time
}

// Tuple is the ingest's 5-tuple as learned from the first inbound packet.
type Tuple struct {
	LocalAddr  *net.UDPAddr
	RemoteAddr *net.UDPAddr
}

// Router is the capability surface and viewer-transport factory.
type Router interface {
	RtpCapabilities() RtpCapabilities
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateWebRTCTransport(ctx context.Context, opts TransportOptions) (WebRTCTransport, error)
}

// Ingest is the upstream-facing transport the camera streams into.
type Ingest interface {
	OnTuple(fn func(Tuple))
	Produce(ctx context.Context, opts ProducerOptions) (Producer, error)
}

// Producer is the single upstream media source accepted by the engine.
type Producer interface {
	ID() string
	Kind() Kind
	RtpParameters() RtpParameters
	Closed() bool
	GetStats(ctx context.Context) (ProducerStats, error)
	// OnTrackEnded registers fn to run once when the source explicitly ends the stream.
	OnTrackEnded(fn func())
	Close() error
}

// WebRTCTransport terminates one network path to one viewer.
type WebRTCTransport interface {
	ID() string
	Params() TransportParams
	Connect(ctx context.Context, params ConnectParams) error
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	Close() error
}

// Consumer is one viewer's subscription to a producer via one transport.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	Type() string
	RtpParameters() RtpParameters
	Paused() bool
	// Resume starts forwarding. Resuming a running consumer is a no-op.
	Resume(ctx context.Context) error
	Close() error
}
