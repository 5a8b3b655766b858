package media

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// videoFeedback is advertised for every video codec; the default interceptors
// registered on each API implement it.
var videoFeedback = []RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
}

// WebRTCRouter implements Router with pion/webrtc.
type WebRTCRouter struct {
	id      string
	codecs  []RtpCodecCapability
	loggers logging.LoggerFactory
	log     logging.LeveledLogger

	mu         sync.Mutex
	apis       map[TransportOptions]*webrtc.API
	producers  map[string]*RTPProducer
	transports []closer
	closed     bool
}

type closer interface {
	Close() error
}

// ID returns the router identifier.
func (r *WebRTCRouter) ID() string { return r.id }

// RtpCapabilities implements Router.
func (r *WebRTCRouter) RtpCapabilities() RtpCapabilities {
	caps := RtpCapabilities{Codecs: make([]RtpCodecCapability, 0, len(r.codecs))}
	for _, c := range r.codecs {
		c.Parameters = cloneParams(c.Parameters)
		if c.Kind == KindVideo {
			c.RtcpFeedback = append([]RtcpFeedback(nil), videoFeedback...)
		}
		caps.Codecs = append(caps.Codecs, c)
	}
	return caps
}

// CanConsume implements Router. Every codec the producer sends must appear in
// caps with the same MIME type and clock rate, and for H264 the same
// packetization mode.
func (r *WebRTCRouter) CanConsume(producerID string, caps RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	if !ok {
		return false
	}
	for _, pc := range p.RtpParameters().Codecs {
		if !capsCover(caps, pc) {
			return false
		}
	}
	return true
}

func capsCover(caps RtpCapabilities, pc RtpCodecParameters) bool {
	for _, c := range caps.Codecs {
		if !strings.EqualFold(c.MimeType, pc.MimeType) || c.ClockRate != pc.ClockRate {
			continue
		}
		if strings.EqualFold(pc.MimeType, webrtc.MimeTypeH264) &&
			packetizationMode(c.Parameters) != packetizationMode(pc.Parameters) {
			continue
		}
		return true
	}
	return false
}

func packetizationMode(params map[string]string) string {
	if m, ok := params["packetization-mode"]; ok {
		return m
	}
	return "0"
}

// CreateWebRTCTransport implements Router.
func (r *WebRTCRouter) CreateWebRTCTransport(ctx context.Context, opts TransportOptions) (WebRTCTransport, error) {
	api, err := r.api(opts)
	if err != nil {
		return nil, err
	}
	codec, ok := r.codecFor(KindVideo)
	if !ok {
		return nil, ErrUnsupportedKind
	}
	t, err := newPeerTransport(ctx, r, api, toPionCapability(codec))
	if err != nil {
		return nil, err
	}
	if err := r.track(t); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// PlainTransportOptions configures the upstream ingest.
type PlainTransportOptions struct {
	ListenIP string
	RTPPort  int
	// RTCPPort is only used with rtcp-mux off. Zero picks an ephemeral port.
	RTCPPort int
}

// CreatePlainTransport opens the RTP and RTCP sockets for the upstream source.
func (r *WebRTCRouter) CreatePlainTransport(opts PlainTransportOptions) (*PlainTransport, error) {
	t, err := newPlainTransport(r, opts)
	if err != nil {
		return nil, err
	}
	if err := r.track(t); err != nil {
		t.Close()
		return nil, err
	}
	t.start()
	return t, nil
}

// Close closes every transport created by the router.
func (r *WebRTCRouter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	transports := r.transports
	r.transports = nil
	r.mu.Unlock()

	for _, t := range transports {
		if err := t.Close(); err != nil {
			r.log.Warnf("closing transport: %v", err)
		}
	}
}

func (r *WebRTCRouter) track(t closer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.transports = append(r.transports, t)
	return nil
}

func (r *WebRTCRouter) untrack(t closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, x := range r.transports {
		if x == t {
			r.transports = append(r.transports[:i], r.transports[i+1:]...)
			return
		}
	}
}

func (r *WebRTCRouter) addProducer(p *RTPProducer) {
	r.mu.Lock()
	r.producers[p.id] = p
	r.mu.Unlock()
}

func (r *WebRTCRouter) removeProducer(id string) {
	r.mu.Lock()
	delete(r.producers, id)
	r.mu.Unlock()
}

func (r *WebRTCRouter) producer(id string) (*RTPProducer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *WebRTCRouter) codecFor(kind Kind) (RtpCodecCapability, bool) {
	for _, c := range r.codecs {
		if c.Kind == kind {
			return c, true
		}
	}
	return RtpCodecCapability{}, false
}

// api returns the pion API for opts, building it on first use. Each API owns
// its MediaEngine, interceptor registry and SettingEngine.
func (r *WebRTCRouter) api(opts TransportOptions) (*webrtc.API, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if api, ok := r.apis[opts]; ok {
		return api, nil
	}

	m := &webrtc.MediaEngine{}
	for _, c := range r.codecs {
		typ, err := codecType(c.Kind)
		if err != nil {
			return nil, err
		}
		params := webrtc.RTPCodecParameters{
			RTPCodecCapability: toPionCapability(c),
			PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
		}
		if err := m.RegisterCodec(params, typ); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: r.loggers}
	if opts.AnnouncedIP != "" {
		s.SetNAT1To1IPs([]string{opts.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}
	if ip := net.ParseIP(opts.ListenIP); ip != nil && !ip.IsUnspecified() {
		s.SetIPFilter(func(candidate net.IP) bool { return candidate.Equal(ip) })
	}
	s.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6})

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(s),
	)
	r.apis[opts] = api
	return api, nil
}

func codecType(kind Kind) (webrtc.RTPCodecType, error) {
	switch kind {
	case KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	case KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
}

func toPionCapability(c RtpCodecCapability) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:    c.MimeType,
		ClockRate:   c.ClockRate,
		SDPFmtpLine: FmtpLine(c.Parameters),
	}
}

// FmtpLine renders codec parameters as an SDP fmtp line with sorted keys.
func FmtpLine(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, ";")
}

// ParseFmtpLine is the inverse of FmtpLine. Malformed entries are skipped.
func ParseFmtpLine(line string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func cloneParams(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
