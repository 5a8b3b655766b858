package media

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// PeerTransport implements WebRTCTransport with one send-only video
// transceiver per viewer. The offer is created with the transport so that
// Connect only has to apply the viewer's answer.
type PeerTransport struct {
	id          string
	router      *WebRTCRouter
	pc          *webrtc.PeerConnection
	track       *webrtc.TrackLocalStaticRTP
	transceiver *webrtc.RTPTransceiver
	params      TransportParams
	log         logging.LeveledLogger

	mu        sync.Mutex
	connected bool
	closed    bool
	consumer  *TrackConsumer
}

func newPeerTransport(ctx context.Context, r *WebRTCRouter, api *webrtc.API, codec webrtc.RTPCodecCapability) (*PeerTransport, error) {
	id := uuid.NewString()

	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &PeerTransport{
		id:     id,
		router: r,
		pc:     pc,
		log:    r.loggers.NewLogger("webrtc-transport"),
	}

	if err := t.setup(ctx, codec); err != nil {
		pc.Close()
		return nil, err
	}
	return t, nil
}

func (t *PeerTransport) setup(ctx context.Context, codec webrtc.RTPCodecCapability) error {
	track, err := webrtc.NewTrackLocalStaticRTP(codec, "video", "relay-"+t.id)
	if err != nil {
		return fmt.Errorf("new track: %w", err)
	}
	tr, err := t.pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("add transceiver: %w", err)
	}
	t.track = track
	t.transceiver = tr

	// Interceptors only see RTCP feedback (NACK, PLI) if someone reads it.
	go func(sender *webrtc.RTPSender) {
		buf := make([]byte, receiveMTU)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}(tr.Sender())

	t.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Debugf("transport %s connection state %s", t.id, s)
	})

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.params = TransportParams{
		ID:   t.id,
		Type: webrtc.SDPTypeOffer.String(),
		SDP:  t.pc.LocalDescription().SDP,
	}
	return nil
}

// ID implements WebRTCTransport.
func (t *PeerTransport) ID() string { return t.id }

// Params implements WebRTCTransport.
func (t *PeerTransport) Params() TransportParams { return t.params }

// Connected reports whether the viewer's answer has been applied.
func (t *PeerTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect applies the viewer's answer.
func (t *PeerTransport) Connect(ctx context.Context, params ConnectParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.connected {
		return ErrAlreadyConnected
	}
	if params.Type != "" && webrtc.NewSDPType(params.Type) != webrtc.SDPTypeAnswer {
		return fmt.Errorf("media: expected answer, got %q", params.Type)
	}

	err := t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  params.SDP,
	})
	if err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	t.connected = true
	return nil
}

// Consume implements WebRTCTransport. The transport carries a single video
// track, so a new consumer replaces the previous one.
func (t *PeerTransport) Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p, ok := t.router.producer(opts.ProducerID)
	if !ok || p.Closed() {
		return nil, ErrProducerNotFound
	}
	if !t.router.CanConsume(opts.ProducerID, opts.RtpCapabilities) {
		return nil, ErrCannotConsume
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	if !t.connected {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	c := &TrackConsumer{
		id:         uuid.NewString(),
		producerID: p.id,
		kind:       p.kind,
		params:     t.sendParameters(),
		transport:  t,
		producer:   p,
		track:      t.track,
	}
	c.paused.Store(opts.Paused)
	prev := t.consumer
	t.consumer = c
	t.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	if err := p.addConsumer(c); err != nil {
		t.removeConsumer(c)
		return nil, ErrProducerNotFound
	}
	return c, nil
}

func (t *PeerTransport) sendParameters() RtpParameters {
	sp := t.transceiver.Sender().GetParameters()

	params := RtpParameters{Mid: t.transceiver.Mid()}
	for _, c := range sp.Codecs {
		codec := RtpCodecParameters{
			MimeType:    c.MimeType,
			PayloadType: uint8(c.PayloadType),
			ClockRate:   c.ClockRate,
			Parameters:  ParseFmtpLine(c.SDPFmtpLine),
		}
		for _, fb := range c.RTCPFeedback {
			codec.RtcpFeedback = append(codec.RtcpFeedback, RtcpFeedback{Type: fb.Type, Parameter: fb.Parameter})
		}
		params.Codecs = append(params.Codecs, codec)
	}
	for _, e := range sp.Encodings {
		params.Encodings = append(params.Encodings, RtpEncodingParameters{SSRC: uint32(e.SSRC)})
	}
	return params
}

func (t *PeerTransport) removeConsumer(c *TrackConsumer) {
	t.mu.Lock()
	if t.consumer == c {
		t.consumer = nil
	}
	t.mu.Unlock()
}

// Close closes the consumer and the peer connection.
func (t *PeerTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	c := t.consumer
	t.consumer = nil
	t.mu.Unlock()

	if c != nil {
		c.Close()
	}
	err := t.pc.Close()
	t.router.untrack(t)
	return err
}
