package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"camera-relay/internal/media"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var testCaps = media.RtpCapabilities{Codecs: []media.RtpCodecCapability{{
	Kind:                 media.KindVideo,
	MimeType:             "video/H264",
	PreferredPayloadType: 96,
	ClockRate:            90000,
	Parameters:           map[string]string{"packetization-mode": "1"},
}}}

type fakeProducer struct {
	id string

	mu       sync.Mutex
	packets  uint64
	statsErr error
	onEnded  func()

	closed     atomic.Bool
	closeCalls atomic.Int32
}

func (p *fakeProducer) ID() string                         { return p.id }
func (p *fakeProducer) Kind() media.Kind                   { return media.KindVideo }
func (p *fakeProducer) RtpParameters() media.RtpParameters { return media.RtpParameters{} }
func (p *fakeProducer) Closed() bool                       { return p.closed.Load() }

func (p *fakeProducer) GetStats(ctx context.Context) (media.ProducerStats, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statsErr != nil {
		return media.ProducerStats{}, p.statsErr
	}
	return media.ProducerStats{PacketCount: p.packets}, nil
}

func (p *fakeProducer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	p.onEnded = fn
	p.mu.Unlock()
}

func (p *fakeProducer) Close() error {
	p.closeCalls.Add(1)
	p.closed.Store(true)
	return nil
}

func (p *fakeProducer) addPackets(n uint64) {
	p.mu.Lock()
	p.packets += n
	p.mu.Unlock()
}

func (p *fakeProducer) setStatsErr(err error) {
	p.mu.Lock()
	p.statsErr = err
	p.mu.Unlock()
}

func (p *fakeProducer) endTrack() {
	p.mu.Lock()
	fn := p.onEnded
	p.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// fakeIngest hands out fakeProducers; the first failNext Produce calls fail.
type fakeIngest struct {
	mu       sync.Mutex
	onTuple  func(media.Tuple)
	produced []*fakeProducer
	failNext int
	seq      int
}

func (i *fakeIngest) OnTuple(fn func(media.Tuple)) {
	i.mu.Lock()
	i.onTuple = fn
	i.mu.Unlock()
}

func (i *fakeIngest) Produce(ctx context.Context, opts media.ProducerOptions) (media.Producer, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.failNext > 0 {
		i.failNext--
		return nil, errors.New("produce failed")
	}
	i.seq++
	p := &fakeProducer{id: fmt.Sprintf("producer-%d", i.seq)}
	i.produced = append(i.produced, p)
	return p, nil
}

func (i *fakeIngest) tuple() {
	i.mu.Lock()
	fn := i.onTuple
	i.mu.Unlock()
	if fn != nil {
		fn(media.Tuple{})
	}
}

func (i *fakeIngest) producers() []*fakeProducer {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]*fakeProducer(nil), i.produced...)
}

type fakeRouter struct {
	mu         sync.Mutex
	canConsume bool
	createErr  error
	transports []*fakeTransport
	seq        int
}

func (r *fakeRouter) RtpCapabilities() media.RtpCapabilities { return testCaps }

func (r *fakeRouter) CanConsume(producerID string, caps media.RtpCapabilities) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canConsume && len(caps.Codecs) > 0
}

func (r *fakeRouter) CreateWebRTCTransport(ctx context.Context, opts media.TransportOptions) (media.WebRTCTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.seq++
	t := &fakeTransport{id: fmt.Sprintf("transport-%d", r.seq)}
	r.transports = append(r.transports, t)
	return t, nil
}

type fakeTransport struct {
	id string

	mu         sync.Mutex
	connected  bool
	connectErr error
	consumeErr error
	consumers  []*fakeConsumer
	seq        int

	closed atomic.Bool
}

func (t *fakeTransport) ID() string { return t.id }

func (t *fakeTransport) Params() media.TransportParams {
	return media.TransportParams{ID: t.id, Type: "offer", SDP: "v=0"}
}

func (t *fakeTransport) Connect(ctx context.Context, params media.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Consume(ctx context.Context, opts media.ConsumeOptions) (media.Consumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.consumeErr != nil {
		return nil, t.consumeErr
	}
	t.seq++
	c := &fakeConsumer{id: fmt.Sprintf("%s-consumer-%d", t.id, t.seq), producerID: opts.ProducerID}
	c.paused.Store(opts.Paused)
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *fakeTransport) Close() error {
	t.closed.Store(true)
	return nil
}

func (t *fakeTransport) lastConsumer() *fakeConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.consumers) == 0 {
		return nil
	}
	return t.consumers[len(t.consumers)-1]
}

type fakeConsumer struct {
	id         string
	producerID string

	paused      atomic.Bool
	closed      atomic.Bool
	resumeCalls atomic.Int32
}

func (c *fakeConsumer) ID() string                         { return c.id }
func (c *fakeConsumer) ProducerID() string                 { return c.producerID }
func (c *fakeConsumer) Kind() media.Kind                   { return media.KindVideo }
func (c *fakeConsumer) Type() string                       { return media.ConsumerTypeSimple }
func (c *fakeConsumer) RtpParameters() media.RtpParameters { return media.RtpParameters{} }
func (c *fakeConsumer) Paused() bool                       { return c.paused.Load() }

func (c *fakeConsumer) Resume(ctx context.Context) error {
	if c.closed.Load() {
		return media.ErrClosed
	}
	c.resumeCalls.Add(1)
	c.paused.Store(false)
	return nil
}

func (c *fakeConsumer) Close() error {
	c.closed.Store(true)
	return nil
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(event string, data any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return 1
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == event {
			n++
		}
	}
	return n
}

// staticProducers is a ProducerSource whose producer the test swaps by hand.
type staticProducers struct {
	mu sync.Mutex
	p  media.Producer
}

func (s *staticProducers) set(p media.Producer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

func (s *staticProducers) Current() (media.Producer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p, s.p != nil
}

func (s *staticProducers) Snapshot() ProducerSnapshot {
	p, ok := s.Current()
	if !ok {
		return ProducerSnapshot{State: StateAwaitingSource}
	}
	return ProducerSnapshot{State: StateActive, Producer: p, Generation: 1}
}

// blockingRouter holds CreateWebRTCTransport until the call's context ends
// or release is closed.
type blockingRouter struct {
	ignoreCtx bool
	entered   chan struct{}
	release   chan struct{}
	canceled  atomic.Bool
	once      sync.Once
}

func newBlockingRouter() *blockingRouter {
	return &blockingRouter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRouter) RtpCapabilities() media.RtpCapabilities { return testCaps }

func (r *blockingRouter) CanConsume(string, media.RtpCapabilities) bool { return true }

func (r *blockingRouter) CreateWebRTCTransport(ctx context.Context, _ media.TransportOptions) (media.WebRTCTransport, error) {
	r.once.Do(func() { close(r.entered) })
	if r.ignoreCtx {
		<-r.release
		return nil, errors.New("released")
	}
	select {
	case <-ctx.Done():
		r.canceled.Store(true)
		return nil, ctx.Err()
	case <-r.release:
		return nil, errors.New("released")
	}
}
