package media

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
)

// RTPProducer implements Producer for the plain ingest.
type RTPProducer struct {
	id        string
	kind      Kind
	params    RtpParameters
	ssrc      uint32
	transport *PlainTransport

	packets    atomic.Uint64
	bytes      atomic.Uint64
	lastPacket atomic.Int64

	endOnce sync.Once

	mu        sync.RWMutex
	consumers map[string]*TrackConsumer
	onEnded   func()
	closed    bool
}

func newRTPProducer(t *PlainTransport, opts ProducerOptions) *RTPProducer {
	return &RTPProducer{
		id:        uuid.NewString(),
		kind:      opts.Kind,
		params:    opts.RtpParameters,
		ssrc:      opts.RtpParameters.Encodings[0].SSRC,
		transport: t,
		consumers: make(map[string]*TrackConsumer),
	}
}

func (p *RTPProducer) ID() string                   { return p.id }
func (p *RTPProducer) Kind() Kind                   { return p.kind }
func (p *RTPProducer) RtpParameters() RtpParameters { return p.params }

// Closed reports whether Close has run.
func (p *RTPProducer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// GetStats implements Producer.
func (p *RTPProducer) GetStats(ctx context.Context) (ProducerStats, error) {
	if err := ctx.Err(); err != nil {
		return ProducerStats{}, err
	}
	if p.Closed() {
		return ProducerStats{}, ErrClosed
	}
	stats := ProducerStats{
		PacketCount: p.packets.Load(),
		ByteCount:   p.bytes.Load(),
	}
	if ns := p.lastPacket.Load(); ns != 0 {
		stats.LastPacketAt = time.Unix(0, ns)
	}
	return stats, nil
}

// OnTrackEnded implements Producer.
func (p *RTPProducer) OnTrackEnded(fn func()) {
	p.mu.Lock()
	p.onEnded = fn
	p.mu.Unlock()
}

// Close unbinds the producer from the ingest and closes its consumers.
func (p *RTPProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := p.consumers
	p.consumers = nil
	p.mu.Unlock()

	p.transport.unbind(p)
	p.transport.router.removeProducer(p.id)
	for _, c := range consumers {
		c.producerClosed()
	}
	return nil
}

func (p *RTPProducer) deliver(pkt *rtp.Packet, size int) {
	if pkt.SSRC != p.ssrc {
		return
	}
	p.packets.Add(1)
	p.bytes.Add(uint64(size))
	p.lastPacket.Store(time.Now().UnixNano())

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, c := range p.consumers {
		c.forward(pkt)
	}
}

func (p *RTPProducer) endTrack() {
	p.endOnce.Do(func() {
		p.mu.RLock()
		fn, closed := p.onEnded, p.closed
		p.mu.RUnlock()
		if fn != nil && !closed {
			go fn()
		}
	})
}

func (p *RTPProducer) addConsumer(c *TrackConsumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.consumers[c.id] = c
	return nil
}

func (p *RTPProducer) removeConsumer(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}
