package media

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// TrackConsumer implements Consumer by writing the producer's packets to the
// viewer transport's local track while not paused.
type TrackConsumer struct {
	id         string
	producerID string
	kind       Kind
	params     RtpParameters
	transport  *PeerTransport
	producer   *RTPProducer
	track      *webrtc.TrackLocalStaticRTP

	paused    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *TrackConsumer) ID() string                   { return c.id }
func (c *TrackConsumer) ProducerID() string           { return c.producerID }
func (c *TrackConsumer) Kind() Kind                   { return c.kind }
func (c *TrackConsumer) Type() string                 { return ConsumerTypeSimple }
func (c *TrackConsumer) RtpParameters() RtpParameters { return c.params }
func (c *TrackConsumer) Paused() bool                 { return c.paused.Load() }

// Resume implements Consumer.
func (c *TrackConsumer) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.paused.Store(false)
	return nil
}

// Close detaches the consumer from its producer and transport.
func (c *TrackConsumer) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.producer.removeConsumer(c.id)
		c.transport.removeConsumer(c)
	})
	return nil
}

func (c *TrackConsumer) producerClosed() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.transport.removeConsumer(c)
	})
}

func (c *TrackConsumer) forward(pkt *rtp.Packet) {
	if c.paused.Load() || c.closed.Load() {
		return
	}
	// Errors here mean the viewer went away; its transport cleanup follows.
	_ = c.track.WriteRTP(pkt)
}
