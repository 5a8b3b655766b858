package relay

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"camera-relay/internal/media"
	"camera-relay/internal/platform/metrics"
)

// Broadcaster delivers a notification to every connected viewer and returns
// how many were reached.
type Broadcaster interface {
	Broadcast(event string, data any) int
}

// ProducerManagerConfig is the fixed upstream descriptor and lifecycle policy.
type ProducerManagerConfig struct {
	Kind          media.Kind
	RtpParameters media.RtpParameters
	Liveness      LivenessPolicy
	CallTimeout   time.Duration
}

type eventKind int

const (
	evInboundStream eventKind = iota
	evStalled
	evTrackEnded
)

func (k eventKind) String() string {
	switch k {
	case evInboundStream:
		return "inbound_stream"
	case evStalled:
		return "stalled"
	case evTrackEnded:
		return "track_ended"
	}
	return "unknown"
}

type producerEvent struct {
	kind       eventKind
	generation uint64
}

// ProducerManager owns the single upstream producer. All state transitions
// happen on the goroutine running Run; other components send it events and
// read immutable snapshots.
type ProducerManager struct {
	cfg         ProducerManagerConfig
	broadcaster Broadcaster
	log         *slog.Logger
	metrics     *metrics.Metrics

	events   chan producerEvent
	done     chan struct{}
	snapshot atomic.Pointer[ProducerSnapshot]

	// Owned by the Run goroutine.
	state       State
	producer    media.Producer
	generation  uint64
	stopMonitor context.CancelFunc
	monitors    sync.WaitGroup
}

// NewProducerManager returns a manager in StateAwaitingSource. Metrics may be nil.
func NewProducerManager(cfg ProducerManagerConfig, b Broadcaster, log *slog.Logger, m *metrics.Metrics) *ProducerManager {
	cfg.Liveness = cfg.Liveness.withDefaults()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	pm := &ProducerManager{
		cfg:         cfg,
		broadcaster: b,
		log:         log,
		metrics:     m,
		events:      make(chan producerEvent, 16),
		done:        make(chan struct{}),
	}
	pm.publish()
	return pm
}

// Snapshot returns the current lifecycle state.
func (pm *ProducerManager) Snapshot() ProducerSnapshot {
	return *pm.snapshot.Load()
}

// Current returns the active producer, if any.
func (pm *ProducerManager) Current() (media.Producer, bool) {
	s := pm.snapshot.Load()
	return s.Producer, s.Producer != nil
}

// InboundStream signals that the ingest sees RTP while no producer is bound.
func (pm *ProducerManager) InboundStream() {
	pm.send(producerEvent{kind: evInboundStream})
}

func (pm *ProducerManager) send(ev producerEvent) {
	select {
	case pm.events <- ev:
	case <-pm.done:
	}
}

// Run wires the ingest's inbound-stream signal and processes lifecycle events
// until ctx is done. An active producer is closed on the way out.
func (pm *ProducerManager) Run(ctx context.Context, ingest media.Ingest) {
	ingest.OnTuple(func(t media.Tuple) {
		pm.log.Debug("inbound stream detected", slog.String("remote", t.RemoteAddr.String()))
		pm.InboundStream()
	})

	defer func() {
		if pm.state == StateActive {
			pm.deactivate("shutdown")
		}
		close(pm.done)
		pm.monitors.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-pm.events:
			pm.handle(ctx, ingest, ev)
		}
	}
}

func (pm *ProducerManager) handle(ctx context.Context, ingest media.Ingest, ev producerEvent) {
	switch ev.kind {
	case evInboundStream:
		if pm.state != StateAwaitingSource {
			pm.log.Debug("inbound stream ignored, producer already active",
				slog.Uint64("generation", pm.generation))
			return
		}
		pm.activate(ctx, ingest)

	case evStalled, evTrackEnded:
		if pm.state != StateActive || ev.generation != pm.generation {
			pm.log.Debug("stale lifecycle event ignored",
				slog.String("event", ev.kind.String()),
				slog.Uint64("event_generation", ev.generation),
				slog.Uint64("generation", pm.generation))
			return
		}
		if ev.kind == evStalled && pm.metrics != nil {
			pm.metrics.IncProducerStalls()
		}
		pm.deactivate(ev.kind.String())
	}
}

func (pm *ProducerManager) activate(ctx context.Context, ingest media.Ingest) {
	cctx, cancel := context.WithTimeout(ctx, pm.cfg.CallTimeout)
	defer cancel()

	p, err := ingest.Produce(cctx, media.ProducerOptions{
		Kind:          pm.cfg.Kind,
		RtpParameters: pm.cfg.RtpParameters,
	})
	if err != nil {
		pm.log.Error("failed to create producer", slog.String("error", err.Error()))
		return
	}

	pm.generation++
	gen := pm.generation
	pm.state = StateActive
	pm.producer = p
	pm.publish()

	p.OnTrackEnded(func() {
		pm.send(producerEvent{kind: evTrackEnded, generation: gen})
	})
	pm.startMonitor(ctx, p, gen)

	pm.log.Info("producer active",
		slog.String("producer_id", p.ID()),
		slog.Uint64("generation", gen))
	if pm.metrics != nil {
		pm.metrics.IncProducersCreated()
		pm.metrics.SetProducerActive(true)
	}
}

// startMonitor cancels any previous monitor before starting one for p.
func (pm *ProducerManager) startMonitor(ctx context.Context, p media.Producer, gen uint64) {
	pm.cancelMonitor()

	mctx, cancel := context.WithCancel(ctx)
	pm.stopMonitor = cancel
	mon := NewLivenessMonitor(p, pm.cfg.Liveness, pm.log.With(slog.String("producer_id", p.ID())))

	pm.monitors.Add(1)
	go func() {
		defer pm.monitors.Done()
		mon.Run(mctx, func() {
			pm.send(producerEvent{kind: evStalled, generation: gen})
		})
	}()
}

func (pm *ProducerManager) cancelMonitor() {
	if pm.stopMonitor != nil {
		pm.stopMonitor()
		pm.stopMonitor = nil
	}
}

// deactivate runs Active -> Closed -> AwaitingSource. Readers stop seeing the
// producer before it is closed.
func (pm *ProducerManager) deactivate(reason string) {
	p := pm.producer

	pm.state = StateClosed
	pm.producer = nil
	pm.publish()

	pm.cancelMonitor()
	if err := p.Close(); err != nil {
		pm.log.Warn("closing producer failed",
			slog.String("producer_id", p.ID()),
			slog.String("error", err.Error()))
	}

	pm.state = StateAwaitingSource
	pm.publish()

	notified := pm.broadcaster.Broadcast(EventMediaStopped, nil)
	pm.log.Info("producer closed",
		slog.String("producer_id", p.ID()),
		slog.String("reason", reason),
		slog.Int("viewers_notified", notified))
	if pm.metrics != nil {
		pm.metrics.SetProducerActive(false)
		pm.metrics.IncMediaStoppedBroadcast()
	}
}

func (pm *ProducerManager) publish() {
	pm.snapshot.Store(&ProducerSnapshot{
		State:      pm.state,
		Producer:   pm.producer,
		Generation: pm.generation,
	})
}
