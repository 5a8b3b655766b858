package relay

import (
	"context"
	"log/slog"
	"time"

	"camera-relay/internal/media"
	"camera-relay/internal/platform/metrics"
)

// DefaultCallTimeout bounds every media-engine call made on behalf of a viewer.
const DefaultCallTimeout = 10 * time.Second

// ProducerSource exposes the producer lifecycle to viewer sessions.
type ProducerSource interface {
	Current() (media.Producer, bool)
	Snapshot() ProducerSnapshot
}

// ServiceConfig configures viewer-facing transports and engine calls.
type ServiceConfig struct {
	Transport   media.TransportOptions
	CallTimeout time.Duration
}

// Service holds what viewer sessions share: the transport registry, the
// capability negotiator, the producer lifecycle and the viewer hub.
type Service struct {
	registry   Registry
	negotiator *Negotiator
	producers  ProducerSource
	hub        *Hub
	cfg        ServiceConfig
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewService returns a Service. If cfg.CallTimeout <= 0, DefaultCallTimeout
// is used. Metrics may be nil.
func NewService(registry Registry, negotiator *Negotiator, producers ProducerSource, hub *Hub, cfg ServiceConfig, log *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	return &Service{
		registry:   registry,
		negotiator: negotiator,
		producers:  producers,
		hub:        hub,
		cfg:        cfg,
		log:        log,
		metrics:    m,
	}
}

// NewSession starts the per-viewer state for id.
func (s *Service) NewSession(id ViewerID) *Session {
	return &Session{
		id:        id,
		svc:       s,
		log:       s.log.With(slog.String("viewer_id", string(id))),
		consumers: make(map[string]media.Consumer),
	}
}

// Hub returns the viewer hub.
func (s *Service) Hub() *Hub { return s.hub }

// TransportCount returns the registry size. Used for metrics.
func (s *Service) TransportCount() int { return s.registry.Count() }

// Status summarizes the relay.
func (s *Service) Status() Status {
	snap := s.producers.Snapshot()
	st := Status{
		ProducerState:     snap.State.String(),
		ExpectingProducer: snap.ExpectingProducer(),
		Viewers:           s.hub.Count(),
		Transports:        s.registry.Count(),
		Ready:             s.negotiator.Ready(),
	}
	if snap.Producer != nil {
		st.ProducerID = snap.Producer.ID()
	}
	return st
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}
