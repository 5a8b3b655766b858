package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"camera-relay/internal/media"
)

var (
	// ErrInvalidTransport means the transport id is unknown to this viewer.
	ErrInvalidTransport = errors.New("invalid transport")

	// ErrNoProducer means no live upstream producer exists.
	ErrNoProducer = errors.New("no producer")

	// ErrTransportNotConnected means consume was requested before connect succeeded.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrCannotConsume means the viewer's capabilities do not cover the producer.
	ErrCannotConsume = errors.New("cannot consume")

	// ErrEngineCall wraps failures returned by the media engine.
	ErrEngineCall = errors.New("media engine call failed")

	// ErrSessionClosed is returned once the viewer has disconnected.
	ErrSessionClosed = errors.New("session closed")
)

// Session is the per-viewer state: the transports it registered, its
// consumers and the paused consumer awaiting acknowledgment. Requests on one
// session are expected to arrive sequentially; Close may race with them.
type Session struct {
	id  ViewerID
	svc *Service
	log *slog.Logger

	mu        sync.Mutex
	consumers map[string]media.Consumer
	pending   media.Consumer
	closed    bool
}

// ID returns the viewer id.
func (s *Session) ID() ViewerID { return s.id }

// GetCapabilities returns the router capabilities or ErrNotReady.
func (s *Session) GetCapabilities() (media.RtpCapabilities, error) {
	return s.svc.negotiator.Capabilities()
}

// CreateTransport creates a viewer transport bound to the configured listen
// address and registers it under this session.
func (s *Session) CreateTransport(ctx context.Context) (media.TransportParams, error) {
	router, err := s.svc.negotiator.Router()
	if err != nil {
		return media.TransportParams{}, err
	}

	cctx, cancel := s.svc.callContext(ctx)
	defer cancel()

	t, err := router.CreateWebRTCTransport(cctx, s.svc.cfg.Transport)
	if err != nil {
		return media.TransportParams{}, fmt.Errorf("%w: create transport: %w", ErrEngineCall, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		closeQuietly(s.log, "transport", t)
		return media.TransportParams{}, ErrSessionClosed
	}

	entry := TransportEntry{ID: TransportID(t.ID()), Owner: s.id, Transport: t}
	if err := s.svc.registry.Register(entry); err != nil {
		// Engine ids are unique; a collision means the registry is corrupt.
		s.log.Error("transport registry invariant violated",
			slog.String("transport_id", t.ID()),
			slog.String("error", err.Error()))
		closeQuietly(s.log, "transport", t)
		return media.TransportParams{}, fmt.Errorf("register transport %s: %w", t.ID(), err)
	}

	s.log.Info("transport created", slog.String("transport_id", t.ID()))
	return t.Params(), nil
}

// ConnectTransport applies the viewer's negotiated parameters.
func (s *Session) ConnectTransport(ctx context.Context, id TransportID, params media.ConnectParams) error {
	entry, err := s.lookup(id)
	if err != nil {
		return err
	}

	cctx, cancel := s.svc.callContext(ctx)
	defer cancel()

	if err := entry.Transport.Connect(cctx, params); err != nil {
		return fmt.Errorf("%w: connect transport %s: %w", ErrEngineCall, id, err)
	}
	if err := s.svc.registry.MarkConnected(id); err != nil {
		// Removed by a concurrent disconnect.
		return ErrInvalidTransport
	}

	s.log.Info("transport connected", slog.String("transport_id", string(id)))
	return nil
}

// Consume creates a paused consumer of the current producer on a connected
// transport. The consumer becomes the session's pending consumer. A previous
// pending consumer that was never acknowledged is closed before anything
// else, so a failed consume leaves nothing to resume.
func (s *Session) Consume(ctx context.Context, req ConsumeRequest) (ConsumeResponse, error) {
	if stale := s.dropPending(); stale != nil {
		s.log.Debug("unacknowledged consumer replaced", slog.String("consumer_id", stale.ID()))
		closeQuietly(s.log, "consumer", stale)
	}

	producer, ok := s.svc.producers.Current()
	if !ok {
		return ConsumeResponse{}, ErrNoProducer
	}

	entry, err := s.lookup(req.TransportID)
	if err != nil {
		return ConsumeResponse{}, err
	}
	if !entry.Connected {
		return ConsumeResponse{}, ErrTransportNotConnected
	}

	router, err := s.svc.negotiator.Router()
	if err != nil {
		return ConsumeResponse{}, err
	}
	if !router.CanConsume(producer.ID(), req.RtpCapabilities) {
		return ConsumeResponse{}, ErrCannotConsume
	}

	cctx, cancel := s.svc.callContext(ctx)
	defer cancel()

	c, err := entry.Transport.Consume(cctx, media.ConsumeOptions{
		ProducerID:      producer.ID(),
		RtpCapabilities: req.RtpCapabilities,
		Paused:          true,
	})
	if err != nil {
		switch {
		case errors.Is(err, media.ErrProducerNotFound), errors.Is(err, media.ErrClosed):
			// The producer was torn down between the snapshot and the call.
			return ConsumeResponse{}, ErrNoProducer
		case errors.Is(err, media.ErrNotConnected):
			return ConsumeResponse{}, ErrTransportNotConnected
		case errors.Is(err, media.ErrCannotConsume):
			return ConsumeResponse{}, ErrCannotConsume
		}
		return ConsumeResponse{}, fmt.Errorf("%w: consume on %s: %w", ErrEngineCall, req.TransportID, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		closeQuietly(s.log, "consumer", c)
		return ConsumeResponse{}, ErrSessionClosed
	}
	s.pending = c
	s.consumers[c.ID()] = c
	orphans := s.pruneLocked(producer.ID())
	s.mu.Unlock()

	for _, o := range orphans {
		closeQuietly(s.log, "consumer", o)
	}

	s.log.Info("consumer created",
		slog.String("consumer_id", c.ID()),
		slog.String("producer_id", producer.ID()),
		slog.String("transport_id", string(req.TransportID)))
	if s.svc.metrics != nil {
		s.svc.metrics.IncConsumersCreated()
	}

	return ConsumeResponse{
		ID:            c.ID(),
		Kind:          c.Kind(),
		RtpParameters: c.RtpParameters(),
		Type:          c.Type(),
		ProducerID:    c.ProducerID(),
	}, nil
}

// ConsumerReady resumes the pending consumer. It reports false when there was
// nothing to resume.
func (s *Session) ConsumerReady(ctx context.Context) (bool, error) {
	s.mu.Lock()
	c := s.pending
	s.pending = nil
	s.mu.Unlock()

	if c == nil {
		return false, nil
	}

	cctx, cancel := s.svc.callContext(ctx)
	defer cancel()

	if err := c.Resume(cctx); err != nil {
		return false, fmt.Errorf("%w: resume consumer %s: %w", ErrEngineCall, c.ID(), err)
	}

	s.log.Info("consumer resumed", slog.String("consumer_id", c.ID()))
	if s.svc.metrics != nil {
		s.svc.metrics.IncConsumersResumed()
	}
	return true, nil
}

func (s *Session) dropPending() media.Consumer {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.pending
	s.pending = nil
	if c != nil {
		delete(s.consumers, c.ID())
	}
	return c
}

// pruneLocked removes consumers of producers other than current. Those
// producers are closed, so their consumers no longer carry media.
func (s *Session) pruneLocked(current string) []media.Consumer {
	var orphans []media.Consumer
	for id, c := range s.consumers {
		if c.ProducerID() != current {
			orphans = append(orphans, c)
			delete(s.consumers, id)
		}
	}
	return orphans
}

// Pending returns the consumer awaiting acknowledgment, if any.
func (s *Session) Pending() (media.Consumer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.pending != nil
}

// Close releases every consumer and transport this viewer created. It is
// safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	consumers := s.consumers
	s.consumers = nil
	s.pending = nil
	s.mu.Unlock()

	for _, c := range consumers {
		closeQuietly(s.log, "consumer", c)
	}
	removed := s.svc.registry.RemoveOwnedBy(s.id)
	for _, e := range removed {
		closeQuietly(s.log, "transport", e.Transport)
	}

	s.log.Info("session closed",
		slog.Int("transports_released", len(removed)),
		slog.Int("consumers_released", len(consumers)))
}

func (s *Session) lookup(id TransportID) (TransportEntry, error) {
	entry, ok := s.svc.registry.Lookup(id)
	if !ok || entry.Owner != s.id {
		return TransportEntry{}, ErrInvalidTransport
	}
	return entry, nil
}

type closer interface {
	Close() error
}

func closeQuietly(log *slog.Logger, what string, c closer) {
	if err := c.Close(); err != nil && !errors.Is(err, media.ErrClosed) {
		log.Warn("close failed", slog.String("resource", what), slog.String("error", err.Error()))
	}
}
