package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"camera-relay/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler exposes the signaling websocket and the status endpoints.
type Handler struct {
	svc      *Service
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		svc:     svc,
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// ServeWS handles GET /ws. Each connection is one viewer session; its
// requests are processed in arrival order and the session is released when
// the socket closes.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	id := ViewerID(uuid.NewString())
	log := h.log.With(slog.String("viewer_id", string(id)))
	conn := newViewerConn(id, ws, log)
	sess := h.svc.NewSession(id)

	h.svc.Hub().Register(conn)
	if h.metrics != nil {
		h.metrics.IncViewers()
	}
	log.Info("viewer connected", slog.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	requests := make(chan Request, requestBuffer)
	go conn.writePump()
	go conn.readPump(cancel, requests)
	go h.dispatchLoop(ctx, sess, conn, requests)

	// readPump cancels ctx when the socket fails. Cleanup does not wait for
	// an engine call still in flight; the session rejects its late result.
	<-ctx.Done()

	h.svc.Hub().Unregister(id)
	sess.Close()
	conn.close()
	if h.metrics != nil {
		h.metrics.DecViewers()
	}
	log.Info("viewer disconnected")
}

// dispatchLoop runs one viewer's requests in arrival order until ctx ends.
func (h *Handler) dispatchLoop(ctx context.Context, sess *Session, c Client, requests <-chan Request) {
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok || ctx.Err() != nil {
				return
			}
			h.dispatch(ctx, sess, c, req)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *Session, c Client, req Request) {
	event := canonicalEvent(req.Event)

	switch event {
	case EventGetCapabilities:
		caps, err := sess.GetCapabilities()
		if err != nil {
			// Viewers wait for the descriptor before going further.
			h.log.Debug("capabilities requested before router ready",
				slog.String("viewer_id", string(sess.ID())))
			return
		}
		if req.ID == 0 {
			c.Send(Message{Event: EventRtpCapabilities, Data: caps})
			return
		}
		h.reply(c, req, event, caps)

	case EventCreateTransport:
		params, err := sess.CreateTransport(ctx)
		if err != nil {
			h.fail(c, sess, req, event, err, "Failed to create transport")
			return
		}
		h.reply(c, req, event, params)

	case EventConnectTransport:
		var body ConnectTransportRequest
		if err := decode(req.Data, &body); err != nil {
			h.fail(c, sess, req, event, err, "")
			return
		}
		if err := sess.ConnectTransport(ctx, body.TransportID, body.DtlsParameters); err != nil {
			h.fail(c, sess, req, event, err, "Failed to connect transport")
			return
		}
		h.reply(c, req, event, nil)

	case EventConsume:
		var body ConsumeRequest
		if err := decode(req.Data, &body); err != nil {
			h.fail(c, sess, req, event, err, "")
			return
		}
		resp, err := sess.Consume(ctx, body)
		if err != nil {
			h.fail(c, sess, req, event, err, "Failed to create consumer")
			return
		}
		h.reply(c, req, event, resp)

	case EventConsumerReady:
		resumed, err := sess.ConsumerReady(ctx)
		if err != nil {
			h.log.Warn("resume failed",
				slog.String("viewer_id", string(sess.ID())),
				slog.String("error", err.Error()))
			if h.metrics != nil {
				h.metrics.IncSignalingErrors(event)
			}
		} else if !resumed {
			h.log.Debug("ready acknowledgment without pending consumer",
				slog.String("viewer_id", string(sess.ID())))
		}
		if req.ID != 0 {
			h.reply(c, req, event, nil)
		}

	default:
		h.log.Debug("unknown event",
			slog.String("viewer_id", string(sess.ID())),
			slog.String("event", req.Event))
		if req.ID != 0 {
			c.Send(Message{Ack: req.ID, Data: ErrorPayload{Error: "Unknown event"}})
		}
	}
}

// reply answers req. Requests without an id get an event named after the request.
func (h *Handler) reply(c Client, req Request, event string, data any) {
	if req.ID == 0 {
		c.Send(Message{Event: event, Data: data})
		return
	}
	c.Send(Message{Ack: req.ID, Data: data})
}

func (h *Handler) fail(c Client, sess *Session, req Request, event string, err error, fallback string) {
	msg := errorMessage(err, fallback)
	if msg == "" {
		msg = err.Error()
	}

	attrs := []any{
		slog.String("viewer_id", string(sess.ID())),
		slog.String("event", event),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, ErrEngineCall) {
		h.log.Error("signaling request failed", attrs...)
	} else {
		h.log.Info("signaling request rejected", attrs...)
	}
	if h.metrics != nil {
		h.metrics.IncSignalingErrors(event)
	}

	h.reply(c, req, event, ErrorPayload{Error: msg})
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrBadRequest)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.svc.Status()); err != nil {
		h.log.Debug("status encode failed", slog.String("error", err.Error()))
	}
}

// Healthz handles GET /healthz. It reports 503 until the media router is ready.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if !h.svc.negotiator.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		h.log.Debug("healthz write failed", slog.String("error", err.Error()))
	}
}
