package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// ErrNoCodecs is returned when a router is created without media codecs.
var ErrNoCodecs = errors.New("media: router needs at least one codec")

// WorkerSettings configures a Worker.
type WorkerSettings struct {
	// LoggerFactory is the factory for creating loggers.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory
}

// RouterOptions configures the media codecs a router accepts and offers.
type RouterOptions struct {
	MediaCodecs []RtpCodecCapability
}

// Worker owns the routers of one process.
type Worker struct {
	settings WorkerSettings
	log      logging.LeveledLogger

	mu      sync.Mutex
	routers []*WebRTCRouter
	closed  bool
}

// NewWorker creates a worker.
func NewWorker(settings WorkerSettings) *Worker {
	if settings.LoggerFactory == nil {
		settings.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Worker{
		settings: settings,
		log:      settings.LoggerFactory.NewLogger("media-worker"),
	}
}

// CreateRouter validates opts by building a pion API for them and returns a
// router ready to hand out capabilities and transports.
func (w *Worker) CreateRouter(opts RouterOptions) (*WebRTCRouter, error) {
	if len(opts.MediaCodecs) == 0 {
		return nil, ErrNoCodecs
	}
	for _, c := range opts.MediaCodecs {
		if c.MimeType == "" || c.ClockRate == 0 {
			return nil, fmt.Errorf("media: invalid codec %+v", c)
		}
		if _, err := codecType(c.Kind); err != nil {
			return nil, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	r := &WebRTCRouter{
		id:        uuid.NewString(),
		codecs:    opts.MediaCodecs,
		loggers:   w.settings.LoggerFactory,
		log:       w.settings.LoggerFactory.NewLogger("media-router"),
		apis:      make(map[TransportOptions]*webrtc.API),
		producers: make(map[string]*RTPProducer),
	}
	if _, err := r.api(TransportOptions{}); err != nil {
		return nil, err
	}
	w.routers = append(w.routers, r)
	w.log.Infof("router %s created with %d codec(s)", r.id, len(r.codecs))
	return r, nil
}

// Close closes every router and their transports.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	routers := w.routers
	w.routers = nil
	w.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}
}
