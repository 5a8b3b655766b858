package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"camera-relay/internal/media"
	"camera-relay/internal/platform/config"
	"camera-relay/internal/platform/discovery"
	"camera-relay/internal/platform/logger"
	"camera-relay/internal/platform/metrics"
	"camera-relay/internal/relay"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	envErr := config.Load()

	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if envErr != nil {
		log.Warn("env file ignored", "error", envErr)
	}

	if path := config.GetEnv("CONFIG_FILE", ""); path != "" {
		if err := config.LoadFile(path, &cfg); err != nil {
			log.Error("config file", "error", err)
			os.Exit(1)
		}
		log = logger.New(cfg.LogLevel, cfg.LogFormat)
	}

	met := metrics.New()

	codec := media.H264Codec(cfg.Upstream.PayloadType, cfg.Upstream.ClockRate, cfg.Upstream.ProfileLevelID)
	worker := media.NewWorker(media.WorkerSettings{LoggerFactory: logger.NewPionFactory(log)})
	defer worker.Close()

	router, err := worker.CreateRouter(media.RouterOptions{MediaCodecs: []media.RtpCodecCapability{codec}})
	if err != nil {
		log.Error("media router init failed", "error", err)
		os.Exit(1)
	}
	ingest, err := router.CreatePlainTransport(media.PlainTransportOptions{
		ListenIP: cfg.Upstream.ListenIP,
		RTPPort:  cfg.Upstream.RTPPort,
		RTCPPort: cfg.Upstream.RTCPPort,
	})
	if err != nil {
		log.Error("ingest transport init failed", "error", err)
		os.Exit(1)
	}
	log.Info("ingest listening",
		"rtp", ingest.RTPAddr().String(),
		"rtcp", ingest.RTCPAddr().String(),
		"ssrc", cfg.Upstream.SSRC,
		"payload_type", cfg.Upstream.PayloadType,
	)

	hub := relay.NewHub(log)
	registry := relay.NewInMemoryRegistry()
	negotiator := relay.NewNegotiator()
	negotiator.SetRouter(router)

	pm := relay.NewProducerManager(relay.ProducerManagerConfig{
		Kind:          media.KindVideo,
		RtpParameters: media.ProducerParameters(codec, cfg.Upstream.SSRC),
		Liveness: relay.LivenessPolicy{
			Interval:  cfg.Liveness.Interval,
			Threshold: cfg.Liveness.Threshold,
		},
		CallTimeout: cfg.EngineCallTimeout,
	}, hub, log, met)

	svc := relay.NewService(registry, negotiator, pm, hub, relay.ServiceConfig{
		Transport: media.TransportOptions{
			ListenIP:    cfg.ListenIP,
			AnnouncedIP: cfg.AnnouncedIP,
		},
		CallTimeout: cfg.EngineCallTimeout,
	}, log, met)
	h := relay.NewHandler(svc, log, met)

	ctx, cancel := context.WithCancel(context.Background())
	pmDone := make(chan struct{})
	go func() {
		pm.Run(ctx, ingest)
		close(pmDone)
	}()

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetTransports(svc.TransportCount()) }).ServeHTTP(w, r)
	})
	r.Get("/ws", h.ServeWS)
	r.Get("/status", h.Status)
	r.Get("/healthz", h.Healthz)
	if cfg.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))
	}

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"listen_ip", cfg.ListenIP,
		"announced_ip", cfg.AnnouncedIP,
		"liveness_interval", cfg.Liveness.Interval,
		"liveness_threshold", cfg.Liveness.Threshold,
		"log_level", cfg.LogLevel,
	)

	var adv *discovery.Advertiser
	if cfg.MDNSEnabled {
		port, _ := strconv.Atoi(cfg.Port)
		adv, err = discovery.Start(discovery.Config{Instance: cfg.MDNSInstance, Port: port, Path: "/ws"},
			log.With(slog.String("component", "discovery")))
		if err != nil {
			log.Warn("mdns advertisement disabled", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	if adv != nil {
		adv.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}

	cancel()
	<-pmDone

	log.Info("server stopped")
}
