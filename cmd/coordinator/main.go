package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stream-coordinator/internal/coordinator"
	"stream-coordinator/internal/platform/config"
	"stream-coordinator/internal/platform/logger"
	"stream-coordinator/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	secret := config.GetEnv("NODE_SHARED_SECRET", "")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	probeInterval := config.GetEnvDuration("HEALTH_PROBE_INTERVAL", coordinator.DefaultProbeInterval)
	probeTimeout := config.GetEnvDuration("HEALTH_PROBE_TIMEOUT", coordinator.DefaultProbeTimeout)
	sessionTTL := config.GetEnvDuration("SESSION_TTL", coordinator.DefaultSessionTTL)
	probeCacheTTL := config.GetEnvDuration("STREAM_TYPE_CACHE_TTL", coordinator.DefaultProbeCacheTTL)
	upstreamTimeout := config.GetEnvDuration("UPSTREAM_TIMEOUT", coordinator.DefaultUpstreamTimeout)
	upstreamRetryMax := config.GetEnvInt("UPSTREAM_RETRY_MAX", 2)

	log := logger.New(logLevel, logFormat)

	if secret == "" {
		log.Error("NODE_SHARED_SECRET must be set")
		os.Exit(1)
	}

	registry := coordinator.NewRegistry()
	router := coordinator.NewRouter(registry, sessionTTL, log)
	tokens := coordinator.NewTokenService(secret)
	upstream := coordinator.NewUpstreamClient(upstreamTimeout, upstreamRetryMax)
	prober := coordinator.NewProber(upstream, probeCacheTTL)
	fetcher := coordinator.NewFetcher(upstream)
	met := metrics.New()
	monitor := coordinator.NewMonitor(registry, probeInterval, probeTimeout, log, met)
	h := coordinator.NewHandler(registry, router, tokens, prober, fetcher, log, met)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = monitor.Run(ctx) }()
	go func() { _ = router.Run(ctx) }()

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/healthz", h.Healthz)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() {
			met.SetHealthyNodes(registry.HealthyCount())
			met.SetStickySessions(router.SessionCount())
		}).ServeHTTP(w, req)
	})
	r.Route("/nodes", func(r chi.Router) {
		r.Post("/register", h.RegisterNode)
		r.Post("/report", h.ReportStats)
		r.Get("/status", h.FleetStatus)
	})
	r.Get("/route/{stream_id}", h.RouteStream)
	r.Get("/proxy", h.ProxyStream)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("coordinator starting",
		"port", port,
		"health_probe_interval", probeInterval.String(),
		"session_ttl", sessionTTL.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("coordinator stopped")
}
