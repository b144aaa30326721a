package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/strainline/strainline/internal/api"
	"github.com/strainline/strainline/internal/archive"
	"github.com/strainline/strainline/internal/auth"
	"github.com/strainline/strainline/internal/config"
	"github.com/strainline/strainline/internal/ingest"
	"github.com/strainline/strainline/internal/pipeline"
	"github.com/strainline/strainline/internal/publisher"
	"github.com/strainline/strainline/internal/state"
	"github.com/strainline/strainline/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("strainline starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"search_version", cfg.Search.Version,
		"detectors", len(cfg.Detectors),
		"epoch_stride", cfg.Search.EpochStride,
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Durable local archive; every candidate lands here before any upload.
	arch, err := archive.Open(cfg.Archive.Path)
	if err != nil {
		slog.Error("failed to open candidate archive", "err", err)
		os.Exit(1)
	}
	defer arch.Close()

	// Detector status store with background TTL eviction.
	st := state.New(cfg.Server.StateTTL)
	go st.Run(ctx)

	// WebSocket hub broadcasting the live snapshot to clients; completed
	// candidate publishes wake it for an immediate push.
	hub := ws.New(st, arch, 5*time.Second)
	go hub.Run(ctx)

	// Publisher: local archive plus the remote alert broker. Broker failures
	// are reported per step and never stall the search.
	metrics := &api.Metrics{}
	pub := publisher.New(publisher.NewHTTPBroker(cfg.Broker.URL), arch)
	pub.OnDone = func(r *publisher.Report) {
		if !r.OK() {
			metrics.PublishFailures.Add(1)
		}
		hub.Wake()
	}

	// Ingest feeds and the decision loop.
	recv := ingest.New(cfg.Server.IngestBuffer)
	pipe, err := pipeline.New(cfg, recv, st, pub, metrics)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	go pipe.Run(ctx)

	// Config hot-reload; the pipeline applies updates between epochs.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			pipe.UpdateConfig(updated)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// One HTTP surface for ingest, REST API, metrics and the hub.
	apiHandler := api.New(st, arch, metrics)
	mux := http.NewServeMux()
	mux.Handle("/ingest/", recv.Handler())
	mux.Handle("/api/", apiHandler)
	mux.Handle("/metrics", apiHandler)
	mux.Handle("/ws/stream", hub)

	guard := auth.Middleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.Header,
		cfg.Server.Auth.Key(),
	)
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: guard(mux),
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("strainline shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
