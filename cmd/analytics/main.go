// Command analytics starts the latency aggregation service.
//
// It consumes latency events published by the gateway, keeps a sliding
// window of per-hop samples and serves p50/p95/p99 at GET /api/v1/latency.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/service"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateBus(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Kafka.Topics.Analytics == "" {
		fmt.Fprintln(os.Stderr, "invalid config: kafka.topics.analytics is required")
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port, "topic", cfg.Kafka.Topics.Analytics)

	if err := run(cfg); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()

	b, err := service.OpenBus(ctx, cfg, checker)
	if err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}
	defer b.Close()

	sub, err := b.Subscribe(ctx, cfg.Kafka.Topics.Analytics, cfg.Kafka.Groups.Analytics)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Kafka.Topics.Analytics, err)
	}
	defer sub.Close()

	aggregator := analytics.NewAggregator()
	h := analytics.NewHandler(aggregator)

	shutdownMetrics := service.StartMetrics(cfg.Metrics)
	defer shutdownMetrics(context.Background())

	server := service.ProbeServer(cfg.Server, checker, func(mux *http.ServeMux) {
		mux.HandleFunc("GET /api/v1/latency", h.Latency)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return aggregator.Run(gctx, sub) })
	g.Go(func() error { return service.Serve(gctx, server, cfg.Server.ShutdownTimeout) })
	return g.Wait()
}
