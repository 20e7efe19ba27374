// Command curator runs the curation stage: it consumes envelopes from the
// curation topic, rescores their suggestions with engagement counts from
// PostgreSQL and forwards them, ranked, to the terminal topic.
//
// Usage:
//
//	go run ./cmd/curator [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/curation"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/service"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := errors.Join(cfg.ValidateBus(), cfg.ValidateCuration()); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting curation stage",
		"postgres_host", cfg.Postgres.Host,
		"driver", cfg.Postgres.Driver,
		"table", cfg.Postgres.Table,
	)

	if err := run(cfg); err != nil {
		slog.Error("curation stage failed", "error", err)
		os.Exit(1)
	}
	slog.Info("curation stage stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()

	b, err := service.OpenBus(ctx, cfg, checker)
	if err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}
	defer b.Close()

	var db *postgres.Client
	err = resilience.Retry(ctx, "postgres", resilience.StartupRetry, func(ctx context.Context) error {
		c, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		db = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	checker.RegisterPing("postgres", false, db.Ping)

	store, err := metadata.NewPostgres(db, cfg.Postgres.Table)
	if err != nil {
		return err
	}
	stage := curation.New(store, service.Breaker("metadata", cfg.Search.Breaker, cfg.Curation.Timeout, m), m)

	sub, err := b.Subscribe(ctx, cfg.Kafka.Topics.Mid, cfg.Kafka.Groups.Curation)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Kafka.Topics.Mid, err)
	}
	defer sub.Close()
	loop := pipeline.New("curation", sub, b, cfg.Kafka.Topics.Terminal, stage, m)

	shutdownMetrics := service.StartMetrics(cfg.Metrics)
	defer shutdownMetrics(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		return service.Serve(gctx, service.ProbeServer(cfg.Server, checker, nil), cfg.Server.ShutdownTimeout)
	})
	return g.Wait()
}
