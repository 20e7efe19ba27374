// Command searcher runs the search stage: it consumes request envelopes from
// the entry topic, fills them with candidates from the configured store and
// forwards them to the curation topic.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/candidate"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/search"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/service"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/redis"
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
	if err := errors.Join(cfg.ValidateBus(), cfg.ValidateSearch()); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search stage",
		"backend", cfg.Search.Backend,
		"default_index", cfg.Search.DefaultIndex,
		"match_mode", cfg.Search.MatchMode,
	)

	if err := run(cfg); err != nil {
		slog.Error("search stage failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search stage stopped")
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

	backend, err := candidate.Open(cfg)
	if err != nil {
		return fmt.Errorf("opening candidate store: %w", err)
	}
	defer backend.Close()
	if err := resilience.Retry(ctx, cfg.Search.Backend, resilience.StartupRetry, backend.Ping); err != nil {
		return fmt.Errorf("candidate store unreachable: %w", err)
	}
	checker.RegisterPing(cfg.Search.Backend, false, backend.Ping)

	var store candidate.Store = backend
	var cache *candidate.Cache
	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, candidate caching disabled", "error", err)
		} else {
			defer rc.Close()
			cache = candidate.NewCache(backend, rc, cfg.Redis.CacheTTL, m)
			store = cache
			checker.RegisterPing("redis", true, rc.Ping)
			slog.Info("candidate cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	mode, err := candidate.ParseMode(cfg.Search.MatchMode)
	if err != nil {
		return err
	}
	stage := search.New(store,
		service.Breaker(cfg.Search.Backend, cfg.Search.Breaker, cfg.Search.Timeout, m),
		search.Options{
			Backend:      cfg.Search.Backend,
			DefaultIndex: cfg.Search.DefaultIndex,
			SiteIndexes:  cfg.Search.SiteIndexes,
			Mode:         mode,
			Limit:        cfg.Search.Limit,
		}, m)

	sub, err := b.Subscribe(ctx, cfg.Kafka.Topics.Entry, cfg.Kafka.Groups.Search)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Kafka.Topics.Entry, err)
	}
	defer sub.Close()
	loop := pipeline.New("search", sub, b, cfg.Kafka.Topics.Mid, stage, m)

	shutdownMetrics := service.StartMetrics(cfg.Metrics)
	defer shutdownMetrics(context.Background())

	server := service.ProbeServer(cfg.Server, checker, func(mux *http.ServeMux) {
		if cache != nil {
			mux.HandleFunc("POST /api/v1/cache/invalidate", cache.ServeInvalidate)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return service.Serve(gctx, server, cfg.Server.ShutdownTimeout) })
	return g.Wait()
}
