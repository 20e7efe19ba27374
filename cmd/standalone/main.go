// Command standalone runs the whole suggestion pipeline in one process: the
// gateway, the search and curation stages and the latency aggregator share
// an in-memory bus, candidates come from an embedded Bleve index and
// engagement counts from an in-memory table, both seeded from a JSON-lines
// file.
//
// Usage:
//
//	go run ./cmd/standalone -seed data/questions.jsonl
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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/candidate"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/curation"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/gateway"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/search"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/service"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "optional config file; defaults suit local runs")
	seedPath := flag.String("seed", "data/questions.jsonl", "JSON lines with id, site, title, body, answer_count, link")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Bus.Driver = "memory"
	cfg.Search.Backend = "bleve"
	if err := cfg.ValidateGateway(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting standalone pipeline", "port", cfg.Gateway.Port, "seed", *seedPath)

	if err := run(cfg, *seedPath); err != nil {
		slog.Error("standalone pipeline failed", "error", err)
		os.Exit(1)
	}
	slog.Info("standalone pipeline stopped")
}

func run(cfg *config.Config, seedPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()

	// An empty data dir keeps the index in memory; it is rebuilt from the
	// seed on every start.
	store := candidate.NewBleve("", cfg.Search.Field)
	defer store.Close()
	meta := metadata.NewMemory()

	f, err := os.Open(seedPath)
	if err != nil {
		return fmt.Errorf("opening seed: %w", err)
	}
	n, err := seed(f, cfg.Search.DefaultIndex, store, meta)
	f.Close()
	if err != nil {
		return err
	}
	slog.Info("seeded candidate index", "index", cfg.Search.DefaultIndex, "documents", n)

	b := bus.NewMemory(cfg.Bus.RedeliveryTimeout)
	defer b.Close()
	topics, groups := cfg.Kafka.Topics, cfg.Kafka.Groups

	subscribe := func(topic, group string) (bus.Subscription, error) {
		sub, err := b.Subscribe(ctx, topic, group)
		if err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		return sub, nil
	}
	searchSub, err := subscribe(topics.Entry, groups.Search)
	if err != nil {
		return err
	}
	curateSub, err := subscribe(topics.Mid, groups.Curation)
	if err != nil {
		return err
	}
	terminalSub, err := subscribe(topics.Terminal, groups.Gateway)
	if err != nil {
		return err
	}
	latencySub, err := subscribe(topics.Analytics, groups.Analytics)
	if err != nil {
		return err
	}

	mode, err := candidate.ParseMode(cfg.Search.MatchMode)
	if err != nil {
		return err
	}
	searchStage := search.New(store,
		service.Breaker("bleve", cfg.Search.Breaker, cfg.Search.Timeout, m),
		search.Options{
			Backend:      "bleve",
			DefaultIndex: cfg.Search.DefaultIndex,
			SiteIndexes:  cfg.Search.SiteIndexes,
			Mode:         mode,
			Limit:        cfg.Search.Limit,
		}, m)
	curationStage := curation.New(meta, service.Breaker("metadata", cfg.Search.Breaker, cfg.Curation.Timeout, m), m)

	collector := analytics.NewCollector(b, topics.Analytics, 10000, m)
	collector.Start(ctx)
	defer collector.Close()
	aggregator := analytics.NewAggregator()
	latency := analytics.NewHandler(aggregator)

	sessions := gateway.NewSessions(m)
	var dispatcher gateway.Dispatcher = gateway.NewBusDispatcher(b, terminalSub, topics.Entry, m)
	if cfg.Gateway.Loopback {
		dispatcher = gateway.NewLoopbackDispatcher(cfg.Gateway.LoopbackCount, cfg.Gateway.LoopbackLink)
	}
	gw := gateway.New(dispatcher, sessions, gateway.Options{
		ResponseEvent: cfg.Gateway.ResponseEvent,
		MaxTextLength: cfg.Gateway.MaxTextLength,
		Limiter:       gateway.NewRateLimiter(cfg.Gateway.RequestsPerMinute, time.Minute),
		Latency:       collector,
	}, m)
	defer gw.Close()

	router := gateway.NewRouter(gateway.NewTransport(gw, sessions, cfg.Gateway.RequestEvent, cfg.Gateway.AllowOrigins),
		sessions, gateway.RouterConfig{
			Checker:        checker,
			Metrics:        m,
			Gatherer:       prometheus.DefaultGatherer,
			AllowOrigins:   cfg.Gateway.AllowOrigins,
			RequestTimeout: cfg.Server.WriteTimeout,
		})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/latency", latency.Latency)
	mux.Handle("/", router)
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:     mux,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pipeline.New("search", searchSub, b, topics.Mid, searchStage, m).Run(gctx) })
	g.Go(func() error {
		return pipeline.New("curation", curateSub, b, topics.Terminal, curationStage, m).Run(gctx)
	})
	g.Go(func() error { return aggregator.Run(gctx, latencySub) })
	g.Go(func() error { return service.Serve(gctx, server, cfg.Server.ShutdownTimeout) })
	return g.Wait()
}
