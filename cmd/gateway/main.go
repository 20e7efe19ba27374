// Command gateway starts the client-facing gateway.
//
// Clients connect over WebSocket at /ws and send get-suggestions events. The
// gateway tags each request with the session id as its room, publishes it to
// the entry topic and emits finished envelopes from the terminal topic back
// to the matching session. With gateway.loopback set it answers with
// synthetic suggestions and never touches the bus.
//
// Usage:
//
//	go run ./cmd/gateway [-config configs/development.yaml]
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
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/gateway"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/service"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	loopback := flag.Bool("loopback", false, "answer with synthetic suggestions instead of using the pipeline")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *loopback {
		cfg.Gateway.Loopback = true
	}
	validate := cfg.ValidateGateway()
	if !cfg.Gateway.Loopback {
		validate = errors.Join(validate, cfg.ValidateBus())
	}
	if validate != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", validate)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting gateway service",
		"port", cfg.Gateway.Port,
		"loopback", cfg.Gateway.Loopback,
		"entry_topic", cfg.Kafka.Topics.Entry,
		"terminal_topic", cfg.Kafka.Topics.Terminal,
	)

	if err := run(cfg); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}
	slog.Info("gateway service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	checker := health.NewChecker()
	sessions := gateway.NewSessions(m)
	opts := gateway.Options{
		ResponseEvent: cfg.Gateway.ResponseEvent,
		MaxTextLength: cfg.Gateway.MaxTextLength,
		Limiter:       gateway.NewRateLimiter(cfg.Gateway.RequestsPerMinute, time.Minute),
	}

	var dispatcher gateway.Dispatcher
	if cfg.Gateway.Loopback {
		dispatcher = gateway.NewLoopbackDispatcher(cfg.Gateway.LoopbackCount, cfg.Gateway.LoopbackLink)
	} else {
		b, err := service.OpenBus(ctx, cfg, checker)
		if err != nil {
			return fmt.Errorf("opening bus: %w", err)
		}
		defer b.Close()

		group := cfg.Kafka.Groups.Gateway
		if cfg.Kafka.PerInstanceGatewayGroup {
			group = group + "-" + uuid.NewString()
		}
		sub, err := b.Subscribe(ctx, cfg.Kafka.Topics.Terminal, group)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", cfg.Kafka.Topics.Terminal, err)
		}
		dispatcher = gateway.NewBusDispatcher(b, sub, cfg.Kafka.Topics.Entry, m)

		if cfg.Kafka.Topics.Analytics != "" {
			collector := analytics.NewCollector(b, cfg.Kafka.Topics.Analytics, 10000, m)
			collector.Start(ctx)
			defer collector.Close()
			opts.Latency = collector
		}
		slog.Info("bus dispatcher ready", "group", group)
	}

	gw := gateway.New(dispatcher, sessions, opts, m)
	defer gw.Close()

	transport := gateway.NewTransport(gw, sessions, cfg.Gateway.RequestEvent, cfg.Gateway.AllowOrigins)
	handler := gateway.NewRouter(transport, sessions, gateway.RouterConfig{
		Checker:        checker,
		Metrics:        m,
		Gatherer:       prometheus.DefaultGatherer,
		AllowOrigins:   cfg.Gateway.AllowOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
	})
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Serve(gctx, server, cfg.Server.ShutdownTimeout) })
	return g.Wait()
}
