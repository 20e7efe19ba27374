// Package service holds the startup plumbing shared by the pipeline
// binaries: bus selection, breakers wired to metrics, the probe server and
// graceful HTTP shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/resilience"
)

// OpenBus builds the bus named by cfg.Bus.Driver. A Kafka bus is retried
// until a broker answers and is registered with checker.
func OpenBus(ctx context.Context, cfg *config.Config, checker *health.Checker) (bus.Bus, error) {
	switch cfg.Bus.Driver {
	case "memory":
		slog.Warn("using in-process memory bus; stages in other processes will not see messages")
		return bus.NewMemory(cfg.Bus.RedeliveryTimeout), nil
	case "kafka":
		kb := kafka.New(cfg.Kafka)
		if err := resilience.Retry(ctx, "kafka", resilience.StartupRetry, kb.Ping); err != nil {
			kb.Close()
			return nil, err
		}
		checker.RegisterPing("kafka", false, kb.Ping)
		slog.Info("connected to kafka", "brokers", cfg.Kafka.Brokers)
		return kb, nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}

// Breaker creates a circuit breaker whose state is exported on the
// circuit_breaker_state gauge. Only transient errors (timeouts, unreachable
// backends) count against it; a rejected query fails alone.
func Breaker(name string, cfg config.BreakerConfig, timeout time.Duration, m *metrics.Metrics) *resilience.CircuitBreaker {
	gauge := m.CircuitBreakerState.WithLabelValues(name)
	gauge.Set(float64(resilience.StateClosed))
	return resilience.NewCircuitBreaker(name, resilience.BreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		Timeout:          timeout,
		IsFailure:        apperrors.IsTransient,
		OnStateChange: func(_ string, to resilience.State) {
			gauge.Set(float64(to))
		},
	})
}

// StartMetrics serves the default Prometheus registry when enabled and
// returns its shutdown function.
func StartMetrics(cfg config.MetricsConfig) func(context.Context) error {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }
	}
	return metrics.StartServer(cfg.Port, prometheus.DefaultGatherer)
}

// ProbeServer builds the HTTP server of a stage binary: health probes plus
// whatever routes mount adds.
func ProbeServer(cfg config.ServerConfig, checker *health.Checker, mount func(*http.ServeMux)) *http.Server {
	mux := http.NewServeMux()
	checker.Mount(mux)
	if mount != nil {
		mount(mux)
	}
	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      chain,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}

// Serve runs server until ctx is cancelled, then shuts it down within
// shutdownTimeout.
func Serve(ctx context.Context, server *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server %s: %w", server.Addr, err)
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received", "addr", server.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down %s: %w", server.Addr, err)
	}
	return nil
}
