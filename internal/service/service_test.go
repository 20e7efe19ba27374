package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/resilience"
)

func TestOpenBusMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Driver = "memory"
	b, err := OpenBus(context.Background(), cfg, health.NewChecker())
	if err != nil {
		t.Fatalf("OpenBus: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*bus.Memory); !ok {
		t.Errorf("bus = %T", b)
	}

	cfg.Bus.Driver = "nats"
	if _, err := OpenBus(context.Background(), cfg, health.NewChecker()); err == nil {
		t.Error("expected unknown driver error")
	}
}

func TestBreakerExportsState(t *testing.T) {
	m := metrics.NewNop()
	cb := Breaker("elastic", config.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}, 0, m)
	gauge := m.CircuitBreakerState.WithLabelValues("elastic")
	if got := testutil.ToFloat64(gauge); got != float64(resilience.StateClosed) {
		t.Fatalf("initial state = %v", got)
	}
	cb.Call(context.Background(), func(context.Context) error { return errors.New("bad query") })
	if got := testutil.ToFloat64(gauge); got != float64(resilience.StateClosed) {
		t.Fatalf("state after rejected query = %v", got)
	}
	cb.Call(context.Background(), func(context.Context) error {
		return fmt.Errorf("%w: dial es:9200", apperrors.ErrBackendUnavailable)
	})
	if got := testutil.ToFloat64(gauge); got != float64(resilience.StateOpen) {
		t.Errorf("state after failure = %v", got)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	checker := health.NewChecker()
	srv := ProbeServer(config.ServerConfig{WriteTimeout: time.Second}, checker, nil)
	srv.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, time.Second) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/health/live")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("live status = %d", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
