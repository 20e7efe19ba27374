package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/gateway"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
)

func TestLoadQuestions(t *testing.T) {
	input := strings.Join([]string{
		`{"body":"how do kafka consumer groups work","site":"stackoverflow"}`,
		`{"body":"missing site"}`,
		`not json`,
		`{"body":"short","site":"superuser"}`,
	}, "\n")
	qs, err := LoadQuestions(strings.NewReader(input), 6)
	if err != nil {
		t.Fatalf("LoadQuestions: %v", err)
	}
	if len(qs) != 2 || qs[0].Body != "how do" || qs[1].Site != "superuser" {
		t.Errorf("questions = %+v", qs)
	}
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(sorted, 50); got != 5 {
		t.Errorf("p50 = %v", got)
	}
	if got := percentile(sorted, 99); got != 10 {
		t.Errorf("p99 = %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("empty p50 = %v", got)
	}
}

func TestRunSessionAgainstLoopbackGateway(t *testing.T) {
	m := metrics.NewNop()
	sessions := gateway.NewSessions(m)
	gw := gateway.New(gateway.NewLoopbackDispatcher(2, "https://google.com"), sessions,
		gateway.Options{ResponseEvent: "suggestions-list"}, m)
	defer gw.Close()
	transport := gateway.NewTransport(gw, sessions, "get-suggestions", []string{"*"})
	srv := httptest.NewServer(gateway.NewRouter(transport, sessions, gateway.RouterConfig{
		Checker: health.NewChecker(),
		Metrics: m,
	}))
	defer srv.Close()

	var csvBuf bytes.Buffer
	out := NewCSVWriter(&csvBuf)
	stats := NewStats()
	cfg := SessionConfig{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		RequestEvent:  "get-suggestions",
		ResponseEvent: "suggestions-list",
		Questions:     []Question{{Body: "kafka", Site: "stackoverflow"}},
		Messages:      3,
		Wait:          2 * time.Second,
	}
	if err := RunSession(context.Background(), 0, cfg, stats, out); err != nil {
		t.Fatalf("RunSession: %v", err)
	}
	if err := out.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if stats.received.Load() != 3 || stats.mismatched.Load() != 0 {
		t.Errorf("received %d, mismatched %d", stats.received.Load(), stats.mismatched.Load())
	}
	if n := len(stats.Latencies()); n != 3 {
		t.Errorf("latency samples = %d", n)
	}
	lines := strings.Split(strings.TrimSpace(csvBuf.String()), "\n")
	if len(lines) != 1+3*2 {
		t.Errorf("csv lines = %d:\n%s", len(lines), csvBuf.String())
	}

	var report bytes.Buffer
	printReport(&report, stats, time.Second)
	if !strings.Contains(report.String(), "Room mismatches: 0") {
		t.Errorf("report:\n%s", report.String())
	}
}
