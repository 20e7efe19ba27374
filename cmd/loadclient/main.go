// Command loadclient opens WebSocket sessions against the gateway, sends
// questions read from a JSON-lines file and reports round-trip latency.
//
// Usage:
//
//	go run ./cmd/loadclient -input data/questions.jsonl -sessions 20 -messages 50
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
)

func main() {
	url := flag.String("url", "ws://localhost:8082/ws", "gateway WebSocket URL")
	input := flag.String("input", "data/questions.jsonl", "JSON lines with body and site")
	sessions := flag.Int("sessions", 10, "concurrent client sessions")
	messages := flag.Int("messages", 20, "requests per session")
	rate := flag.Float64("rate", 1, "requests per second per session; 0 disables pacing")
	textLen := flag.Int("text-length", 100, "characters of each body sent as text")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for outstanding answers")
	out := flag.String("out", "", "optional CSV file of received suggestions")
	requestEvent := flag.String("request-event", "get-suggestions", "event name for requests")
	responseEvent := flag.String("response-event", "suggestions-list", "event name for answers")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Setup(*logLevel, "text")

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening input: %v\n", err)
		os.Exit(1)
	}
	questions, err := LoadQuestions(f, *textLen)
	f.Close()
	if err != nil || len(questions) == 0 {
		fmt.Fprintf(os.Stderr, "no usable questions in %s (%v)\n", *input, err)
		os.Exit(1)
	}

	csvOut, closeOut, err := openOutput(*out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := SessionConfig{
		URL:           *url,
		RequestEvent:  *requestEvent,
		ResponseEvent: *responseEvent,
		Questions:     questions,
		Messages:      *messages,
		Rate:          *rate,
		Wait:          *wait,
	}

	fmt.Println("=== Suggestion Gateway Load Client ===")
	fmt.Printf("Target:    %s\n", cfg.URL)
	fmt.Printf("Sessions:  %d\n", *sessions)
	fmt.Printf("Messages:  %d per session\n", cfg.Messages)
	fmt.Printf("Questions: %d\n", len(questions))
	fmt.Println()

	stats := NewStats()
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < *sessions; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := RunSession(ctx, id, cfg, stats, csvOut); err != nil {
				slog.Error("session failed", "session", id, "error", err)
			}
		}(i)
	}
	wg.Wait()

	printReport(os.Stdout, stats, time.Since(start))
	if err := closeOut(); err != nil {
		slog.Error("writing csv", "error", err)
	}
	if stats.received.Load() == 0 {
		fmt.Println()
		fmt.Println("WARNING: no answers received. Is the gateway running?")
		os.Exit(1)
	}
}
