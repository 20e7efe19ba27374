package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/gateway"
)

// Question is one line of the input file.
type Question struct {
	Body string `json:"body"`
	Site string `json:"site"`
}

// LoadQuestions reads JSON lines with body and site, skipping lines that lack
// either.
func LoadQuestions(r io.Reader, maxText int) ([]Question, error) {
	var out []Question
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		var q Question
		if err := json.Unmarshal(sc.Bytes(), &q); err != nil || q.Body == "" || q.Site == "" {
			continue
		}
		if maxText > 0 && len([]rune(q.Body)) > maxText {
			q.Body = string([]rune(q.Body)[:maxText])
		}
		out = append(out, q)
	}
	return out, sc.Err()
}

// Stats collects round-trip results across sessions.
type Stats struct {
	sent       atomic.Int64
	received   atomic.Int64
	mismatched atomic.Int64
	empty      atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
}

func NewStats() *Stats {
	return &Stats{latencies: make([]time.Duration, 0, 10000)}
}

func (s *Stats) record(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

// Latencies returns the recorded round trips sorted ascending.
func (s *Stats) Latencies() []time.Duration {
	s.mu.Lock()
	out := make([]time.Duration, len(s.latencies))
	copy(out, s.latencies)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CSVWriter writes one row per received suggestion.
type CSVWriter struct {
	mu sync.Mutex
	w  *csv.Writer
}

func NewCSVWriter(w io.Writer) *CSVWriter {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	cw.w.Write([]string{"msg_id", "site", "text", "title", "score", "elapsed_ms"})
	return cw
}

func (c *CSVWriter) Write(env *envelope.Envelope) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := strconv.FormatFloat(float64(env.Elapsed())/float64(time.Millisecond), 'f', 2, 64)
	for _, s := range env.Suggestions {
		c.w.Write([]string{
			strconv.FormatInt(env.SequenceID, 10),
			env.Site,
			env.Text,
			s.Title,
			strconv.FormatFloat(s.Score, 'f', 4, 64),
			elapsed,
		})
	}
}

func (c *CSVWriter) Flush() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	return c.w.Error()
}

// SessionConfig drives one client session.
type SessionConfig struct {
	URL           string
	RequestEvent  string
	ResponseEvent string
	Questions     []Question
	Messages      int
	Rate          float64
	Wait          time.Duration
}

// RunSession connects once, sends cfg.Messages requests cycling through the
// questions and waits for the answers or cfg.Wait, whichever comes first.
func RunSession(ctx context.Context, id int, cfg SessionConfig, stats *Stats, out *CSVWriter) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("session %d: dial: %w", id, err)
	}
	defer conn.Close()

	var hello gateway.Frame
	if err := conn.ReadJSON(&hello); err != nil || hello.Event != gateway.SessionEvent {
		return fmt.Errorf("session %d: expected session event: %v", id, err)
	}
	var info gateway.SessionInfo
	if err := json.Unmarshal(hello.Data, &info); err != nil {
		return fmt.Errorf("session %d: decoding session event: %w", id, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		receive(conn, info.SID, cfg, stats, out)
	}()

	var interval time.Duration
	if cfg.Rate > 0 {
		interval = time.Duration(float64(time.Second) / cfg.Rate)
	}
	for seq := 1; seq <= cfg.Messages; seq++ {
		q := cfg.Questions[(id+seq)%len(cfg.Questions)]
		data, _ := json.Marshal(map[string]any{
			"text":        q.Body,
			"site":        q.Site,
			"sequence_id": seq,
			"timestamps":  []float64{unixSeconds(time.Now())},
		})
		if err := conn.WriteJSON(gateway.Frame{Event: cfg.RequestEvent, Data: data}); err != nil {
			return fmt.Errorf("session %d: send: %w", id, err)
		}
		stats.sent.Add(1)
		if interval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(cfg.Wait):
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

func receive(conn *websocket.Conn, sid string, cfg SessionConfig, stats *Stats, out *CSVWriter) {
	got := 0
	for got < cfg.Messages {
		var f gateway.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event != cfg.ResponseEvent {
			continue
		}
		var env envelope.Envelope
		if err := json.Unmarshal(f.Data, &env); err != nil {
			continue
		}
		got++
		stats.received.Add(1)
		if env.Room != sid {
			stats.mismatched.Add(1)
		}
		if len(env.Suggestions) == 0 {
			stats.empty.Add(1)
		}
		env.Stamp(time.Now())
		if env.Timed() {
			stats.record(env.Elapsed())
		}
		out.Write(&env)
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func printReport(w io.Writer, stats *Stats, elapsed time.Duration) {
	sent, received := stats.sent.Load(), stats.received.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Sent:            %d\n", sent)
	fmt.Fprintf(w, "Received:        %d\n", received)
	fmt.Fprintf(w, "Room mismatches: %d\n", stats.mismatched.Load())
	fmt.Fprintf(w, "Empty results:   %d\n", stats.empty.Load())
	if elapsed > 0 {
		fmt.Fprintf(w, "Responses/sec:   %.2f\n", float64(received)/elapsed.Seconds())
	}

	latencies := stats.Latencies()
	if len(latencies) == 0 {
		return
	}
	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Round trip ===")
	fmt.Fprintf(w, "Min:    %s\n", latencies[0])
	fmt.Fprintf(w, "Avg:    %s\n", sum/time.Duration(len(latencies)))
	fmt.Fprintf(w, "P50:    %s\n", percentile(latencies, 50))
	fmt.Fprintf(w, "P95:    %s\n", percentile(latencies, 95))
	fmt.Fprintf(w, "P99:    %s\n", percentile(latencies, 99))
	fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
}

func openOutput(path string) (*CSVWriter, func() error, error) {
	if path == "" {
		return nil, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s: %w", path, err)
	}
	cw := NewCSVWriter(f)
	return cw, func() error {
		if err := cw.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}
