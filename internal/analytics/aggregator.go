package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
)

// maxSamples bounds the latency window kept per hop.
const maxSamples = 10000

// HopStats summarizes one hop, all values in milliseconds.
type HopStats struct {
	Count int     `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// AggregatedStats is the snapshot served by the latency API.
type AggregatedStats struct {
	TotalEvents      int64               `json:"total_events"`
	EmptyResults     int64               `json:"empty_results"`
	EndToEnd         HopStats            `json:"end_to_end"`
	Hops             map[string]HopStats `json:"hops"`
	EventsPerMinute  float64             `json:"events_per_minute"`
	WindowSampleSize int                 `json:"window_sample_size"`
}

// Aggregator keeps a sliding window of latency samples per hop.
type Aggregator struct {
	mu           sync.RWMutex
	totalEvents  atomic.Int64
	emptyResults atomic.Int64
	hops         map[string]*window
	endToEnd     *window
	startTime    time.Time

	logger *slog.Logger
}

type window struct {
	samples []float64
	next    int
}

func (w *window) add(v float64) {
	if len(w.samples) < maxSamples {
		w.samples = append(w.samples, v)
		return
	}
	w.samples[w.next] = v
	w.next = (w.next + 1) % maxSamples
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		hops:      make(map[string]*window),
		endToEnd:  &window{},
		startTime: time.Now(),
		logger:    slog.Default().With("component", "analytics-aggregator"),
	}
}

// Run consumes latency events from sub until ctx is cancelled or the
// subscription closes. Undecodable events are acknowledged and skipped.
func (a *Aggregator) Run(ctx context.Context, sub bus.Subscription) error {
	a.logger.Info("analytics aggregator starting")
	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
				return nil
			}
			a.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		var ev LatencyEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			a.logger.Error("failed to decode latency event", "message_id", msg.ID, "error", err)
		} else {
			a.Record(ev)
		}
		if err := sub.Ack(ctx, msg); err != nil {
			a.logger.Error("acknowledge failed", "message_id", msg.ID, "error", err)
		}
	}
}

// Record adds one event to the window.
func (a *Aggregator) Record(ev LatencyEvent) {
	a.totalEvents.Add(1)
	if ev.Suggestions == 0 {
		a.emptyResults.Add(1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.endToEnd.add(ev.ElapsedMs)
	for hop, ms := range ev.HopsMs {
		w, ok := a.hops[hop]
		if !ok {
			w = &window{}
			a.hops[hop] = w
		}
		w.add(ms)
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalEvents:      a.totalEvents.Load(),
		EmptyResults:     a.emptyResults.Load(),
		EndToEnd:         summarize(a.endToEnd.samples),
		Hops:             make(map[string]HopStats, len(a.hops)),
		WindowSampleSize: maxSamples,
	}
	for hop, w := range a.hops {
		stats.Hops[hop] = summarize(w.samples)
	}
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.EventsPerMinute = float64(stats.TotalEvents) / elapsed
	}
	return stats
}

func summarize(samples []float64) HopStats {
	if len(samples) == 0 {
		return HopStats{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return HopStats{
		Count: len(sorted),
		AvgMs: sum / float64(len(sorted)),
		P50Ms: percentile(sorted, 50),
		P95Ms: percentile(sorted, 95),
		P99Ms: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
