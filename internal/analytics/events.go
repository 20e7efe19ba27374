// Package analytics turns the timestamps carried by delivered envelopes into
// latency events, ships them over the bus and aggregates them into per-hop
// percentiles.
package analytics

import (
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
)

// Hop names for an envelope stamped by the client, the gateway on the way in,
// both edges of each stage and the gateway on the way out.
var pipelineHops = []string{
	"client_to_gateway",
	"gateway_to_search",
	"search",
	"search_to_curation",
	"curation",
	"curation_to_gateway",
}

// HopNames labels n consecutive hops. Sequences that do not match the full
// pipeline fall back to positional names.
func HopNames(n int) []string {
	if n == len(pipelineHops) {
		return pipelineHops
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("hop_%d", i+1)
	}
	return names
}

// LatencyEvent describes the timing of one delivered envelope.
type LatencyEvent struct {
	Room        string             `json:"room"`
	SequenceID  int64              `json:"sequence_id"`
	Site        string             `json:"site"`
	Suggestions int                `json:"suggestions"`
	TotalHits   int                `json:"total_hits"`
	HopsMs      map[string]float64 `json:"hops_ms"`
	ElapsedMs   float64            `json:"elapsed_ms"`
	Timestamp   time.Time          `json:"timestamp"`
}

// NewLatencyEvent builds the event for env. ok is false when env carries no
// usable timing.
func NewLatencyEvent(env *envelope.Envelope, at time.Time) (LatencyEvent, bool) {
	hops := env.Hops()
	if len(hops) == 0 {
		return LatencyEvent{}, false
	}
	names := HopNames(len(hops))
	ev := LatencyEvent{
		Room:        env.Room,
		SequenceID:  env.SequenceID,
		Site:        env.Site,
		Suggestions: len(env.Suggestions),
		TotalHits:   env.TotalHits,
		HopsMs:      make(map[string]float64, len(hops)),
		ElapsedMs:   millis(env.Elapsed()),
		Timestamp:   at.UTC(),
	}
	for i, d := range hops {
		ev.HopsMs[names[i]] = millis(d)
	}
	return ev, true
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
