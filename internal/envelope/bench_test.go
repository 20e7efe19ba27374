package envelope

import (
	"strconv"
	"testing"
	"time"
)

// BenchmarkRoundTrip measures the decode, stamp, encode cycle every stage
// performs per message.
func BenchmarkRoundTrip(b *testing.B) {
	env := &Envelope{
		Text:       "how do kafka consumer groups rebalance partitions",
		Site:       "stackoverflow",
		Room:       "3f1c2f0e-7d3b-4b8e-9a55-0c8c1a2b9d10",
		SequenceID: 7,
		Timestamps: []float64{1700000000.1, 1700000000.2, 1700000000.3},
	}
	for i := 0; i < 10; i++ {
		env.Suggestions = append(env.Suggestions, Suggestion{ID: strconv.Itoa(i), Title: "title", Score: float64(i)})
	}
	data, err := env.Encode()
	if err != nil {
		b.Fatalf("Encode: %v", err)
	}
	now := time.Now()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e, err := Decode(data)
		if err != nil {
			b.Fatalf("Decode: %v", err)
		}
		e.Stamp(now)
		if _, err := e.Encode(); err != nil {
			b.Fatalf("Encode: %v", err)
		}
	}
}
