package curation

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/metadata"
)

// BenchmarkCurate measures rescoring and ranking for result lists of the
// sizes the search stage produces.
func BenchmarkCurate(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("suggestions_%d", n), func(b *testing.B) {
			base := make([]envelope.Suggestion, n)
			rows := make([]metadata.Row, 0, n)
			for i := range base {
				id := strconv.Itoa(i)
				base[i] = envelope.Suggestion{ID: id, Title: "q" + id, Score: float64(n - i)}
				if i%3 != 0 {
					rows = append(rows, metadata.Row{ID: id, EngagementCount: i % 7, Link: "https://example.com/q/" + id})
				}
			}
			work := make([]envelope.Suggestion, n)

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				copy(work, base)
				Curate(work, rows)
			}
		})
	}
}
