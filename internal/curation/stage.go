// Package curation rescales search suggestions by how much engagement each
// item has and re-ranks them.
package curation

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/tracing"
)

// Stage is the curation Processor.
type Stage struct {
	store   metadata.Store
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(store metadata.Store, breaker *resilience.CircuitBreaker, m *metrics.Metrics) *Stage {
	return &Stage{
		store:   store,
		breaker: breaker,
		metrics: m,
		logger:  slog.Default().With("component", "curation"),
	}
}

func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) pipeline.Outcome {
	if len(env.Suggestions) == 0 {
		if env.Suggestions == nil {
			env.Suggestions = []envelope.Suggestion{}
		}
		return pipeline.OutcomeProcessed
	}
	log := logger.FromContext(ctx, s.logger)

	ctx, span := tracing.StartChildSpan(ctx, "metadata.lookup")
	start := time.Now()
	var rows []metadata.Row
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		r, err := s.store.Lookup(ctx, env.Site, env.IDs())
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	s.metrics.StoreLatency.WithLabelValues("metadata").Observe(time.Since(start).Seconds())
	span.SetAttr("rows", len(rows))
	span.End()

	if err != nil {
		s.metrics.StoreQueriesTotal.WithLabelValues("metadata", "error").Inc()
		log.Warn("metadata lookup failed, forwarding unscaled", "site", env.Site, "error", err)
		Rank(env.Suggestions)
		return pipeline.OutcomeDegraded
	}
	resultType := "hit"
	if len(rows) == 0 {
		resultType = "zero_result"
	}
	s.metrics.StoreQueriesTotal.WithLabelValues("metadata", resultType).Inc()

	missing := Curate(env.Suggestions, rows)
	if missing > 0 {
		log.Debug("suggestions without metadata kept unscaled", "count", missing)
	}
	return pipeline.OutcomeProcessed
}

// Curate multiplies each suggestion's score by its engagement count plus
// one, attaches links, and ranks the result. Negative counts are treated as
// zero. It returns how many suggestions had no row.
func Curate(suggestions []envelope.Suggestion, rows []metadata.Row) int {
	byID := make(map[string]metadata.Row, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	missing := 0
	for i := range suggestions {
		r, ok := byID[suggestions[i].ID]
		if !ok {
			missing++
			continue
		}
		engagement := r.EngagementCount
		if engagement < 0 {
			engagement = 0
		}
		suggestions[i].Score *= float64(engagement + 1)
		if r.Link != "" {
			suggestions[i].Link = r.Link
		}
	}
	Rank(suggestions)
	return missing
}

// Rank sorts by descending score; equal scores keep their order.
func Rank(suggestions []envelope.Suggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
}
