// Package search turns the free text of an envelope into a ranked candidate
// list using a full-text store.
package search

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/candidate"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/tracing"
)

// Options are the deployment-wide query settings.
type Options struct {
	// Backend labels store metrics, e.g. "elastic".
	Backend      string
	DefaultIndex string
	SiteIndexes  map[string]string
	Mode         candidate.Mode
	Limit        int
	Fields       []string
}

// Stage is the search Processor.
type Stage struct {
	store   candidate.Store
	breaker *resilience.CircuitBreaker
	opts    Options
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(store candidate.Store, breaker *resilience.CircuitBreaker, opts Options, m *metrics.Metrics) *Stage {
	if opts.Mode == "" {
		opts.Mode = candidate.ModeMatch
	}
	if len(opts.Fields) == 0 {
		opts.Fields = candidate.DefaultFields
	}
	return &Stage{
		store:   store,
		breaker: breaker,
		opts:    opts,
		metrics: m,
		logger:  slog.Default().With("component", "search"),
	}
}

// ResolveIndex picks the envelope's index, then the site's routed index,
// then the default.
func (s *Stage) ResolveIndex(env *envelope.Envelope) string {
	if env.Index != "" {
		return env.Index
	}
	if idx, ok := s.opts.SiteIndexes[env.Site]; ok && idx != "" {
		return idx
	}
	return s.opts.DefaultIndex
}

// Process replaces the envelope's suggestions with the store's candidates.
// Any store failure leaves an empty list so the request still completes.
func (s *Stage) Process(ctx context.Context, env *envelope.Envelope) pipeline.Outcome {
	q := candidate.Query{
		Text:   env.Text,
		Site:   env.Site,
		Index:  s.ResolveIndex(env),
		Fields: s.opts.Fields,
		Limit:  s.opts.Limit,
		Mode:   s.opts.Mode,
	}
	log := logger.FromContext(ctx, s.logger)

	ctx, span := tracing.StartChildSpan(ctx, "store.query")
	span.SetAttr("index", q.Index)
	start := time.Now()
	var res *candidate.Result
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		r, err := s.store.Search(ctx, q)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	s.metrics.StoreLatency.WithLabelValues(s.opts.Backend).Observe(time.Since(start).Seconds())
	span.End()

	if err != nil {
		s.metrics.StoreQueriesTotal.WithLabelValues(s.opts.Backend, "error").Inc()
		log.Warn("candidate search failed, forwarding without suggestions",
			"index", q.Index, "site", q.Site, "error", err)
		env.Suggestions = []envelope.Suggestion{}
		env.TotalHits = 0
		return pipeline.OutcomeDegraded
	}

	env.Suggestions = toSuggestions(res.Candidates)
	env.TotalHits = res.TotalHits
	resultType := "hit"
	if len(env.Suggestions) == 0 {
		resultType = "zero_result"
	}
	s.metrics.StoreQueriesTotal.WithLabelValues(s.opts.Backend, resultType).Inc()
	log.Debug("candidates found", "index", q.Index, "count", len(env.Suggestions), "total_hits", env.TotalHits)
	return pipeline.OutcomeProcessed
}

// toSuggestions keeps store order and the first occurrence of each id.
func toSuggestions(cands []candidate.Candidate) []envelope.Suggestion {
	out := make([]envelope.Suggestion, 0, len(cands))
	seen := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, envelope.Suggestion{ID: c.ID, Title: c.Title, Score: c.Score})
	}
	return out
}
