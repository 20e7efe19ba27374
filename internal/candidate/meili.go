package candidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	meili "github.com/meilisearch/meilisearch-go"
)

// Meili searches Meilisearch indexes. The index must declare site as a
// filterable attribute.
type Meili struct {
	client  meili.ServiceManager
	mltOnce sync.Once
	logger  *slog.Logger
}

// NewMeili creates a client; no request is made until the first search.
func NewMeili(cfg config.MeiliConfig) *Meili {
	return &Meili{
		client: meili.New(cfg.URL, meili.WithAPIKey(cfg.APIKey)),
		logger: slog.Default().With("component", "meili-store"),
	}
}

func (m *Meili) Search(ctx context.Context, q Query) (*Result, error) {
	text := q.Text
	if q.Mode == ModeMoreLikeThis {
		// Meilisearch has no similarity query; the distinct terms of the
		// sample are searched as a plain query instead.
		m.mltOnce.Do(func() {
			m.logger.Warn("more-like-this is not supported by meilisearch, using term match")
		})
		text = strings.Join(likeTerms(q.Text), " ")
	}

	req := &meili.SearchRequest{
		Limit:                int64(q.limit()),
		AttributesToRetrieve: q.fields(),
		ShowRankingScore:     true,
	}
	if q.Site != "" {
		req.Filter = fmt.Sprintf("site = %q", q.Site)
	}

	resp, err := m.client.Index(q.Index).SearchWithContext(ctx, text, req)
	if err != nil {
		var apiErr *meili.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w %q: %v", ErrUnknownIndex, q.Index, err)
		}
		return nil, fmt.Errorf("%w: meilisearch: %v", apperrors.ErrBackendUnavailable, err)
	}

	out := &Result{
		Candidates: make([]Candidate, 0, len(resp.Hits)),
		TotalHits:  int(resp.EstimatedTotalHits),
	}
	if resp.TotalHits > 0 {
		out.TotalHits = int(resp.TotalHits)
	}
	for _, hit := range resp.Hits {
		out.Candidates = append(out.Candidates, Candidate{
			ID:    rawID(hit["id"]),
			Title: decodeString(hit, "title"),
			Score: decodeFloat(hit, "_rankingScore"),
		})
	}
	return out, nil
}

// Ping checks the instance reports healthy.
func (m *Meili) Ping(ctx context.Context) error {
	if _, err := m.client.HealthWithContext(ctx); err != nil {
		return fmt.Errorf("meilisearch health: %w", err)
	}
	return nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func decodeFloat(hit meili.Hit, key string) float64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}
