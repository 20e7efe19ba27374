package candidate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/elastic/go-elasticsearch/v8"
)

// Elastic searches an Elasticsearch cluster.
type Elastic struct {
	es     *elasticsearch.Client
	field  string
	logger *slog.Logger
}

// NewElastic creates a client for the configured cluster. field is the
// document field the query text is matched against.
func NewElastic(cfg config.ElasticConfig, field string) (*Elastic, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("elastic: create client: %w", err)
	}
	return &Elastic{
		es:     es,
		field:  field,
		logger: slog.Default().With("component", "elastic-store"),
	}, nil
}

func (e *Elastic) Search(ctx context.Context, q Query) (*Result, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(e.body(q)); err != nil {
		return nil, fmt.Errorf("elastic: encode query: %w", err)
	}

	res, err := e.es.Search(
		e.es.Search.WithContext(ctx),
		e.es.Search.WithIndex(q.Index),
		e.es.Search.WithBody(&buf),
		e.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: elastic: %v", apperrors.ErrBackendUnavailable, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		switch {
		case res.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w %q: %s", ErrUnknownIndex, q.Index, body)
		case res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: elastic [%s]: %s", apperrors.ErrBackendUnavailable, res.Status(), body)
		default:
			return nil, fmt.Errorf("elastic: query error [%s]: %s", res.Status(), body)
		}
	}

	var parsed esResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("elastic: decode response: %w", err)
	}
	out := &Result{
		Candidates: make([]Candidate, 0, len(parsed.Hits.Hits)),
		TotalHits:  parsed.Hits.Total.Value,
	}
	for _, hit := range parsed.Hits.Hits {
		id := rawID(hit.Source.ID)
		if id == "" {
			id = hit.ID
		}
		out.Candidates = append(out.Candidates, Candidate{ID: id, Title: hit.Source.Title, Score: hit.Score})
	}
	e.logger.Debug("query done", "index", q.Index, "site", q.Site, "mode", q.Mode, "hits", len(out.Candidates), "total", out.TotalHits)
	return out, nil
}

// body builds the bool query: the text clause under must, the site under
// filter so it restricts without affecting scores.
func (e *Elastic) body(q Query) map[string]any {
	var must map[string]any
	switch q.Mode {
	case ModeMoreLikeThis:
		must = map[string]any{
			"more_like_this": map[string]any{
				"fields":          []string{e.field},
				"like":            q.Text,
				"min_term_freq":   mltMinTermFreq,
				"max_query_terms": mltMaxQueryTerms,
			},
		}
	default:
		must = map[string]any{
			"match": map[string]any{e.field: q.Text},
		}
	}
	boolQuery := map[string]any{"must": []any{must}}
	if q.Site != "" {
		boolQuery["filter"] = []any{
			map[string]any{"term": map[string]any{"site": q.Site}},
		}
	}
	return map[string]any{
		"_source": q.fields(),
		"size":    q.limit(),
		"query":   map[string]any{"bool": boolQuery},
	}
}

// Ping checks the cluster answers.
func (e *Elastic) Ping(ctx context.Context) error {
	res, err := e.es.Ping(e.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elastic ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elastic ping: %s", res.Status())
	}
	return nil
}

type esResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string  `json:"_id"`
			Score  float64 `json:"_score"`
			Source struct {
				ID    json.RawMessage `json:"id"`
				Title string          `json:"title"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// rawID renders a stored id, string or number, as a string.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return string(raw)
}
