package candidate

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "candidates:"

// Cache fronts a Store with Redis. Concurrent identical queries share one
// backend call. Only successful results are cached; Redis failures fall
// through to the backend.
type Cache struct {
	next    Store
	client  *pkgredis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewCache(next Store, client *pkgredis.Client, ttl time.Duration, m *metrics.Metrics) *Cache {
	return &Cache{
		next:    next,
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "candidate-cache"),
	}
}

func (c *Cache) Search(ctx context.Context, q Query) (*Result, error) {
	key := buildKey(q)
	if result, ok := c.get(ctx, key); ok {
		return result, nil
	}
	val, err, shared := c.group.Do(key, func() (any, error) {
		if result, ok := c.get(ctx, key); ok {
			return result, nil
		}
		result, err := c.next.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	result := val.(*Result)
	if shared {
		return cloneResult(result), nil
	}
	return result, nil
}

func (c *Cache) get(ctx context.Context, key string) (*Result, bool) {
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	c.metrics.CacheHitsTotal.Inc()
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (c *Cache) set(ctx context.Context, key string, result *Result) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached result, e.g. after a reindex.
func (c *Cache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("%w: invalidating candidate cache: %v", apperrors.ErrBackendUnavailable, err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

// ServeInvalidate handles POST /api/v1/cache/invalidate.
func (c *Cache) ServeInvalidate(w http.ResponseWriter, r *http.Request) {
	if err := c.Invalidate(r.Context()); err != nil {
		c.logger.Error("cache invalidation failed", "error", err)
		apperrors.WriteJSON(w, err, "invalidation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// buildKey hashes every query attribute that changes the result. Text is
// compared case- and whitespace-insensitively.
func buildKey(q Query) string {
	text := strings.Join(strings.Fields(strings.ToLower(q.Text)), " ")
	raw := fmt.Sprintf("%s|%s|%s|%d|%s|%s",
		q.Index, q.Site, q.Mode, q.limit(), strings.Join(q.fields(), ","), text)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func cloneResult(r *Result) *Result {
	c := *r
	c.Candidates = append([]Candidate(nil), r.Candidates...)
	return &c
}
