package candidate

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
)

// Backend is a Store that owns connections and can report reachability.
type Backend interface {
	Store
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the backend named by cfg.Search.Backend.
func Open(cfg *config.Config) (Backend, error) {
	switch cfg.Search.Backend {
	case "elastic":
		e, err := NewElastic(cfg.Elastic, cfg.Search.Field)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "meili":
		return NewMeili(cfg.Meili), nil
	case "bleve":
		return NewBleve(cfg.Bleve.DataDir, cfg.Search.Field), nil
	default:
		return nil, fmt.Errorf("unknown search backend %q", cfg.Search.Backend)
	}
}

func (e *Elastic) Close() error { return nil }

func (m *Meili) Close() error { return nil }

// Ping reports only cancellation; embedded indexes have no remote side.
func (b *Bleve) Ping(ctx context.Context) error {
	return ctx.Err()
}
