// Package metadata looks up per-item facts (engagement count, canonical
// link) used to rescore candidates. The pipeline only ever reads.
package metadata

import (
	"context"
	"sync"
)

// Row is the metadata of one item. EngagementCount is the number of answers
// in the question/answer datasets.
type Row struct {
	ID              string `json:"id"`
	EngagementCount int    `json:"answer_count"`
	Link            string `json:"link,omitempty"`
}

// Store resolves metadata for a set of ids within one site. Ids without a
// row are simply absent from the result.
type Store interface {
	Lookup(ctx context.Context, site string, ids []string) ([]Row, error)
}

// Memory is a Store backed by a map, for tests and single-process runs.
type Memory struct {
	mu   sync.RWMutex
	rows map[string]map[string]Row
}

func NewMemory() *Memory {
	return &Memory{rows: make(map[string]map[string]Row)}
}

// Put adds or replaces rows for site.
func (m *Memory) Put(site string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySite, ok := m.rows[site]
	if !ok {
		bySite = make(map[string]Row)
		m.rows[site] = bySite
	}
	for _, r := range rows {
		bySite[r.ID] = r
	}
}

func (m *Memory) Lookup(ctx context.Context, site string, ids []string) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	bySite := m.rows[site]
	out := make([]Row, 0, len(ids))
	for _, id := range ids {
		if r, ok := bySite[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}
