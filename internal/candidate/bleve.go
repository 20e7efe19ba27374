package candidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Document is an item stored in an embedded Bleve index.
type Document struct {
	ID    string `json:"id"`
	Site  string `json:"site"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Bleve serves candidates from embedded Bleve indexes, one per index name.
// With an empty data directory indexes live in memory and exist only once
// documents are Put into them.
type Bleve struct {
	mu      sync.Mutex
	indexes map[string]bleve.Index
	dataDir string
	field   string
	logger  *slog.Logger
}

// NewBleve opens indexes lazily from dataDir/<index>. An empty dataDir keeps
// every index in memory.
func NewBleve(dataDir, field string) *Bleve {
	return &Bleve{
		indexes: make(map[string]bleve.Index),
		dataDir: dataDir,
		field:   field,
		logger:  slog.Default().With("component", "bleve-store"),
	}
}

// documentMapping indexes site as an exact keyword, title and body as
// analyzed text, and stores only what results need.
func documentMapping() mapping.IndexMapping {
	keyword := bleve.NewKeywordFieldMapping()
	keyword.Store = true

	site := bleve.NewKeywordFieldMapping()
	site.Store = false

	title := bleve.NewTextFieldMapping()
	title.Store = true

	body := bleve.NewTextFieldMapping()
	body.Store = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("id", keyword)
	doc.AddFieldMappingsAt("site", site)
	doc.AddFieldMappingsAt("title", title)
	doc.AddFieldMappingsAt("body", body)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func (b *Bleve) open(name string, create bool) (bleve.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx, ok := b.indexes[name]; ok {
		return idx, nil
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrUnknownIndex)
	}

	var idx bleve.Index
	var err error
	switch {
	case b.dataDir == "" && create:
		idx, err = bleve.NewMemOnly(documentMapping())
	case b.dataDir == "":
		return nil, fmt.Errorf("%w %q", ErrUnknownIndex, name)
	default:
		path := filepath.Join(b.dataDir, name)
		idx, err = bleve.Open(path)
		if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
			if !create {
				return nil, fmt.Errorf("%w %q", ErrUnknownIndex, name)
			}
			if err := os.MkdirAll(b.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("bleve: create data dir: %w", err)
			}
			idx, err = bleve.New(path, documentMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("bleve: open index %s: %w", name, err)
	}
	b.indexes[name] = idx
	b.logger.Info("index opened", "index", name, "persistent", b.dataDir != "")
	return idx, nil
}

// Put indexes docs into the named index, creating it if needed.
func (b *Bleve) Put(index string, docs []Document) error {
	idx, err := b.open(index, true)
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for _, d := range docs {
		fields := map[string]any{
			"id":    d.ID,
			"site":  d.Site,
			"title": d.Title,
			"body":  d.Body,
		}
		if err := batch.Index(d.ID, fields); err != nil {
			return fmt.Errorf("bleve: batch document %s: %w", d.ID, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		return fmt.Errorf("bleve: index batch: %w", err)
	}
	return nil
}

func (b *Bleve) Search(ctx context.Context, q Query) (*Result, error) {
	idx, err := b.open(q.Index, false)
	if err != nil {
		return nil, err
	}

	req := bleve.NewSearchRequestOptions(b.query(q), q.limit(), 0, false)
	req.Fields = q.fields()
	res, err := idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve: search %s: %w", q.Index, err)
	}

	out := &Result{
		Candidates: make([]Candidate, 0, len(res.Hits)),
		TotalHits:  int(res.Total),
	}
	for _, hit := range res.Hits {
		c := Candidate{ID: hit.ID, Score: hit.Score}
		if id, ok := hit.Fields["id"].(string); ok && id != "" {
			c.ID = id
		}
		if title, ok := hit.Fields["title"].(string); ok {
			c.Title = title
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out, nil
}

func (b *Bleve) query(q Query) query.Query {
	var text query.Query
	switch q.Mode {
	case ModeMoreLikeThis:
		terms := likeTerms(q.Text)
		clauses := make([]query.Query, 0, len(terms))
		for _, t := range terms {
			m := bleve.NewMatchQuery(t)
			m.SetField(b.field)
			clauses = append(clauses, m)
		}
		if len(clauses) == 0 {
			text = bleve.NewMatchNoneQuery()
			break
		}
		d := bleve.NewDisjunctionQuery(clauses...)
		d.SetMin(1)
		text = d
	default:
		m := bleve.NewMatchQuery(q.Text)
		m.SetField(b.field)
		text = m
	}
	if q.Site == "" {
		return text
	}
	site := bleve.NewTermQuery(q.Site)
	site.SetField("site")
	return bleve.NewConjunctionQuery(text, site)
}

// Close closes every opened index.
func (b *Bleve) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for name, idx := range b.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", name, err))
		}
	}
	b.indexes = make(map[string]bleve.Index)
	return errors.Join(errs...)
}
