package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/candidate"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/metadata"
)

// seedRecord is one line of the seed file: a question with its engagement.
type seedRecord struct {
	ID          json.RawMessage `json:"id"`
	Site        string          `json:"site"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	AnswerCount int             `json:"answer_count"`
	Link        string          `json:"link"`
}

// seed loads JSON lines into the candidate index and the metadata store.
// It returns the number of documents indexed.
func seed(r io.Reader, index string, store *candidate.Bleve, meta *metadata.Memory) (int, error) {
	var docs []candidate.Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec seedRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return 0, fmt.Errorf("seed line %d: %w", line, err)
		}
		// ids may be numbers or strings
		id := strings.Trim(string(rec.ID), `"`)
		if id == "" || rec.Site == "" {
			continue
		}
		docs = append(docs, candidate.Document{ID: id, Site: rec.Site, Title: rec.Title, Body: rec.Body})
		meta.Put(rec.Site, metadata.Row{ID: id, EngagementCount: rec.AnswerCount, Link: rec.Link})
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("reading seed: %w", err)
	}
	if err := store.Put(index, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}
