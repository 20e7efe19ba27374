// Package candidate queries full-text engines for items related to a piece
// of free text. Every backend returns candidates in the engine's own rank
// order with its own opaque relevance score.
package candidate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

// Mode selects how the query text is matched against the indexed field.
type Mode string

const (
	// ModeMatch is a full-text match on the configured field.
	ModeMatch Mode = "match"
	// ModeMoreLikeThis treats the text as a sample document and searches for
	// similar ones.
	ModeMoreLikeThis Mode = "mlt"
)

// More-like-this parameters shared by every backend that emulates it.
const (
	mltMinTermFreq   = 1
	mltMaxQueryTerms = 20
)

// DefaultFields are the only document fields the pipeline reads back.
var DefaultFields = []string{"id", "title"}

// ErrUnknownIndex is returned when the target index does not exist.
var ErrUnknownIndex = errors.New("unknown index")

// ParseMode validates a configured match mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMatch, ModeMoreLikeThis:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown match mode %q", apperrors.ErrInvalidInput, s)
	}
}

// Query is one candidate lookup. Site, when set, is always applied as an
// exact filter.
type Query struct {
	Text   string
	Site   string
	Index  string
	Fields []string
	Limit  int
	Mode   Mode
}

// Candidate is a single hit.
type Candidate struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Result is a ranked hit list plus the engine's total hit count.
type Result struct {
	Candidates []Candidate `json:"candidates"`
	TotalHits  int         `json:"total_hits"`
}

// Store is a full-text search backend.
type Store interface {
	Search(ctx context.Context, q Query) (*Result, error)
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 10
	}
	return q.Limit
}

func (q Query) fields() []string {
	if len(q.Fields) == 0 {
		return DefaultFields
	}
	return q.Fields
}

// likeTerms splits text into the distinct lower-cased terms used to emulate
// more-like-this, capped at mltMaxQueryTerms in order of first appearance.
func likeTerms(text string) []string {
	counts := make(map[string]int)
	var order []string
	for _, t := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if counts[t] == 0 {
			order = append(order, t)
		}
		counts[t]++
	}
	terms := make([]string, 0, len(order))
	for _, t := range order {
		if counts[t] < mltMinTermFreq {
			continue
		}
		terms = append(terms, t)
		if len(terms) == mltMaxQueryTerms {
			break
		}
	}
	return terms
}

func isSeparator(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return false
	}
	return !strings.ContainsRune("_#+", r)
}
