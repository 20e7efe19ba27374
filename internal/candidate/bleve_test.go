package candidate

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

func seededBleve(t *testing.T) *Bleve {
	t.Helper()
	b := NewBleve("", "body")
	t.Cleanup(func() { b.Close() })
	docs := []Document{
		{ID: "1", Site: "stackoverflow", Title: "Kafka consumer groups", Body: "how do kafka consumer groups rebalance partitions"},
		{ID: "2", Site: "stackoverflow", Title: "Go channels", Body: "buffered channels in go block when full"},
		{ID: "3", Site: "superuser", Title: "Kafka on windows", Body: "running kafka consumer on windows"},
		{ID: "42", Site: "stackoverflow", Title: "Kafka offsets", Body: "commit kafka offsets manually from a consumer"},
	}
	if err := b.Put("so-questions", docs); err != nil {
		t.Fatalf("Put: %v", err)
	}
	return b
}

func TestBleveMatchFiltersBySite(t *testing.T) {
	b := seededBleve(t)
	res, err := b.Search(context.Background(), Query{
		Text: "kafka consumer", Site: "stackoverflow", Index: "so-questions", Mode: ModeMatch,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalHits != 2 || len(res.Candidates) != 2 {
		t.Fatalf("result = %+v", res)
	}
	for _, c := range res.Candidates {
		if c.ID == "3" {
			t.Error("superuser document leaked into stackoverflow results")
		}
		if c.Title == "" || c.Score <= 0 {
			t.Errorf("incomplete candidate %+v", c)
		}
	}
	if res.Candidates[0].Score < res.Candidates[1].Score {
		t.Errorf("candidates not in rank order: %+v", res.Candidates)
	}
}

func TestBleveUnknownSiteHasNoHits(t *testing.T) {
	b := seededBleve(t)
	res, err := b.Search(context.Background(), Query{Text: "kafka", Site: "nosuchsite", Index: "so-questions"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalHits != 0 || len(res.Candidates) != 0 {
		t.Errorf("expected no hits, got %+v", res)
	}
}

func TestBleveMoreLikeThis(t *testing.T) {
	b := seededBleve(t)
	res, err := b.Search(context.Background(), Query{
		Text:  "My consumer never commits its offsets, what is wrong?",
		Site:  "stackoverflow",
		Index: "so-questions",
		Mode:  ModeMoreLikeThis,
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].ID != "42" {
		t.Errorf("expected offsets question first, got %+v", res.Candidates)
	}
	if res.TotalHits < 1 {
		t.Errorf("total hits = %d", res.TotalHits)
	}
}

func TestBleveUnknownIndex(t *testing.T) {
	b := seededBleve(t)
	_, err := b.Search(context.Background(), Query{Text: "kafka", Index: "missing"})
	if !errors.Is(err, ErrUnknownIndex) {
		t.Errorf("expected ErrUnknownIndex, got %v", err)
	}
}

func TestBlevePersistentIndex(t *testing.T) {
	dir := t.TempDir()
	b := NewBleve(dir, "body")
	if err := b.Put("so", []Document{{ID: "7", Site: "s", Title: "t", Body: "persisted body"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b.Close()

	reopened := NewBleve(dir, "body")
	defer reopened.Close()
	res, err := reopened.Search(context.Background(), Query{Text: "persisted", Index: "so"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].ID != "7" {
		t.Errorf("result = %+v", res)
	}
}

func TestLikeTerms(t *testing.T) {
	got := likeTerms("Go go GO channels, c++ and C# channels")
	want := []string{"go", "channels", "c++", "and", "c#"}
	if len(got) != len(want) {
		t.Fatalf("likeTerms = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("term %d = %q, want %q", i, got[i], want[i])
		}
	}

	many := ""
	for i := 0; i < 30; i++ {
		many += string(rune('a'+i%26)) + string(rune('a'+i/26)) + " "
	}
	if n := len(likeTerms(many)); n != mltMaxQueryTerms {
		t.Errorf("expected cap at %d terms, got %d", mltMaxQueryTerms, n)
	}
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"match", "mlt"} {
		if m, err := ParseMode(s); err != nil || string(m) != s {
			t.Errorf("ParseMode(%q) = %q, %v", s, m, err)
		}
	}
	if _, err := ParseMode("fuzzy"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("ParseMode(fuzzy) err = %v", err)
	}
}
