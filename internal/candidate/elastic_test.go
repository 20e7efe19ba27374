package candidate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

func fakeElastic(t *testing.T, handler func(w http.ResponseWriter, path string, body map[string]any)) *Elastic {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		var body map[string]any
		if r.Body != nil {
			data, _ := io.ReadAll(r.Body)
			if len(data) > 0 {
				if err := json.Unmarshal(data, &body); err != nil {
					t.Errorf("invalid request body: %v", err)
				}
			}
		}
		handler(w, r.URL.Path, body)
	}))
	t.Cleanup(srv.Close)

	e, err := NewElastic(config.ElasticConfig{Addresses: []string{srv.URL}}, "body")
	if err != nil {
		t.Fatalf("NewElastic: %v", err)
	}
	return e
}

func TestElasticMatchQueryAndParse(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	e := fakeElastic(t, func(w http.ResponseWriter, path string, body map[string]any) {
		gotPath, gotBody = path, body
		io.WriteString(w, `{"hits":{"total":{"value":57},"hits":[
			{"_id":"a","_score":9.5,"_source":{"id":1234,"title":"Kafka groups"}},
			{"_id":"b","_score":3.25,"_source":{"id":"42","title":"Offsets"}},
			{"_id":"c","_score":1.0,"_source":{"title":"No stored id"}}
		]}}`)
	})

	res, err := e.Search(context.Background(), Query{
		Text: "kafka", Site: "stackoverflow", Index: "so-questions", Limit: 3, Mode: ModeMatch,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotPath != "/so-questions/_search" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["size"] != float64(3) {
		t.Errorf("size = %v", gotBody["size"])
	}
	q := gotBody["query"].(map[string]any)["bool"].(map[string]any)
	filter := q["filter"].([]any)[0].(map[string]any)["term"].(map[string]any)
	if filter["site"] != "stackoverflow" {
		t.Errorf("site filter = %v", filter)
	}
	match := q["must"].([]any)[0].(map[string]any)["match"].(map[string]any)
	if match["body"] != "kafka" {
		t.Errorf("match clause = %v", match)
	}
	source := gotBody["_source"].([]any)
	if len(source) != 2 || source[0] != "id" || source[1] != "title" {
		t.Errorf("_source = %v", source)
	}

	if res.TotalHits != 57 || len(res.Candidates) != 3 {
		t.Fatalf("result = %+v", res)
	}
	want := []Candidate{
		{ID: "1234", Title: "Kafka groups", Score: 9.5},
		{ID: "42", Title: "Offsets", Score: 3.25},
		{ID: "c", Title: "No stored id", Score: 1.0},
	}
	for i := range want {
		if res.Candidates[i] != want[i] {
			t.Errorf("candidate %d = %+v, want %+v", i, res.Candidates[i], want[i])
		}
	}
}

func TestElasticMoreLikeThisWithoutSite(t *testing.T) {
	var gotBody map[string]any
	e := fakeElastic(t, func(w http.ResponseWriter, _ string, body map[string]any) {
		gotBody = body
		io.WriteString(w, `{"hits":{"total":{"value":0},"hits":[]}}`)
	})
	if _, err := e.Search(context.Background(), Query{Text: "some text", Index: "so", Mode: ModeMoreLikeThis}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	q := gotBody["query"].(map[string]any)["bool"].(map[string]any)
	if _, ok := q["filter"]; ok {
		t.Error("filter present without site")
	}
	mlt := q["must"].([]any)[0].(map[string]any)["more_like_this"].(map[string]any)
	if mlt["min_term_freq"] != float64(1) || mlt["max_query_terms"] != float64(20) || mlt["like"] != "some text" {
		t.Errorf("more_like_this = %v", mlt)
	}
	if gotBody["size"] != float64(10) {
		t.Errorf("default size = %v", gotBody["size"])
	}
}

func TestElasticErrors(t *testing.T) {
	tests := []struct {
		status    int
		wantIndex bool
		transient bool
	}{
		{http.StatusNotFound, true, false},
		{http.StatusServiceUnavailable, false, true},
		{http.StatusBadRequest, false, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			e := fakeElastic(t, func(w http.ResponseWriter, _ string, _ map[string]any) {
				w.WriteHeader(tt.status)
				io.WriteString(w, `{"error":"x"}`)
			})
			_, err := e.Search(context.Background(), Query{Text: "x", Index: "so"})
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrUnknownIndex) != tt.wantIndex {
				t.Errorf("unknown index = %v for %v", !tt.wantIndex, err)
			}
			if apperrors.IsTransient(err) != tt.transient {
				t.Errorf("transient = %v for %v", !tt.transient, err)
			}
		})
	}
}

func TestElasticUnreachable(t *testing.T) {
	e, err := NewElastic(config.ElasticConfig{Addresses: []string{"http://127.0.0.1:1"}}, "body")
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Search(context.Background(), Query{Text: "x", Index: "so"})
	if !apperrors.IsTransient(err) || !strings.Contains(err.Error(), "elastic") {
		t.Errorf("expected transient backend error, got %v", err)
	}
}
