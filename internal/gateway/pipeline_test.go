package gateway_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/candidate"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/curation"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/gateway"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/search"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/resilience"
)

type chanConn chan *envelope.Envelope

func (c chanConn) Send(event string, data any) error {
	if env, ok := data.(*envelope.Envelope); ok {
		c <- env.Clone()
	}
	return nil
}

type harness struct {
	gw       *gateway.Gateway
	sessions *gateway.Sessions
}

func startPipeline(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	b := bus.NewMemory(time.Second)
	m := metrics.NewNop()

	store := candidate.NewBleve("", "body")
	err := store.Put("so-questions", []candidate.Document{
		{ID: "1", Site: "stackoverflow", Title: "Kafka consumer groups", Body: "kafka consumer group rebalance"},
		{ID: "2", Site: "stackoverflow", Title: "Kafka partitions", Body: "kafka partitions and ordering"},
		{ID: "3", Site: "stackoverflow", Title: "Go channels", Body: "buffered channels in go"},
		{ID: "4", Site: "superuser", Title: "Kafka on Windows", Body: "running kafka on windows"},
	})
	if err != nil {
		t.Fatalf("seed index: %v", err)
	}
	meta := metadata.NewMemory()
	meta.Put("stackoverflow",
		metadata.Row{ID: "1", EngagementCount: 0, Link: "https://stackoverflow.com/q/1"},
		metadata.Row{ID: "2", EngagementCount: 9, Link: "https://stackoverflow.com/q/2"},
	)

	searchSub, err := b.Subscribe(ctx, "suggest-topic", "search-stage")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	curateSub, err := b.Subscribe(ctx, "curate-topic", "curation-stage")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	terminalSub, err := b.Subscribe(ctx, "suggestions-topic", "gateway")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	searchStage := search.New(store, resilience.NewCircuitBreaker("bleve", resilience.BreakerConfig{Timeout: time.Second}),
		search.Options{Backend: "bleve", DefaultIndex: "so-questions", Limit: 10}, m)
	curationStage := curation.New(meta, resilience.NewCircuitBreaker("metadata", resilience.BreakerConfig{Timeout: time.Second}), m)

	go pipeline.New("search", searchSub, b, "curate-topic", searchStage, m).Run(ctx)
	go pipeline.New("curation", curateSub, b, "suggestions-topic", curationStage, m).Run(ctx)

	sessions := gateway.NewSessions(m)
	gw := gateway.New(gateway.NewBusDispatcher(b, terminalSub, "suggest-topic", m), sessions,
		gateway.Options{ResponseEvent: "suggestions-list"}, m)

	t.Cleanup(func() {
		cancel()
		gw.Close()
		b.Close()
		store.Close()
	})
	return &harness{gw: gw, sessions: sessions}
}

func (h *harness) connect() (string, chanConn) {
	conn := make(chanConn, 16)
	sid := h.sessions.Add(conn)
	h.gw.OnConnect(sid)
	return sid, conn
}

func await(t *testing.T, conn chanConn) *envelope.Envelope {
	t.Helper()
	select {
	case env := <-conn:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no suggestions delivered")
		return nil
	}
}

func TestPipelineDeliversCuratedSuggestionsToRoom(t *testing.T) {
	h := startPipeline(t)
	sid, conn := h.connect()

	start := float64(time.Now().Add(-time.Millisecond).UnixNano()) / 1e9
	payload := fmt.Sprintf(`{"text":"kafka","site":"stackoverflow","sequence_id":1,"timestamps":[%f]}`, start)
	if err := h.gw.OnClientRequest(context.Background(), sid, []byte(payload)); err != nil {
		t.Fatalf("OnClientRequest: %v", err)
	}

	env := await(t, conn)
	if env.Room != sid {
		t.Fatalf("room = %q, want %q", env.Room, sid)
	}
	if len(env.Timestamps) != 7 {
		t.Fatalf("timestamps = %v", env.Timestamps)
	}
	for i := 1; i < len(env.Timestamps); i++ {
		if env.Timestamps[i] < env.Timestamps[i-1] {
			t.Errorf("timestamps decrease at %d: %v", i, env.Timestamps)
		}
	}
	if len(env.Suggestions) != 2 {
		t.Fatalf("suggestions = %+v", env.Suggestions)
	}
	if env.Suggestions[0].ID != "2" || env.Suggestions[0].Link != "https://stackoverflow.com/q/2" {
		t.Errorf("engagement did not rank id 2 first: %+v", env.Suggestions)
	}
	for i := 1; i < len(env.Suggestions); i++ {
		if env.Suggestions[i].Score > env.Suggestions[i-1].Score {
			t.Errorf("suggestions not sorted: %+v", env.Suggestions)
		}
	}
}

func TestPipelineUnknownSiteDeliversEmpty(t *testing.T) {
	h := startPipeline(t)
	sid, conn := h.connect()

	if err := h.gw.OnClientRequest(context.Background(), sid, []byte(`{"text":"kafka","site":"nosuchsite"}`)); err != nil {
		t.Fatalf("OnClientRequest: %v", err)
	}
	env := await(t, conn)
	if env.Room != sid || len(env.Suggestions) != 0 || env.TotalHits != 0 {
		t.Errorf("envelope = %+v", env)
	}
	if env.Timestamps != nil {
		t.Errorf("untimed request came back stamped: %v", env.Timestamps)
	}
}

func TestPipelineKeepsRoomsApart(t *testing.T) {
	h := startPipeline(t)
	const clients = 5
	sids := make([]string, clients)
	conns := make([]chanConn, clients)
	for i := range sids {
		sids[i], conns[i] = h.connect()
	}
	for i, sid := range sids {
		payload := fmt.Sprintf(`{"text":"kafka","site":"stackoverflow","sequence_id":%d}`, i)
		if err := h.gw.OnClientRequest(context.Background(), sid, []byte(payload)); err != nil {
			t.Fatalf("OnClientRequest: %v", err)
		}
	}
	for i, conn := range conns {
		env := await(t, conn)
		if env.Room != sids[i] || env.SequenceID != int64(i) {
			t.Errorf("client %d got room %s sequence %d", i, env.Room, env.SequenceID)
		}
	}
}

func TestPipelineDropsStaleRoom(t *testing.T) {
	h := startPipeline(t)
	sid, _ := h.connect()
	if err := h.gw.OnClientRequest(context.Background(), sid, []byte(`{"text":"kafka","site":"stackoverflow"}`)); err != nil {
		t.Fatalf("OnClientRequest: %v", err)
	}
	h.sessions.Remove(sid)

	other, conn := h.connect()
	if err := h.gw.OnClientRequest(context.Background(), other, []byte(`{"text":"go","site":"stackoverflow"}`)); err != nil {
		t.Fatalf("OnClientRequest: %v", err)
	}
	if env := await(t, conn); env.Room != other {
		t.Errorf("room = %s", env.Room)
	}
}
