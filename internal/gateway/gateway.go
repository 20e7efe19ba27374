// Package gateway is the client-facing edge of the suggestion pipeline. It
// accepts requests from WebSocket sessions, stamps them with the session's
// room, hands them to a Dispatcher and delivers finished envelopes back to
// the session that asked.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
)

// Sink receives envelopes ready to be shown to a client.
type Sink interface {
	Deliver(ctx context.Context, env *envelope.Envelope)
}

// Dispatcher moves a client request towards its suggestions. Start begins
// background delivery into sink and is called at most once.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *envelope.Envelope) error
	Start(ctx context.Context, sink Sink)
	Close() error
}

// LatencyTracker receives timing events for delivered envelopes.
type LatencyTracker interface {
	Track(ev analytics.LatencyEvent)
}

// Options configures a Gateway.
type Options struct {
	ResponseEvent string
	MaxTextLength int
	Limiter       *RateLimiter
	// Latency is optional.
	Latency LatencyTracker
}

type Gateway struct {
	dispatcher Dispatcher
	sessions   *Sessions
	opts       Options
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	started atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(d Dispatcher, sessions *Sessions, opts Options, m *metrics.Metrics) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		dispatcher: d,
		sessions:   sessions,
		opts:       opts,
		metrics:    m,
		logger:     slog.Default().With("component", "gateway"),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// OnConnect is called for every new session. The first call starts the
// dispatcher's background delivery; later calls do nothing.
func (g *Gateway) OnConnect(sessionID string) {
	if g.started.CompareAndSwap(false, true) {
		g.logger.Info("starting delivery", "first_session", sessionID)
		g.dispatcher.Start(g.ctx, g)
	}
}

// OnDisconnect releases per-session state.
func (g *Gateway) OnDisconnect(sessionID string) {
	g.opts.Limiter.Forget(sessionID)
}

// OnClientRequest turns one client payload into a dispatched envelope. It
// returns once the envelope is handed off; suggestions arrive later through
// Deliver.
func (g *Gateway) OnClientRequest(ctx context.Context, sessionID string, payload []byte) error {
	received := g.now()
	env, err := envelope.Parse(payload)
	if err == nil {
		env.Room = sessionID
		err = env.Validate()
	}
	if err != nil {
		g.metrics.EnvelopesTotal.WithLabelValues("gateway", "malformed").Inc()
		g.logger.Warn("dropping malformed request", "sid", sessionID, "error", err)
		return err
	}

	if !g.opts.Limiter.Allow(sessionID) {
		g.metrics.DeliveriesTotal.WithLabelValues("rate_limited").Inc()
		g.logger.Warn("request rate limited", "sid", sessionID)
		return fmt.Errorf("session %s: %w", sessionID, apperrors.ErrRateLimited)
	}

	env.Truncate(g.opts.MaxTextLength)
	env.Suggestions = []envelope.Suggestion{}
	env.TotalHits = 0
	env.Stamp(received)

	ctx = logger.WithEnvelope(ctx, env.Room, env.SequenceID)
	log := logger.FromContext(ctx, g.logger)
	if err := g.dispatcher.Dispatch(ctx, env); err != nil {
		g.metrics.EnvelopesTotal.WithLabelValues("gateway", "failed").Inc()
		log.Error("dispatch failed", "error", err)
		return err
	}
	g.metrics.EnvelopesTotal.WithLabelValues("gateway", "processed").Inc()
	log.Debug("request dispatched", "text", env.Text, "site", env.Site)
	return nil
}

// Deliver emits env to its room and reports its latency. A room whose
// session has gone is counted and otherwise ignored.
func (g *Gateway) Deliver(ctx context.Context, env *envelope.Envelope) {
	ctx = logger.WithEnvelope(ctx, env.Room, env.SequenceID)
	log := logger.FromContext(ctx, g.logger)

	err := g.sessions.Emit(env.Room, g.opts.ResponseEvent, env)
	switch {
	case errors.Is(err, apperrors.ErrSessionGone):
		g.metrics.DeliveriesTotal.WithLabelValues("session_gone").Inc()
		log.Debug("session gone, dropping suggestions")
		return
	case errors.Is(err, ErrSendBufferFull):
		g.metrics.DeliveriesTotal.WithLabelValues("dropped_slow_client").Inc()
		log.Warn("client not reading, dropping suggestions")
		return
	case err != nil:
		g.metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
		log.Warn("delivery failed", "error", err)
		return
	}
	g.metrics.DeliveriesTotal.WithLabelValues("delivered").Inc()
	log.Debug("suggestions delivered", "count", len(env.Suggestions))
	g.reportLatency(env)
}

func (g *Gateway) reportLatency(env *envelope.Envelope) {
	ev, ok := analytics.NewLatencyEvent(env, g.now())
	if !ok {
		return
	}
	for hop, ms := range ev.HopsMs {
		g.metrics.HopLatency.WithLabelValues(hop).Observe(ms / 1000)
	}
	g.metrics.EndToEndLatency.Observe(ev.ElapsedMs / 1000)
	if g.opts.Latency != nil {
		g.opts.Latency.Track(ev)
	}
}

// Close stops background delivery and the dispatcher.
func (g *Gateway) Close() error {
	g.cancel()
	return g.dispatcher.Close()
}
