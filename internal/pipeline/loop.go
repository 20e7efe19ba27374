// Package pipeline runs the consume loop shared by the search and curation
// stages: receive, decode, stamp, process, stamp, publish, acknowledge.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/tracing"
)

// Outcome classifies how a stage handled an envelope.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	// OutcomeDegraded means a backend failed and the envelope was forwarded
	// with whatever could be computed.
	OutcomeDegraded  Outcome = "degraded"
	OutcomeMalformed Outcome = "malformed"
)

// Processor mutates an envelope in place. It must not fail: backend errors
// are absorbed and reported as OutcomeDegraded.
type Processor interface {
	Process(ctx context.Context, env *envelope.Envelope) Outcome
}

// Loop consumes one topic and forwards processed envelopes to another.
type Loop struct {
	stage     string
	sub       bus.Subscription
	pub       bus.Publisher
	outTopic  string
	processor Processor
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func New(stage string, sub bus.Subscription, pub bus.Publisher, outTopic string, p Processor, m *metrics.Metrics) *Loop {
	return &Loop{
		stage:     stage,
		sub:       sub,
		pub:       pub,
		outTopic:  outTopic,
		processor: p,
		metrics:   m,
		logger:    slog.Default().With("component", stage+"-stage"),
		now:       time.Now,
	}
}

// Run handles messages until ctx is cancelled or the subscription closes.
// No single message can stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("stage started", "out_topic", l.outTopic)
	for {
		msg, err := l.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
				l.logger.Info("stage stopping", "reason", err)
				return nil
			}
			l.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}
		l.Handle(ctx, msg)
	}
}

// Handle processes a single delivery. The message is acknowledged once the
// forward publish has been issued, whether or not it later succeeds.
func (l *Loop) Handle(ctx context.Context, msg bus.Message) {
	start := l.now()
	defer func() {
		l.metrics.StageDuration.WithLabelValues(l.stage).Observe(time.Since(start).Seconds())
	}()

	env, err := envelope.Decode(msg.Payload)
	if err != nil {
		l.metrics.EnvelopesTotal.WithLabelValues(l.stage, string(OutcomeMalformed)).Inc()
		l.logger.Warn("dropping malformed envelope", "message_id", msg.ID, "error", err)
		l.ack(ctx, msg)
		return
	}

	ctx = logger.WithEnvelope(ctx, env.Room, env.SequenceID)
	ctx, span := tracing.StartSpan(ctx, l.stage, tracing.TraceID(env.Room, env.SequenceID))
	log := logger.FromContext(ctx, l.logger)
	log.Debug("envelope received", "message_id", msg.ID, "text", env.Text, "site", env.Site)

	env.Stamp(start)
	outcome := l.processor.Process(ctx, env)
	env.Stamp(l.now())
	l.metrics.EnvelopesTotal.WithLabelValues(l.stage, string(outcome)).Inc()
	l.metrics.SuggestionsCount.WithLabelValues(l.stage).Observe(float64(len(env.Suggestions)))

	l.publish(ctx, env, log)
	l.ack(ctx, msg)

	span.SetAttr("outcome", string(outcome))
	span.SetAttr("suggestions", len(env.Suggestions))
	span.End()
	span.Log(l.logger)
}

func (l *Loop) publish(ctx context.Context, env *envelope.Envelope, log *slog.Logger) {
	_, span := tracing.StartChildSpan(ctx, "publish")
	defer span.End()
	span.SetAttr("topic", l.outTopic)

	payload, err := env.Encode()
	if err != nil {
		log.Error("encoding envelope failed", "error", err)
		return
	}
	receipt := l.pub.Publish(ctx, l.outTopic, []byte(env.Room), payload)
	Observe(receipt, l.outTopic, l.metrics, log)
}

func (l *Loop) ack(ctx context.Context, msg bus.Message) {
	if err := l.sub.Ack(ctx, msg); err != nil {
		l.logger.Error("acknowledge failed", "message_id", msg.ID, "error", err)
	}
}

// Observe logs and counts the outcome of a publish without waiting for it.
func Observe(receipt *bus.Receipt, topic string, m *metrics.Metrics, log *slog.Logger) {
	bus.Observe(receipt, func(r *bus.Receipt) {
		m.PublishTotal.WithLabelValues(topic, string(r.Status())).Inc()
		if err := r.Err(); err != nil {
			log.Error("publish failed", "topic", topic, "error", err)
			return
		}
		log.Debug("published", "topic", topic, "message_id", r.ID(), "status", r.Status())
	})
}
