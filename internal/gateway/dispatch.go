package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/envelope"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
)

// BusDispatcher publishes requests to the entry topic and consumes finished
// envelopes from the terminal topic.
type BusDispatcher struct {
	pub        bus.Publisher
	sub        bus.Subscription
	entryTopic string
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

// NewBusDispatcher publishes on entryTopic and delivers what arrives on sub.
func NewBusDispatcher(pub bus.Publisher, sub bus.Subscription, entryTopic string, m *metrics.Metrics) *BusDispatcher {
	return &BusDispatcher{
		pub:        pub,
		sub:        sub,
		entryTopic: entryTopic,
		metrics:    m,
		logger:     slog.Default().With("component", "bus-dispatcher"),
		now:        time.Now,
	}
}

// Dispatch publishes env keyed by its room without waiting for the broker.
func (d *BusDispatcher) Dispatch(ctx context.Context, env *envelope.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	receipt := d.pub.Publish(ctx, d.entryTopic, []byte(env.Room), payload)
	pipeline.Observe(receipt, d.entryTopic, d.metrics, d.logger.With("room", env.Room))
	return nil
}

// Start launches the single terminal-topic consumer.
func (d *BusDispatcher) Start(ctx context.Context, sink Sink) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.consume(ctx, sink)
	}()
}

func (d *BusDispatcher) consume(ctx context.Context, sink Sink) {
	d.logger.Info("terminal consumer started")
	for {
		msg, err := d.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
				d.logger.Info("terminal consumer stopping", "reason", err)
				return
			}
			d.logger.Error("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}

		env, err := envelope.Decode(msg.Payload)
		if err != nil {
			d.metrics.DeliveriesTotal.WithLabelValues("malformed").Inc()
			d.logger.Warn("dropping malformed envelope", "message_id", msg.ID, "error", err)
			d.ack(ctx, msg)
			continue
		}
		env.Stamp(d.now())
		d.ack(ctx, msg)
		sink.Deliver(ctx, env)
	}
}

func (d *BusDispatcher) ack(ctx context.Context, msg bus.Message) {
	if err := d.sub.Ack(ctx, msg); err != nil {
		d.logger.Error("acknowledge failed", "message_id", msg.ID, "error", err)
	}
}

// Close closes the subscription and waits for the consumer to exit.
func (d *BusDispatcher) Close() error {
	err := d.sub.Close()
	d.wg.Wait()
	return err
}

// LoopbackDispatcher answers every request with synthetic suggestions and
// never touches the bus.
type LoopbackDispatcher struct {
	count int
	link  string
	now   func() time.Time

	mu   sync.RWMutex
	sink Sink
}

func NewLoopbackDispatcher(count int, link string) *LoopbackDispatcher {
	return &LoopbackDispatcher{count: count, link: link, now: time.Now}
}

// Start records sink; loopback has nothing to run in the background.
func (d *LoopbackDispatcher) Start(_ context.Context, sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Dispatch fills env with count suggestions titled text+i and delivers it
// immediately.
func (d *LoopbackDispatcher) Dispatch(ctx context.Context, env *envelope.Envelope) error {
	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()
	if sink == nil {
		return errors.New("loopback dispatcher not started")
	}

	env.Suggestions = make([]envelope.Suggestion, d.count)
	for i := range env.Suggestions {
		env.Suggestions[i] = envelope.Suggestion{
			ID:    strconv.Itoa(i),
			Title: env.Text + strconv.Itoa(i),
			Score: float64(i),
			Link:  d.link,
		}
	}
	env.TotalHits = d.count
	env.Stamp(d.now())
	sink.Deliver(ctx, env)
	return nil
}

func (d *LoopbackDispatcher) Close() error { return nil }
