package analytics

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
)

// Collector buffers latency events and publishes them to the analytics topic
// from a single goroutine so delivery to clients never waits on the bus.
type Collector struct {
	pub     bus.Publisher
	topic   string
	metrics *metrics.Metrics
	eventCh chan LatencyEvent
	logger  *slog.Logger
	done    chan struct{}
}

func NewCollector(pub bus.Publisher, topic string, bufferSize int, m *metrics.Metrics) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		pub:     pub,
		topic:   topic,
		metrics: m,
		eventCh: make(chan LatencyEvent, bufferSize),
		logger:  slog.Default().With("component", "analytics-collector"),
		done:    make(chan struct{}),
	}
}

// Start launches the publish loop. Buffered events are drained when ctx is
// cancelled or Close is called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case ev, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, ev)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "topic", c.topic, "buffer_size", cap(c.eventCh))
}

// Track queues ev, dropping it when the buffer is full.
func (c *Collector) Track(ev LatencyEvent) {
	select {
	case c.eventCh <- ev:
	default:
		c.logger.Warn("latency event dropped (buffer full)", "room", ev.Room)
	}
}

// Close stops accepting events and waits for the loop to finish.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case ev, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), ev)
		default:
			return
		}
	}
}

func (c *Collector) publish(ctx context.Context, ev LatencyEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("failed to encode latency event", "error", err)
		return
	}
	receipt := c.pub.Publish(ctx, c.topic, []byte(ev.Room), payload)
	bus.Observe(receipt, func(r *bus.Receipt) {
		c.metrics.PublishTotal.WithLabelValues(c.topic, string(r.Status())).Inc()
		if err := r.Err(); err != nil {
			c.logger.Error("failed to publish latency event", "error", err)
		}
	})
}
