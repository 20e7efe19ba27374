// Package kafka implements bus.Bus on top of segmentio/kafka-go. Publishing
// goes through a single asynchronous writer shared by every topic; each
// subscription is a consumer-group reader whose acknowledgements are offset
// commits.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	"github.com/segmentio/kafka-go"
)

// Bus publishes and consumes pipeline topics on a Kafka cluster.
type Bus struct {
	brokers []string
	writer  *kafka.Writer
	logger  *slog.Logger
}

// New creates a Bus for the configured brokers. No connection is made until
// the first publish or fetch.
func New(cfg config.KafkaConfig) *Bus {
	b := &Bus{
		brokers: cfg.Brokers,
		logger:  slog.Default().With("component", "kafka-bus"),
	}
	b.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireAll,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion:             b.complete,
	}
	return b
}

// Publish enqueues payload on topic and returns immediately. The receipt is
// resolved by the writer once the batch holding the message is acknowledged
// or has failed.
func (b *Bus) Publish(ctx context.Context, topic string, key, payload []byte) *bus.Receipt {
	receipt := bus.NewReceipt()
	msg := kafka.Message{
		Topic:      topic,
		Key:        key,
		Value:      payload,
		WriterData: receipt,
	}
	// In async mode WriteMessages only fails when the writer is closed or the
	// message is rejected before batching.
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.logger.Error("failed to enqueue message", "topic", topic, "error", err)
		receipt.Resolve("", fmt.Errorf("publishing to %s: %w", topic, err))
	}
	return receipt
}

// complete is the writer's Completion callback.
func (b *Bus) complete(messages []kafka.Message, err error) {
	for _, msg := range messages {
		receipt, ok := msg.WriterData.(*bus.Receipt)
		if !ok {
			continue
		}
		if err != nil {
			receipt.Resolve("", fmt.Errorf("publishing to %s: %w", msg.Topic, err))
			continue
		}
		receipt.Resolve(MessageID(msg), nil)
	}
	if err != nil {
		b.logger.Error("batch delivery failed", "count", len(messages), "error", err)
		return
	}
	b.logger.Debug("batch delivered", "count", len(messages))
}

// Subscribe starts a consumer-group reader on topic. Readers sharing a group
// split the topic's partitions between them.
func (b *Bus) Subscribe(ctx context.Context, topic, group string) (bus.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if group == "" {
		return nil, errors.New("kafka: subscription requires a consumer group")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.brokers,
		Topic:       topic,
		GroupID:     group,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     250 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	b.logger.Info("subscribed", "topic", topic, "group", group)
	return &subscription{
		reader: r,
		logger: b.logger.With("topic", topic, "group", group),
	}, nil
}

// Close flushes pending writes and closes the writer. Subscriptions are
// closed by their owners.
func (b *Bus) Close() error {
	return b.writer.Close()
}

// Ping dials the first reachable broker. Used by health checks and startup
// retries.
func (b *Bus) Ping(ctx context.Context) error {
	var lastErr error
	for _, addr := range b.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

// MessageID formats the broker coordinates of msg.
func MessageID(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

type subscription struct {
	reader *kafka.Reader
	logger *slog.Logger
}

func (s *subscription) Receive(ctx context.Context) (bus.Message, error) {
	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return bus.Message{}, bus.ErrClosed
		}
		return bus.Message{}, err
	}
	s.logger.Debug("message received",
		"partition", msg.Partition,
		"offset", msg.Offset,
		"key", string(msg.Key),
		"value_size", len(msg.Value),
	)
	return bus.Message{
		ID:      MessageID(msg),
		Topic:   msg.Topic,
		Key:     msg.Key,
		Payload: msg.Value,
		Token:   msg,
	}, nil
}

func (s *subscription) Ack(ctx context.Context, msg bus.Message) error {
	km, ok := msg.Token.(kafka.Message)
	if !ok {
		return fmt.Errorf("acknowledging %s: not a kafka message", msg.ID)
	}
	if err := s.reader.CommitMessages(ctx, km); err != nil {
		return fmt.Errorf("committing %s: %w", msg.ID, err)
	}
	return nil
}

func (s *subscription) Close() error {
	return s.reader.Close()
}
