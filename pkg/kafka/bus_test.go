package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/bus"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/segmentio/kafka-go"
)

func TestCompletionResolvesReceipts(t *testing.T) {
	b := New(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	defer b.Close()

	ok := bus.NewReceipt()
	other := bus.NewReceipt()
	b.complete([]kafka.Message{
		{Topic: "curate-topic", Partition: 2, Offset: 41, WriterData: ok},
		{Topic: "curate-topic", Partition: 0, Offset: 7, WriterData: other},
		{Topic: "curate-topic"},
	}, nil)

	if ok.Status() != bus.StatusOK || ok.ID() != "curate-topic/2/41" {
		t.Errorf("receipt = %s %q", ok.Status(), ok.ID())
	}
	if other.ID() != "curate-topic/0/7" {
		t.Errorf("second receipt id = %q", other.ID())
	}
}

func TestCompletionFailure(t *testing.T) {
	b := New(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	defer b.Close()

	r := bus.NewReceipt()
	cause := errors.New("leader not available")
	b.complete([]kafka.Message{{Topic: "suggest-topic", WriterData: r}}, cause)

	if r.Status() != bus.StatusFailed {
		t.Fatalf("status = %s", r.Status())
	}
	if !errors.Is(r.Err(), cause) || !errors.Is(r.Err(), apperrors.ErrPublishFailed) {
		t.Errorf("err = %v", r.Err())
	}
}

func TestSubscribeRequiresGroup(t *testing.T) {
	b := New(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	defer b.Close()
	if _, err := b.Subscribe(context.Background(), "suggest-topic", ""); err == nil {
		t.Fatal("expected error without group")
	}
}

func TestAckRejectsForeignMessage(t *testing.T) {
	s := &subscription{}
	err := s.Ack(context.Background(), bus.Message{ID: "suggest-topic:1", Token: "not-kafka"})
	if err == nil {
		t.Fatal("expected error for non-kafka token")
	}
}
