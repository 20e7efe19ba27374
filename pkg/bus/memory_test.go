package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

func receiveWithin(t *testing.T, sub Subscription, d time.Duration) (Message, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return sub.Receive(ctx)
}

func TestMemorySharedGroupDeliversOnce(t *testing.T) {
	b := NewMemory(0)
	defer b.Close()
	ctx := context.Background()

	a, err := b.Subscribe(ctx, "entry", "search")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	c, err := b.Subscribe(ctx, "entry", "search")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 4; i++ {
		if r := b.Publish(ctx, "entry", nil, []byte{byte(i)}); r.Err() != nil {
			t.Fatalf("publish %d: %v", i, r.Err())
		}
	}

	seen := make(map[byte]int)
	for i := 0; i < 2; i++ {
		for _, sub := range []Subscription{a, c} {
			msg, err := receiveWithin(t, sub, time.Second)
			if err != nil {
				t.Fatalf("receive: %v", err)
			}
			seen[msg.Payload[0]]++
			if err := sub.Ack(ctx, msg); err != nil {
				t.Fatalf("ack: %v", err)
			}
		}
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 distinct messages, got %v", seen)
	}
	for payload, n := range seen {
		if n != 1 {
			t.Errorf("message %d delivered %d times", payload, n)
		}
	}
	if _, err := receiveWithin(t, a, 50*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected empty group, got %v", err)
	}
}

func TestMemoryEveryGroupGetsEveryMessage(t *testing.T) {
	b := NewMemory(0)
	defer b.Close()
	ctx := context.Background()

	first, _ := b.Subscribe(ctx, "terminal", "gateway-a")
	second, _ := b.Subscribe(ctx, "terminal", "gateway-b")
	b.Publish(ctx, "terminal", []byte("room"), []byte("hello"))

	for _, sub := range []Subscription{first, second} {
		msg, err := receiveWithin(t, sub, time.Second)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if string(msg.Payload) != "hello" || string(msg.Key) != "room" {
			t.Errorf("unexpected message %+v", msg)
		}
	}
}

func TestMemoryBacklogGoesToFirstGroup(t *testing.T) {
	b := NewMemory(0)
	defer b.Close()
	ctx := context.Background()

	b.Publish(ctx, "entry", nil, []byte("early"))
	sub, _ := b.Subscribe(ctx, "entry", "search")

	msg, err := receiveWithin(t, sub, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(msg.Payload) != "early" {
		t.Errorf("expected backlog message, got %q", msg.Payload)
	}
}

func TestMemoryRedeliversUnacked(t *testing.T) {
	b := NewMemory(30 * time.Millisecond)
	defer b.Close()
	ctx := context.Background()

	sub, _ := b.Subscribe(ctx, "mid", "curation")
	b.Publish(ctx, "mid", nil, []byte("x"))

	first, err := receiveWithin(t, sub, time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	again, err := receiveWithin(t, sub, time.Second)
	if err != nil {
		t.Fatalf("expected redelivery, got %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("redelivered id %s, want %s", again.ID, first.ID)
	}
	if err := sub.Ack(ctx, again); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if _, err := receiveWithin(t, sub, 100*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("acked message delivered again: %v", err)
	}
}

func TestMemoryCloseUnblocksReceive(t *testing.T) {
	b := NewMemory(0)
	ctx := context.Background()
	sub, _ := b.Subscribe(ctx, "entry", "search")

	errCh := make(chan error, 1)
	go func() {
		_, err := sub.Receive(ctx)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receive did not return after close")
	}
	if r := b.Publish(ctx, "entry", nil, nil); r.Status() != StatusFailed {
		t.Errorf("publish after close: status %s", r.Status())
	}
}

func TestReceiptLifecycle(t *testing.T) {
	r := NewReceipt()
	if r.Status() != StatusPending || r.ID() != "" {
		t.Fatalf("fresh receipt should be pending")
	}

	observed := make(chan Status, 1)
	Observe(r, func(r *Receipt) { observed <- r.Status() })

	r.Resolve("topic/0/7", nil)
	r.Resolve("ignored", errors.New("late"))

	select {
	case s := <-observed:
		if s != StatusOK {
			t.Errorf("observed status %s", s)
		}
	case <-time.After(time.Second):
		t.Fatal("observer not called")
	}
	if r.ID() != "topic/0/7" || r.Err() != nil {
		t.Errorf("unexpected receipt state id=%q err=%v", r.ID(), r.Err())
	}
}

func TestPublishFailuresWrapPublishFailed(t *testing.T) {
	b := NewMemory(0)
	b.Close()
	r := b.Publish(context.Background(), "entry", nil, []byte("x"))
	if r.Status() != StatusFailed {
		t.Fatalf("status = %s", r.Status())
	}
	if !errors.Is(r.Err(), apperrors.ErrPublishFailed) || !errors.Is(r.Err(), ErrClosed) {
		t.Errorf("err = %v", r.Err())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	live := NewMemory(0)
	defer live.Close()
	r = live.Publish(ctx, "entry", nil, []byte("x"))
	if !errors.Is(r.Err(), apperrors.ErrPublishFailed) || !errors.Is(r.Err(), context.Canceled) {
		t.Errorf("err = %v", r.Err())
	}
}
