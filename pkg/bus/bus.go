// Package bus defines the publish/subscribe primitive the pipeline stages
// and the gateway are written against. A Subscription is a shared
// (competing-consumers) subscription: every message published to a topic is
// handed to exactly one subscriber per group. Publishing is asynchronous and
// reports completion through a Receipt.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
)

// ErrClosed is returned by Receive once the subscription or bus is closed.
var ErrClosed = errors.New("bus: subscription closed")

// Message is a single delivery read from a topic.
type Message struct {
	ID      string
	Topic   string
	Key     []byte
	Payload []byte

	// Token is the adapter-specific handle needed to acknowledge the message.
	Token any
}

// Subscription is a pull-based consumer bound to one topic and group.
type Subscription interface {
	// Receive blocks until a message is available, ctx is cancelled, or the
	// subscription is closed.
	Receive(ctx context.Context) (Message, error)
	// Ack marks msg as processed. Unacknowledged messages are eligible for
	// redelivery.
	Ack(ctx context.Context, msg Message) error
	Close() error
}

// Publisher sends payloads without waiting for broker confirmation.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) *Receipt
}

// Bus is the full capability set: publish plus grouped subscriptions.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, topic, group string) (Subscription, error)
	Close() error
}

// Status is the delivery outcome carried by a resolved Receipt.
type Status string

const (
	StatusPending Status = "pending"
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
)

// Receipt is the completion handle of an asynchronous publish. It is
// resolved exactly once by the adapter.
type Receipt struct {
	done chan struct{}
	once sync.Once
	id   string
	err  error
}

// NewReceipt returns an unresolved Receipt.
func NewReceipt() *Receipt {
	return &Receipt{done: make(chan struct{})}
}

// FailedReceipt returns a Receipt already resolved with err.
func FailedReceipt(err error) *Receipt {
	r := NewReceipt()
	r.Resolve("", err)
	return r
}

// Resolve records the broker-assigned id or the failure. Failures are
// wrapped in ErrPublishFailed. Calls after the first are ignored.
func (r *Receipt) Resolve(id string, err error) {
	if err != nil && !errors.Is(err, apperrors.ErrPublishFailed) {
		err = fmt.Errorf("%w: %w", apperrors.ErrPublishFailed, err)
	}
	r.once.Do(func() {
		r.id = id
		r.err = err
		close(r.done)
	})
}

// Done is closed once the receipt is resolved.
func (r *Receipt) Done() <-chan struct{} {
	return r.done
}

// ID returns the broker message id, empty until resolved or on failure.
func (r *Receipt) ID() string {
	select {
	case <-r.done:
		return r.id
	default:
		return ""
	}
}

// Err returns the publish failure, if any.
func (r *Receipt) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Status reports pending, ok or failed.
func (r *Receipt) Status() Status {
	select {
	case <-r.done:
		if r.err != nil {
			return StatusFailed
		}
		return StatusOK
	default:
		return StatusPending
	}
}

// Observe invokes fn once r resolves, on its own goroutine, so callers can
// log or count deliveries without waiting on them.
func Observe(r *Receipt, fn func(*Receipt)) {
	go func() {
		<-r.done
		fn(r)
	}()
}
