package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Memory is an in-process Bus. Each (topic, group) pair is a FIFO queue;
// a message is handed to one receiver of the group and, if not acknowledged
// within the redelivery timeout, queued again. Messages published while a
// topic has no group are retained for the first group that subscribes.
type Memory struct {
	mu         sync.Mutex
	topics     map[string]*memTopic
	redelivery time.Duration
	seq        uint64
	closed     bool
	done       chan struct{}
	logger     *slog.Logger
}

type memTopic struct {
	groups  map[string]*memGroup
	backlog []Message
}

type memGroup struct {
	queue    []Message
	inflight map[string]time.Time
	pending  map[string]Message
	wait     chan struct{}
}

// NewMemory creates an in-process bus. A zero redelivery disables
// redelivery of unacknowledged messages.
func NewMemory(redelivery time.Duration) *Memory {
	return &Memory{
		topics:     make(map[string]*memTopic),
		redelivery: redelivery,
		done:       make(chan struct{}),
		logger:     slog.Default().With("component", "memory-bus"),
	}
}

func (m *Memory) topic(name string) *memTopic {
	t, ok := m.topics[name]
	if !ok {
		t = &memTopic{groups: make(map[string]*memGroup)}
		m.topics[name] = t
	}
	return t
}

// Publish enqueues payload for every group of topic. The receipt resolves
// before Publish returns.
func (m *Memory) Publish(ctx context.Context, topic string, key, payload []byte) *Receipt {
	if err := ctx.Err(); err != nil {
		return FailedReceipt(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return FailedReceipt(ErrClosed)
	}
	m.seq++
	msg := Message{
		ID:      fmt.Sprintf("%s:%d", topic, m.seq),
		Topic:   topic,
		Key:     append([]byte(nil), key...),
		Payload: append([]byte(nil), payload...),
	}
	t := m.topic(topic)
	if len(t.groups) == 0 {
		t.backlog = append(t.backlog, msg)
	}
	for _, g := range t.groups {
		g.queue = append(g.queue, msg)
		g.signal()
	}
	r := NewReceipt()
	r.Resolve(msg.ID, nil)
	return r
}

// Subscribe joins group on topic, creating the group if needed.
func (m *Memory) Subscribe(ctx context.Context, topic, group string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	t := m.topic(topic)
	g, ok := t.groups[group]
	if !ok {
		g = &memGroup{
			inflight: make(map[string]time.Time),
			pending:  make(map[string]Message),
			wait:     make(chan struct{}),
		}
		if len(t.groups) == 0 {
			g.queue = t.backlog
			t.backlog = nil
		}
		t.groups[group] = g
		m.logger.Debug("group created", "topic", topic, "group", group, "backlog", len(g.queue))
	}
	return &memSubscription{bus: m, group: g, closed: make(chan struct{})}, nil
}

// Close wakes every blocked receiver with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (g *memGroup) signal() {
	close(g.wait)
	g.wait = make(chan struct{})
}

func (g *memGroup) requeueExpired(now time.Time) {
	for id, deadline := range g.inflight {
		if now.Before(deadline) {
			continue
		}
		g.queue = append(g.queue, g.pending[id])
		delete(g.inflight, id)
		delete(g.pending, id)
	}
}

type memSubscription struct {
	bus       *Memory
	group     *memGroup
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *memSubscription) Receive(ctx context.Context) (Message, error) {
	m := s.bus
	for {
		m.mu.Lock()
		select {
		case <-s.closed:
			m.mu.Unlock()
			return Message{}, ErrClosed
		default:
		}
		if m.closed {
			m.mu.Unlock()
			return Message{}, ErrClosed
		}
		g := s.group
		now := time.Now()
		if m.redelivery > 0 {
			g.requeueExpired(now)
		}
		if len(g.queue) > 0 {
			msg := g.queue[0]
			g.queue = g.queue[1:]
			if m.redelivery > 0 {
				g.inflight[msg.ID] = now.Add(m.redelivery)
				g.pending[msg.ID] = msg
			}
			m.mu.Unlock()
			msg.Token = g
			return msg, nil
		}
		wait := g.wait
		m.mu.Unlock()

		if err := s.wait(ctx, wait); err != nil {
			return Message{}, err
		}
	}
}

// wait blocks until the group is signalled, the redelivery interval passes,
// or the subscription can no longer deliver.
func (s *memSubscription) wait(ctx context.Context, signalled <-chan struct{}) error {
	var recheck <-chan time.Time
	if s.bus.redelivery > 0 {
		timer := time.NewTimer(s.bus.redelivery)
		defer timer.Stop()
		recheck = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrClosed
	case <-s.bus.done:
		return ErrClosed
	case <-signalled:
	case <-recheck:
	}
	return nil
}

func (s *memSubscription) Ack(ctx context.Context, msg Message) error {
	g, ok := msg.Token.(*memGroup)
	if !ok || g != s.group {
		return fmt.Errorf("acknowledging %s: message not received on this subscription", msg.ID)
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, inflight := g.inflight[msg.ID]; inflight {
		delete(g.inflight, msg.ID)
		delete(g.pending, msg.ID)
		return nil
	}
	// A late ack for a message that was already handed out again.
	for i, queued := range g.queue {
		if queued.ID == msg.ID {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
