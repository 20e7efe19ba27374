package gateway

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/related-suggestions/pkg/metrics"
)

// Conn is the write side of one client connection. Send must not wait on
// the network.
type Conn interface {
	Send(event string, data any) error
}

// Sessions maps session ids to live connections. The session id doubles as
// the room of every envelope the session sends.
type Sessions struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewSessions(m *metrics.Metrics) *Sessions {
	return &Sessions{
		conns:   make(map[string]Conn),
		metrics: m,
		logger:  slog.Default().With("component", "sessions"),
	}
}

// Add registers conn under a fresh random id.
func (s *Sessions) Add(conn Conn) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.conns[id] = conn
	n := len(s.conns)
	s.mu.Unlock()
	s.metrics.ActiveSessions.Set(float64(n))
	s.logger.Debug("session opened", "sid", id, "active", n)
	return id
}

func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	n := len(s.conns)
	s.mu.Unlock()
	s.metrics.ActiveSessions.Set(float64(n))
	s.logger.Debug("session closed", "sid", id, "active", n)
}

// Emit sends event to the session named by room. It returns
// ErrSessionGone when the session has disconnected.
func (s *Sessions) Emit(room, event string, data any) error {
	s.mu.RLock()
	conn, ok := s.conns[room]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("room %s: %w", room, apperrors.ErrSessionGone)
	}
	return conn.Send(event, data)
}

func (s *Sessions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
