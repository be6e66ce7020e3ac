package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warrenwl/chatrelay/internal/model/chat"
)

// Memory is a mutex-guarded in-process Store suitable for development and
// tests. Single-node only; durable deployments use the Redis store.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
}

// NewMemory bootstraps an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
	}
}

func (m *Memory) CreateSession(_ context.Context, visitorID string, metadata map[string]any) (chat.Session, error) {
	now := time.Now().UTC()
	session := chat.Session{
		ID:           uuid.NewString(),
		VisitorID:    visitorID,
		Status:       chat.StatusActive,
		Metadata:     metadata,
		LastActiveAt: now,
		CreatedAt:    now,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.messages[session.ID] = make([]chat.Message, 0, 16)
	m.mu.Unlock()

	return session, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (m *Memory) LatestOpenSession(_ context.Context, visitorID string) (chat.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest chat.Session
	found := false
	for _, session := range m.sessions {
		if session.VisitorID != visitorID || !session.Open() {
			continue
		}
		if !found || session.CreatedAt.After(latest.CreatedAt) {
			latest = session
			found = true
		}
	}
	if !found {
		return chat.Session{}, ErrSessionNotFound
	}
	return latest, nil
}

func (m *Memory) TouchSession(_ context.Context, id string, now time.Time) error {
	return m.setStatus(id, chat.StatusActive, now)
}

func (m *Memory) CloseSession(_ context.Context, id string, now time.Time) error {
	return m.setStatus(id, chat.StatusClosed, now)
}

func (m *Memory) setStatus(id string, status chat.Status, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if !session.Open() {
		return ErrSessionClosed
	}

	session.Status = status
	session.LastActiveAt = now.UTC()
	m.sessions[id] = session
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[msg.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], msg)
	return msg, nil
}

func (m *Memory) ListMessages(_ context.Context, sessionID string, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages, ok := m.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return slices.Clone(messages), nil
}

func (m *Memory) SweepStatus(_ context.Context, from []chat.Status, olderThan time.Time, to chat.Status) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed int64
	for id, session := range m.sessions {
		if !session.LastActiveAt.Before(olderThan) {
			continue
		}
		if !slices.Contains(from, session.Status) {
			continue
		}
		session.Status = to
		m.sessions[id] = session
		changed++
	}
	return changed, nil
}
