package store

import (
	"context"
	"errors"
	"time"

	"github.com/warrenwl/chatrelay/internal/model/chat"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

// Store is the single source of truth for sessions and messages. It must
// tolerate concurrent mutation from many connections and the sweeper; the
// conditional operations (TouchSession, CloseSession, SweepStatus) never
// move a closed session out of the closed state.
type Store interface {
	// CreateSession provisions a new active session for the visitor.
	CreateSession(ctx context.Context, visitorID string, metadata map[string]any) (chat.Session, error)

	// GetSession returns the session or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (chat.Session, error)

	// LatestOpenSession returns the most recently created non-closed session
	// for the visitor, or ErrSessionNotFound if none exists.
	LatestOpenSession(ctx context.Context, visitorID string) (chat.Session, error)

	// TouchSession forces status active and sets last-activity to now.
	// Returns ErrSessionClosed without writing if the session is closed.
	TouchSession(ctx context.Context, id string, now time.Time) error

	// CloseSession sets status closed and last-activity to now. Returns
	// ErrSessionClosed if the session is already closed.
	CloseSession(ctx context.Context, id string, now time.Time) error

	// AppendMessage persists a message, assigning ID and CreatedAt when unset,
	// and returns the stored copy.
	AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error)

	// ListMessages returns up to limit of the newest messages for the session
	// in ascending creation order. limit <= 0 means no bound.
	ListMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error)

	// SweepStatus moves every session whose status is in from and whose
	// last-activity is before olderThan to the target status, returning the
	// number of sessions changed.
	SweepStatus(ctx context.Context, from []chat.Status, olderThan time.Time, to chat.Status) (int64, error)
}
