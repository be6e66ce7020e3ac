package chat

import (
	"context"
	"errors"
	"time"

	"github.com/warrenwl/chatrelay/internal/model/chat"
	"github.com/warrenwl/chatrelay/internal/store"
)

// ClosingNotice is the human-readable text persisted and sent on closure.
const ClosingNotice = "The conversation has ended."

// DefaultHistoryPage bounds history replay and the trailing window handed to
// the responder.
const DefaultHistoryPage = 50

// Service mediates session lifecycle and message persistence over the store.
type Service struct {
	store       store.Store
	historyPage int
}

// NewService wires the chat service onto a store.
func NewService(st store.Store, historyPage int) *Service {
	if historyPage <= 0 {
		historyPage = DefaultHistoryPage
	}
	return &Service{store: st, historyPage: historyPage}
}

// Resolve binds a connection to exactly one session. The claimed session id
// wins when it names a non-closed session, then the visitor's most recent
// non-closed session, then a fresh session. Both inputs are advisory
// client-supplied values, never a trust boundary.
func (s *Service) Resolve(ctx context.Context, visitorID, claimedID string) (chat.Session, error) {
	if claimedID != "" {
		session, err := s.store.GetSession(ctx, claimedID)
		if err == nil && session.Open() {
			return session, nil
		}
		if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
			return chat.Session{}, err
		}
	}

	session, err := s.store.LatestOpenSession(ctx, visitorID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return chat.Session{}, err
	}

	return s.store.CreateSession(ctx, visitorID, nil)
}

// Create provisions a new session for the visitor regardless of existing ones.
func (s *Service) Create(ctx context.Context, visitorID string, metadata map[string]any) (chat.Session, error) {
	return s.store.CreateSession(ctx, visitorID, metadata)
}

// Get returns the session by id.
func (s *Service) Get(ctx context.Context, id string) (chat.Session, error) {
	return s.store.GetSession(ctx, id)
}

// History returns the trailing window of the session's messages, ascending.
func (s *Service) History(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, sessionID, s.historyPage)
}

// SaveMessage persists a turn for the session.
func (s *Service) SaveMessage(ctx context.Context, sessionID string, sender chat.Sender, content string) (chat.Message, error) {
	return s.store.AppendMessage(ctx, chat.Message{
		SessionID: sessionID,
		Sender:    sender,
		Content:   content,
	})
}

// Touch marks the session active with refreshed last-activity.
func (s *Service) Touch(ctx context.Context, sessionID string) error {
	return s.store.TouchSession(ctx, sessionID, time.Now().UTC())
}

// Close terminates the session and appends the system turn that marks the
// end of the conversation. The closed status is the source of truth; the
// system message is best-effort on top of it.
func (s *Service) Close(ctx context.Context, sessionID string) error {
	if err := s.store.CloseSession(ctx, sessionID, time.Now().UTC()); err != nil {
		return err
	}
	_, err := s.SaveMessage(ctx, sessionID, chat.SenderSystem, ClosingNotice)
	return err
}
