package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/warrenwl/chatrelay/internal/model/chat"
)

func TestMemoryCreateAndGetSession(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	session, err := st.CreateSession(ctx, "visitor-1", map[string]any{"page": "/pricing"})
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.Status != chat.StatusActive {
		t.Fatalf("expected active status, got %s", session.Status)
	}

	got, err := st.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.VisitorID != "visitor-1" {
		t.Fatalf("unexpected visitor ID: %s", got.VisitorID)
	}
	if got.Metadata["page"] != "/pricing" {
		t.Fatalf("unexpected metadata: %v", got.Metadata)
	}

	if _, err := st.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryLatestOpenSession(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	first, err := st.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	second, err := st.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	// Creation timestamps can collide at clock resolution; force an order.
	if err := bumpCreatedAt(st, second.ID, first.CreatedAt.Add(time.Second)); err != nil {
		t.Fatalf("bumpCreatedAt err: %v", err)
	}

	got, err := st.LatestOpenSession(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("LatestOpenSession err: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("expected latest session %s, got %s", second.ID, got.ID)
	}

	if err := st.CloseSession(ctx, second.ID, time.Now()); err != nil {
		t.Fatalf("CloseSession err: %v", err)
	}
	got, err = st.LatestOpenSession(ctx, "visitor-1")
	if err != nil {
		t.Fatalf("LatestOpenSession err: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected fallback to open session %s, got %s", first.ID, got.ID)
	}

	if _, err := st.LatestOpenSession(ctx, "visitor-2"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func bumpCreatedAt(st *Memory, id string, createdAt time.Time) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	session, ok := st.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.CreatedAt = createdAt
	st.sessions[id] = session
	return nil
}

func TestMemoryClosedIsSticky(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	session, err := st.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	closedAt := time.Now().UTC()
	if err := st.CloseSession(ctx, session.ID, closedAt); err != nil {
		t.Fatalf("CloseSession err: %v", err)
	}

	if err := st.TouchSession(ctx, session.ID, time.Now()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from touch, got %v", err)
	}
	if err := st.CloseSession(ctx, session.ID, time.Now()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from re-close, got %v", err)
	}

	got, err := st.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.Status != chat.StatusClosed {
		t.Fatalf("expected closed status, got %s", got.Status)
	}
	if !got.LastActiveAt.Equal(closedAt) {
		t.Fatalf("last-activity changed after closure: %v vs %v", got.LastActiveAt, closedAt)
	}
}

func TestMemoryTouchReactivates(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	session, err := st.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	// Age the session to inactive, then touch it back.
	old := time.Now().Add(-10 * time.Minute)
	if err := st.TouchSession(ctx, session.ID, old); err != nil {
		t.Fatalf("TouchSession err: %v", err)
	}
	if _, err := st.SweepStatus(ctx, []chat.Status{chat.StatusActive}, time.Now().Add(-2*time.Minute), chat.StatusInactive); err != nil {
		t.Fatalf("SweepStatus err: %v", err)
	}

	now := time.Now().UTC()
	if err := st.TouchSession(ctx, session.ID, now); err != nil {
		t.Fatalf("TouchSession err: %v", err)
	}

	got, err := st.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession err: %v", err)
	}
	if got.Status != chat.StatusActive {
		t.Fatalf("expected active after touch, got %s", got.Status)
	}
	if !got.LastActiveAt.Equal(now) {
		t.Fatalf("expected refreshed last-activity, got %v", got.LastActiveAt)
	}
}

func TestMemoryMessagesOrderedWithWindow(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	session, err := st.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	for i, content := range []string{"one", "two", "three"} {
		_, err := st.AppendMessage(ctx, chat.Message{
			SessionID: session.ID,
			Sender:    chat.SenderUser,
			Content:   content,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("AppendMessage err: %v", err)
		}
	}

	all, err := st.ListMessages(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(all) != 3 || all[0].Content != "one" || all[2].Content != "three" {
		t.Fatalf("unexpected full history: %v", all)
	}

	window, err := st.ListMessages(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("ListMessages err: %v", err)
	}
	if len(window) != 2 || window[0].Content != "two" || window[1].Content != "three" {
		t.Fatalf("unexpected trailing window: %v", window)
	}

	if _, err := st.AppendMessage(ctx, chat.Message{SessionID: "missing", Sender: chat.SenderUser, Content: "x"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemorySweepStatus(t *testing.T) {
	st := NewMemory()
	ctx := context.Background()

	stale, err := st.CreateSession(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	fresh, err := st.CreateSession(ctx, "visitor-2", nil)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	if err := st.TouchSession(ctx, stale.ID, time.Now().Add(-5*time.Minute)); err != nil {
		t.Fatalf("TouchSession err: %v", err)
	}

	changed, err := st.SweepStatus(ctx, []chat.Status{chat.StatusActive}, time.Now().Add(-2*time.Minute), chat.StatusInactive)
	if err != nil {
		t.Fatalf("SweepStatus err: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 session swept, got %d", changed)
	}

	got, _ := st.GetSession(ctx, stale.ID)
	if got.Status != chat.StatusInactive {
		t.Fatalf("expected inactive, got %s", got.Status)
	}
	got, _ = st.GetSession(ctx, fresh.ID)
	if got.Status != chat.StatusActive {
		t.Fatalf("fresh session should stay active, got %s", got.Status)
	}

	// Sweeping again with the same predicate is a no-op.
	changed, err = st.SweepStatus(ctx, []chat.Status{chat.StatusActive}, time.Now().Add(-2*time.Minute), chat.StatusInactive)
	if err != nil {
		t.Fatalf("SweepStatus err: %v", err)
	}
	if changed != 0 {
		t.Fatalf("expected idempotent sweep, got %d changes", changed)
	}
}
