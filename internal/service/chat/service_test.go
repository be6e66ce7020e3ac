package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/warrenwl/chatrelay/internal/model/chat"
	chatservice "github.com/warrenwl/chatrelay/internal/service/chat"
	"github.com/warrenwl/chatrelay/internal/store"
)

func TestResolveCreatesForUnknownVisitor(t *testing.T) {
	svc := chatservice.NewService(store.NewMemory(), 0)
	ctx := context.Background()

	session, err := svc.Resolve(ctx, "visitor-1", "")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected a fresh session id")
	}
	if session.Status != chat.StatusActive {
		t.Fatalf("expected active status, got %s", session.Status)
	}
	if session.VisitorID != "visitor-1" {
		t.Fatalf("unexpected visitor: %s", session.VisitorID)
	}
}

func TestResolveReusesClaimedSession(t *testing.T) {
	svc := chatservice.NewService(store.NewMemory(), 0)
	ctx := context.Background()

	created, err := svc.Create(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	got, err := svc.Resolve(ctx, "visitor-1", created.ID)
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("expected reuse of %s, got %s", created.ID, got.ID)
	}
}

func TestResolveIgnoresClosedClaim(t *testing.T) {
	svc := chatservice.NewService(store.NewMemory(), 0)
	ctx := context.Background()

	closed, err := svc.Create(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if err := svc.Close(ctx, closed.ID); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	got, err := svc.Resolve(ctx, "visitor-1", closed.ID)
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if got.ID == closed.ID {
		t.Fatal("resolution must not reuse a closed session")
	}
	if got.Status != chat.StatusActive {
		t.Fatalf("expected active replacement, got %s", got.Status)
	}
}

func TestResolveFallsBackToLatestOpen(t *testing.T) {
	svc := chatservice.NewService(store.NewMemory(), 0)
	ctx := context.Background()

	open, err := svc.Create(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	got, err := svc.Resolve(ctx, "visitor-1", "no-such-session")
	if err != nil {
		t.Fatalf("Resolve err: %v", err)
	}
	if got.ID != open.ID {
		t.Fatalf("expected fallback to open session %s, got %s", open.ID, got.ID)
	}
}

func TestCloseAppendsSystemMessage(t *testing.T) {
	svc := chatservice.NewService(store.NewMemory(), 0)
	ctx := context.Background()

	session, err := svc.Create(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	if err := svc.Close(ctx, session.ID); err != nil {
		t.Fatalf("Close err: %v", err)
	}

	history, err := svc.History(ctx, session.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single system message, got %d", len(history))
	}
	if history[0].Sender != chat.SenderSystem {
		t.Fatalf("expected system sender, got %s", history[0].Sender)
	}
	if history[0].Content != chatservice.ClosingNotice {
		t.Fatalf("unexpected closing content: %q", history[0].Content)
	}

	if err := svc.Close(ctx, session.ID); !errors.Is(err, store.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on re-close, got %v", err)
	}
}

func TestHistoryBoundedToPageSize(t *testing.T) {
	svc := chatservice.NewService(store.NewMemory(), 2)
	ctx := context.Background()

	session, err := svc.Create(ctx, "visitor-1", nil)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	for _, content := range []string{"one", "two", "three"} {
		if _, err := svc.SaveMessage(ctx, session.ID, chat.SenderUser, content); err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
	}

	history, err := svc.History(ctx, session.ID)
	if err != nil {
		t.Fatalf("History err: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected trailing window of 2, got %d", len(history))
	}
	if history[0].Content != "two" || history[1].Content != "three" {
		t.Fatalf("unexpected window order: %v", history)
	}
}
