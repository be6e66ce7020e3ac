// Package ws owns the real-time protocol: it maps each WebSocket connection
// to exactly one session, replays durable history, and dispatches the three
// inbound event kinds for the lifetime of the connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/warrenwl/chatrelay/internal/model/chat"
	chatservice "github.com/warrenwl/chatrelay/internal/service/chat"
	"github.com/warrenwl/chatrelay/internal/service/responder"
	"github.com/warrenwl/chatrelay/internal/store"
)

// Handler upgrades connections and runs the per-connection event loop. Each
// connection gets its own read-loop goroutine, so a slow responder call only
// ever stalls the connection that asked for it.
type Handler struct {
	chatSvc   *chatservice.Service
	responder responder.Responder
	registry  *registry
	upgrader  websocket.Upgrader
}

// New creates the connection manager.
func New(chatSvc *chatservice.Service, rsp responder.Responder) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		responder: rsp,
		registry:  newRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the upgrade endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	visitorID := strings.TrimSpace(r.URL.Query().Get("visitorId"))
	if visitorID == "" {
		http.Error(w, "visitorId is required", http.StatusBadRequest)
		return
	}
	claimedID := strings.TrimSpace(r.URL.Query().Get("sessionId"))

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	c := &conn{ws: socket, visitorID: visitorID}
	defer func() {
		if c.sessionID != "" {
			h.registry.remove(c.sessionID, c)
		}
		_ = socket.Close()
	}()

	// In-flight work must survive a client disconnect.
	ctx := context.WithoutCancel(r.Context())

	session, err := h.chatSvc.Resolve(ctx, visitorID, claimedID)
	if err != nil {
		log.Printf("[ws] session resolution failed for visitor=%s: %v", visitorID, err)
		c.sendError("failed to resolve session")
		return
	}

	// Register before announcing so an immediate client message is not lost.
	c.sessionID = session.ID
	h.registry.add(session.ID, c)

	if err := c.send(sessionEvent{
		Type:      eventSession,
		SessionID: session.ID,
		VisitorID: session.VisitorID,
		Status:    session.Status,
	}); err != nil {
		log.Printf("[ws] announce session=%s: %v", session.ID, err)
		return
	}

	if history, err := h.chatSvc.History(ctx, session.ID); err != nil {
		log.Printf("[ws] load history for session=%s: %v", session.ID, err)
	} else if len(history) > 0 {
		messages := make([]wireMessage, 0, len(history))
		for _, msg := range history {
			messages = append(messages, toWireMessage(msg))
		}
		if err := c.send(historyEvent{Type: eventHistory, Messages: messages}); err != nil {
			log.Printf("[ws] replay history for session=%s: %v", session.ID, err)
			return
		}
	}

	if err := h.chatSvc.Touch(ctx, session.ID); err != nil {
		log.Printf("[ws] touch session=%s on connect: %v", session.ID, err)
	}

	h.readLoop(ctx, c)
}

// readLoop processes inbound events strictly in arrival order for this
// connection. Other connections run their own loops concurrently.
func (h *Handler) readLoop(ctx context.Context, c *conn) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[ws] connection for visitor=%s dropped: %v", c.visitorID, err)
			}
			return
		}

		var event inboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.sendError("malformed event")
			continue
		}

		switch event.Type {
		case eventMessage:
			h.handleMessage(ctx, c, event)
		case eventHeartbeat:
			h.handleHeartbeat(ctx, c, event)
		case eventEndSession:
			h.handleEndSession(ctx, c, event)
		default:
			c.sendError("unknown event type")
		}
	}
}

// resolveTarget applies the session id precedence: event override first,
// then the connection-bound id.
func (c *conn) resolveTarget(event inboundEvent) string {
	if event.SessionID != "" {
		return event.SessionID
	}
	return c.sessionID
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, event inboundEvent) {
	content := strings.TrimSpace(event.Content)
	if content == "" {
		return
	}

	sessionID := c.resolveTarget(event)
	if sessionID == "" {
		c.sendError("no session for this connection")
		return
	}

	// Closed is sticky; re-check right before accepting content.
	session, err := h.chatSvc.Get(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		c.send(statusEvent{Type: eventStatus, Status: chat.StatusClosed})
		return
	}
	if err != nil {
		log.Printf("[ws] load session=%s: %v", sessionID, err)
		c.sendError("failed to load session")
		return
	}
	if !session.Open() {
		c.send(statusEvent{Type: eventStatus, Status: chat.StatusClosed})
		return
	}

	userMsg, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.SenderUser, content)
	if err != nil {
		log.Printf("[ws] save user message for session=%s: %v", sessionID, err)
		c.sendError("failed to save message")
		return
	}
	h.registry.broadcast(sessionID, messageEvent{Type: eventMessage, wireMessage: toWireMessage(userMsg)})

	if err := h.chatSvc.Touch(ctx, sessionID); err != nil {
		log.Printf("[ws] touch session=%s: %v", sessionID, err)
	}

	history, err := h.chatSvc.History(ctx, sessionID)
	if err != nil {
		log.Printf("[ws] load trailing window for session=%s: %v", sessionID, err)
		history = nil
	}

	// May block up to the responder timeout; only this connection waits.
	reply := h.responder.Reply(ctx, sessionID, content, history, event.Metadata)

	botMsg, err := h.chatSvc.SaveMessage(ctx, sessionID, chat.SenderBot, reply)
	if err != nil {
		log.Printf("[ws] save bot message for session=%s: %v", sessionID, err)
		c.sendError("failed to save reply")
		return
	}
	h.registry.broadcast(sessionID, messageEvent{Type: eventMessage, wireMessage: toWireMessage(botMsg)})
}

// handleHeartbeat refreshes activity silently. Heartbeats are best-effort:
// failures are logged, never surfaced.
func (h *Handler) handleHeartbeat(ctx context.Context, c *conn, event inboundEvent) {
	sessionID := c.resolveTarget(event)
	if sessionID == "" {
		return
	}
	if err := h.chatSvc.Touch(ctx, sessionID); err != nil {
		log.Printf("[ws] heartbeat for session=%s: %v", sessionID, err)
	}
}

func (h *Handler) handleEndSession(ctx context.Context, c *conn, event inboundEvent) {
	sessionID := c.resolveTarget(event)
	if sessionID == "" {
		return
	}

	// Already-closed still gets the notification and unbind.
	if err := h.chatSvc.Close(ctx, sessionID); err != nil && !errors.Is(err, store.ErrSessionClosed) {
		log.Printf("[ws] end session=%s: %v", sessionID, err)
		c.sendError("failed to end session")
		return
	}

	if err := c.send(sessionClosedEvent{
		Type:      eventSessionClosed,
		SessionID: sessionID,
		Message:   chatservice.ClosingNotice,
	}); err != nil {
		log.Printf("[ws] notify closure for session=%s: %v", sessionID, err)
	}

	if c.sessionID == sessionID {
		h.registry.remove(sessionID, c)
		c.sessionID = ""
	}
}
