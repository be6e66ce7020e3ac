package ws

import (
	"time"

	"github.com/warrenwl/chatrelay/internal/model/chat"
)

// Inbound event types.
const (
	eventMessage    = "message"
	eventHeartbeat  = "heartbeat"
	eventEndSession = "endSession"
)

// Outbound event types.
const (
	eventSession       = "session"
	eventHistory       = "history"
	eventStatus        = "status"
	eventSessionClosed = "sessionClosed"
	eventError         = "error"
)

// inboundEvent is the envelope for all client events. SessionID, content and
// metadata are client-supplied and optional; resolution order for the target
// session is event override first, then the connection-bound id.
type inboundEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	Content   string         `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// wireMessage is the client-facing rendering of a persisted message.
type wireMessage struct {
	ID        string      `json:"id"`
	Sender    chat.Sender `json:"sender"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

func toWireMessage(msg chat.Message) wireMessage {
	return wireMessage{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
}

type sessionEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	VisitorID string      `json:"visitorId"`
	Status    chat.Status `json:"status"`
}

type historyEvent struct {
	Type     string        `json:"type"`
	Messages []wireMessage `json:"messages"`
}

type messageEvent struct {
	Type string `json:"type"`
	wireMessage
}

type statusEvent struct {
	Type   string      `json:"type"`
	Status chat.Status `json:"status"`
}

type sessionClosedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
