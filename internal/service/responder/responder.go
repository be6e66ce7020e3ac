package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/buger/jsonparser"

	"github.com/warrenwl/chatrelay/internal/model/chat"
)

// Apology is returned whenever a reply cannot be produced. Callers always
// receive a string; downstream failure is invisible at the protocol level
// beyond the apologetic content itself.
const Apology = "Sorry, I'm having trouble coming up with a reply right now. Please try again in a moment."

// DefaultTimeout bounds a single reply round-trip.
const DefaultTimeout = 60 * time.Second

// Responder turns the current user utterance plus a trailing history window
// into a single reply string. Implementations never return an error.
type Responder interface {
	Reply(ctx context.Context, sessionID, message string, history []chat.Message, metadata map[string]any) string
}

// replyFields is the ordered set of conventional fields probed for the reply
// text before falling back to the raw body.
var replyFields = []string{"reply", "response", "message", "text"}

// HTTP posts the conversation tuple to an external brain endpoint.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP builds a brain client for the endpoint. A non-positive timeout
// falls back to DefaultTimeout.
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type brainRequest struct {
	SessionID string         `json:"sessionId"`
	Message   string         `json:"message"`
	History   []brainTurn    `json:"history"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type brainTurn struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func (h *HTTP) Reply(ctx context.Context, sessionID, message string, history []chat.Message, metadata map[string]any) string {
	payload := brainRequest{
		SessionID: sessionID,
		Message:   message,
		History:   make([]brainTurn, 0, len(history)),
		Metadata:  metadata,
	}
	for _, msg := range history {
		payload.History = append(payload.History, brainTurn{
			Sender:  string(msg.Sender),
			Content: msg.Content,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[responder] marshal request for session=%s: %v", sessionID, err)
		return Apology
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		log.Printf("[responder] build request for session=%s: %v", sessionID, err)
		return Apology
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		log.Printf("[responder] brain call failed for session=%s: %v", sessionID, err)
		return Apology
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[responder] read brain response for session=%s: %v", sessionID, err)
		return Apology
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[responder] brain returned status=%d for session=%s", resp.StatusCode, sessionID)
		return Apology
	}

	return extractReply(raw)
}

// extractReply probes the conventional reply fields in order, then falls back
// to the whole body rendered as text.
func extractReply(raw []byte) string {
	for _, field := range replyFields {
		if value, err := jsonparser.GetString(raw, field); err == nil {
			if value = strings.TrimSpace(value); value != "" {
				return value
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return Apology
}
