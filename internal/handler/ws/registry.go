package ws

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// conn is the per-transport state: visitor identity, at most one bound
// session id, the socket. Only the read loop mutates sessionID; writeMu
// serializes writes because broadcasts arrive from other goroutines.
type conn struct {
	ws        *websocket.Conn
	visitorID string
	sessionID string

	writeMu sync.Mutex
}

func (c *conn) send(event any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(event)
}

func (c *conn) sendError(message string) {
	if err := c.send(errorEvent{Type: eventError, Message: message}); err != nil {
		log.Printf("[ws] write error event: %v", err)
	}
}

// registry tracks which connections are associated with each session so
// persisted messages reach every tab and observer, not just the sender.
type registry struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]struct{}
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]map[*conn]struct{})}
}

func (r *registry) add(sessionID string, c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[sessionID]
	if !ok {
		set = make(map[*conn]struct{})
		r.conns[sessionID] = set
	}
	set[c] = struct{}{}
}

func (r *registry) remove(sessionID string, c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[sessionID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, sessionID)
	}
}

// broadcast delivers the event to every connection associated with the
// session. Delivery failures affect only the broken connection.
func (r *registry) broadcast(sessionID string, event any) {
	r.mu.RLock()
	targets := make([]*conn, 0, len(r.conns[sessionID]))
	for c := range r.conns[sessionID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(event); err != nil {
			log.Printf("[ws] broadcast to session=%s failed: %v", sessionID, err)
		}
	}
}
