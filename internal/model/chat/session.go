package chat

import "time"

// Status is the activity lifecycle state of a session.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusClosed:
		return true
	}
	return false
}

// Session is a durable conversation thread between one visitor and the bot.
// Status ages from active to inactive to closed; inbound activity re-activates
// any non-closed session. Closed is terminal.
type Session struct {
	ID           string         `json:"id"`
	VisitorID    string         `json:"visitorId"`
	Status       Status         `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LastActiveAt time.Time      `json:"lastActiveAt"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Open reports whether the session still accepts activity.
func (s Session) Open() bool {
	return s.Status != StatusClosed
}
