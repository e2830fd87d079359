package models

import (
	"time"
)

// DuplicateWindow is the timestamp tolerance under which two messages from
// the same sender with the same content are considered the same message.
// Covers the optimistic-UI echo case where the server assigns a fresh id.
const DuplicateWindow = 5 * time.Second

// ChatMessage is the single normalized message shape used past the ingress
// boundary. Wire payloads with redundant content fields are collapsed into
// Content before anything else sees them.
type ChatMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SameAs reports whether m and other denote the same logical message:
// identical id, or same sender and content within DuplicateWindow.
func (m ChatMessage) SameAs(other ChatMessage) bool {
	if m.ID != "" && m.ID == other.ID {
		return true
	}
	if m.SenderID != other.SenderID || m.Content != other.Content {
		return false
	}
	diff := m.Timestamp.Sub(other.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	return diff <= DuplicateWindow
}

// Transcript is an ordered, timestamp-ascending list of messages for one session.
type Transcript []ChatMessage
