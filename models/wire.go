package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Channel event names. These mirror the backend's event vocabulary exactly.
const (
	EventInitiateBooking     = "initiate_booking"
	EventBookingInitiated    = "booking_initiated"
	EventBookingError        = "booking_error"
	EventBookingStatusUpdate = "booking_status_update"
	EventJoinRoom            = "join_consultation_room"
	EventSendMessage         = "send_message"
	EventMessageAck          = "message_ack"
	EventReceiveMessage      = "receive_message"
	EventTypingStarted       = "typing_started"
	EventTypingStopped       = "typing_stopped"
	EventSessionTimer        = "session_timer"
	EventSessionEnd          = "session_end"
	EventConsultationEnded   = "consultation_ended"
)

// Envelope is the single framing for every channel message, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into a ready-to-send envelope.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty %s payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// InitiateBookingPayload starts a booking negotiation.
type InitiateBookingPayload struct {
	CorrelationID string   `json:"correlationId"`
	AstrologerID  string   `json:"astrologerId"`
	Type          string   `json:"type"`
	Notes         string   `json:"notes,omitempty"`
	UserInfo      UserInfo `json:"userInfo"`
}

// BookingInitiatedPayload acknowledges a created booking. Status "queued"
// means the astrologer is currently unreachable and the terminal decision
// will arrive on the status-update stream.
type BookingInitiatedPayload struct {
	CorrelationID string `json:"correlationId"`
	BookingID     string `json:"bookingId"`
	Status        string `json:"status,omitempty"`
}

// BookingErrorPayload is an explicit server rejection of an initiate request.
type BookingErrorPayload struct {
	CorrelationID string `json:"correlationId"`
	Message       string `json:"message"`
}

// BookingStatusUpdatePayload is one event on the independent status stream.
type BookingStatusUpdatePayload struct {
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
}

// JoinRoomPayload announces room membership for the current session. Sent on
// every successful (re)connect; idempotent server-side.
type JoinRoomPayload struct {
	BookingID string `json:"bookingId"`
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

// SendMessagePayload carries an outbound chat message.
type SendMessagePayload struct {
	RoomID    string    `json:"roomId"`
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageAckPayload acknowledges a sent message.
type MessageAckPayload struct {
	MessageID string `json:"messageId"`
	Success   bool   `json:"success"`
}

// ReceiveMessagePayload is an inbound chat message as the backend frames it.
// Older backend builds populate Content, Text and Message redundantly; the
// shape is normalized once at ingress and never propagates inward.
type ReceiveMessagePayload struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content,omitempty"`
	Text      string    `json:"text,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Normalize collapses the redundant content fields into a single ChatMessage.
func (p ReceiveMessagePayload) Normalize() ChatMessage {
	content := p.Content
	if content == "" {
		content = p.Text
	}
	if content == "" {
		content = p.Message
	}
	return ChatMessage{
		ID:        p.ID,
		SenderID:  p.SenderID,
		Content:   content,
		Timestamp: p.Timestamp,
	}
}

// TypingPayload signals the counterparty's typing state.
type TypingPayload struct {
	BookingID string `json:"bookingId"`
	SenderID  string `json:"senderId,omitempty"`
}

// SessionTimerPayload is the server's session-start signal.
type SessionTimerPayload struct {
	BookingID       string  `json:"bookingId"`
	SessionID       string  `json:"sessionId"`
	DurationSeconds int     `json:"durationSeconds"`
	RatePerMinute   float64 `json:"ratePerMinute"`
}

// ConsultationEndedPayload is the server's session-end signal.
type ConsultationEndedPayload struct {
	BookingID   string         `json:"bookingId"`
	SessionID   string         `json:"sessionId"`
	EndedBy     string         `json:"endedBy"`
	SessionData map[string]any `json:"sessionData,omitempty"`
}
