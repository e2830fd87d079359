package models

// BookingOutcome is the result of a booking negotiation. Exactly one terminal
// outcome (Accepted, Rejected, TimedOut, Errored) is ever delivered per
// correlation id; Queued may precede it and is not terminal.
type BookingOutcome string

const (
	BookingQueued   BookingOutcome = "queued"
	BookingAccepted BookingOutcome = "accepted"
	BookingRejected BookingOutcome = "rejected"
	BookingTimedOut BookingOutcome = "timed_out"
	BookingErrored  BookingOutcome = "errored"
)

// Terminal reports whether the outcome ends the negotiation.
func (o BookingOutcome) Terminal() bool {
	return o != BookingQueued
}

// BookingDetails carries everything needed to initiate a consultation booking.
type BookingDetails struct {
	AstrologerID string   `json:"astrologerId"`
	Type         string   `json:"type"` // "chat" | "call"
	Notes        string   `json:"notes,omitempty"`
	UserInfo     UserInfo `json:"userInfo"`
}

// UserInfo is the requester profile snapshot sent with an initiate message.
type UserInfo struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	BirthDate string `json:"birthDate,omitempty"`
	BirthTime string `json:"birthTime,omitempty"`
}

// BookingResult is what a negotiation yields. When Outcome is BookingQueued
// the terminal outcome has not arrived yet and will be delivered later
// through the negotiator's status-update stream.
type BookingResult struct {
	CorrelationID string         `json:"correlationId"`
	BookingID     string         `json:"bookingId,omitempty"`
	Outcome       BookingOutcome `json:"outcome"`
	Message       string         `json:"message,omitempty"`
}

// BookingStatusEvent is one entry on the independent status-update stream.
type BookingStatusEvent struct {
	BookingID string `json:"bookingId"`
	Status    string `json:"status"` // "pending" | "accepted" | "rejected"
}
