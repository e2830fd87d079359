package models

// ConnectionState describes the lifecycle of the persistent channel.
type ConnectionState int

const (
	ConnIdle ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnReconnecting
	ConnFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s ConnectionState) Terminal() bool {
	return s == ConnFailed
}

// SessionIdentity identifies the consultation a channel belongs to.
type SessionIdentity struct {
	BookingID string `json:"bookingId"`
	RoomID    string `json:"roomId"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}
