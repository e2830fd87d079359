package realtime

import (
	"context"
	"time"

	"astroconnect/config"
	"astroconnect/models"
)

// ConnectionManager owns the persistent channel for one consultation
// identity. An instance outlives screen navigation: it is created when a
// consultation-bearing screen first mounts and destroyed only on logout or
// app exit, so the channel survives moves between consecutive bookings.
type ConnectionManager interface {
	// Initialize binds the session identity and makes the first connect
	// attempt. Transport failures feed the backoff policy and return nil;
	// an auth failure is fatal and returned immediately.
	Initialize(ctx context.Context, identity models.SessionIdentity) error
	// Send delivers env now if connected, otherwise queues it in the outbox.
	Send(env models.Envelope) error
	// SendChat wraps content in a send_message envelope with a fresh client
	// id, applies the best-effort ack policy, and returns the optimistic
	// local message.
	SendChat(content string) (models.ChatMessage, error)
	// NotifyAppLifecycle reacts to foreground/background transitions.
	NotifyAppLifecycle(foreground bool)
	State() models.ConnectionState
	Events() *Events
	// Done is closed on Shutdown so in-flight waits can reject as cancelled.
	Done() <-chan struct{}
	Shutdown()
}

// Config carries the channel policy knobs.
type Config struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
	DialTimeout time.Duration
	AckTimeout  time.Duration
	JoinGrace   time.Duration
	TypingClear time.Duration
}

// DefaultConfig builds the policy from the loaded application config.
func DefaultConfig() Config {
	return Config{
		BackoffBase: config.ReconnectBase(),
		BackoffCap:  config.ReconnectCap(),
		MaxAttempts: config.AppConfig.ReconnectMaxRetries,
		DialTimeout: 10 * time.Second,
		AckTimeout:  time.Duration(config.AppConfig.SendAckTimeoutMs) * time.Millisecond,
		JoinGrace:   time.Duration(config.AppConfig.RoomJoinGraceMs) * time.Millisecond,
		TypingClear: 5 * time.Second,
	}
}
