package session

import (
	"context"

	"astroconnect/models"
)

// Callbacks receives timer notifications. Callbacks are never persisted:
// after a cold start the caller must re-register them through Resume for
// notifications to keep working.
type Callbacks struct {
	OnTick    func(state models.TimerState)
	OnWarning func(info models.WarningInfo)
	OnEnd     func(info models.SessionEndInfo)
}

// TimerService manages billable session countdowns. All derived quantities
// are recomputed from wall-clock time, never from an accumulated counter, so
// a process suspended for an arbitrary interval bills correctly on resume.
type TimerService interface {
	Start(ctx context.Context, sessionID string, durationSeconds int, walletBalance, ratePerMinute float64, cb Callbacks) error
	Stop(ctx context.Context, sessionID string) (*models.TimerState, error)
	GetState(sessionID string) *models.TimerState
	Resume(ctx context.Context, sessionID string, cb Callbacks) error

	// OnBackground flushes every active snapshot durably.
	OnBackground(ctx context.Context)
	// OnForeground re-examines durable snapshots: already-expired timers are
	// cleaned up immediately, the rest are loaded and await Resume.
	OnForeground(ctx context.Context)
}
