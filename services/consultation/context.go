package consultation

import (
	"context"
	"time"

	"astroconnect/models"
	"astroconnect/services/backend"
	"astroconnect/services/booking"
	"astroconnect/services/chat"
	"astroconnect/services/realtime"
	"astroconnect/services/session"
	"astroconnect/utils"

	"go.uber.org/zap"
)

// Context is the session-scoped object owning the live consultation
// subsystem. It replaces the source's process-wide mutable connection
// handle: collaborators receive the instance explicitly, tests inject
// fakes, and nothing hangs off package-level state. One Context lives from
// login to logout, surviving navigation between consecutive bookings.
type Context struct {
	Conn        realtime.ConnectionManager
	Negotiator  booking.Negotiator
	Timers      session.TimerService
	Transcripts chat.TranscriptService
	Backend     backend.Client

	// Host-facing registries for timer notifications; bound once so screen
	// remounts subscribe and unsubscribe without touching the services.
	TimerTicks  *realtime.Registry[models.TimerState]
	Warnings    *realtime.Registry[models.WarningInfo]
	SessionEnds *realtime.Registry[models.SessionEndInfo]

	log  *zap.Logger
	subs []*realtime.Subscription
}

func NewContext(conn realtime.ConnectionManager, negotiator booking.Negotiator, timers session.TimerService, transcripts chat.TranscriptService, api backend.Client) *Context {
	return &Context{
		Conn:        conn,
		Negotiator:  negotiator,
		Timers:      timers,
		Transcripts: transcripts,
		Backend:     api,
		TimerTicks:  realtime.NewRegistry[models.TimerState](),
		Warnings:    realtime.NewRegistry[models.WarningInfo](),
		SessionEnds: realtime.NewRegistry[models.SessionEndInfo](),
		log:         utils.GetLogger(),
	}
}

// Bind wires the cross-component reactions and must be called once before
// Initialize on the connection manager.
func (c *Context) Bind() {
	events := c.Conn.Events()

	// Server's session-start signal: seed the billing timer with the
	// current wallet balance.
	c.subs = append(c.subs, events.SessionTimer.Subscribe(func(payload models.SessionTimerPayload) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		balance, err := c.Backend.WalletBalance(ctx)
		if err != nil {
			c.log.Warn("Wallet balance read failed, seeding timer with zero", zap.Error(err))
		}
		err = c.Timers.Start(ctx, payload.SessionID, payload.DurationSeconds, balance, payload.RatePerMinute, c.timerCallbacks())
		if err != nil {
			c.log.Warn("Timer start rejected", zap.String("sessionId", payload.SessionID), zap.Error(err))
		}
	}))

	// Server's session-end signal: stop billing, flush the transcript
	// durably, tell the host.
	c.subs = append(c.subs, events.SessionEnd.Subscribe(func(payload models.ConsultationEndedPayload) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		info := models.SessionEndInfo{
			SessionID: payload.SessionID,
			Reason:    "ended_by_" + payload.EndedBy,
			EndedBy:   payload.EndedBy,
		}
		if final, err := c.Timers.Stop(ctx, payload.SessionID); err == nil {
			info.Billed = final.CurrentAmount
		}
		c.Transcripts.Flush(ctx, payload.SessionID)
		c.SessionEnds.Publish(info)
	}))

	// On every (re)connect reconcile the cached transcript with the
	// backend's history.
	c.subs = append(c.subs, events.ConnectionStatus.Subscribe(func(status realtime.StatusChange) {
		if status.State != models.ConnConnected || status.Message != "" {
			return
		}
		go c.reconcileHistory()
	}))
}

func (c *Context) timerCallbacks() session.Callbacks {
	return session.Callbacks{
		OnTick:    c.TimerTicks.Publish,
		OnWarning: c.Warnings.Publish,
		OnEnd:     c.SessionEnds.Publish,
	}
}

// ResumeTimer re-attaches host callbacks after a cold start.
func (c *Context) ResumeTimer(ctx context.Context, sessionID string) error {
	return c.Timers.Resume(ctx, sessionID, c.timerCallbacks())
}

func (c *Context) reconcileHistory() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sessionID := c.sessionID()
	if sessionID == "" {
		return
	}
	history, err := c.Backend.ChatHistory(ctx, sessionID)
	if err != nil {
		c.log.Warn("History reconcile skipped", zap.String("sessionId", sessionID), zap.Error(err))
		return
	}
	merged := c.Transcripts.MergeRemote(ctx, sessionID, history)
	c.log.Debug("Transcript reconciled",
		zap.String("sessionId", sessionID), zap.Int("messages", len(merged)))
}

func (c *Context) sessionID() string {
	// The manager owns the authoritative identity; the context only reads
	// it through the exposed state, so keep a tiny interface seam here.
	type identified interface{ Identity() models.SessionIdentity }
	if m, ok := c.Conn.(identified); ok {
		return m.Identity().SessionID
	}
	return ""
}

// NotifyAppLifecycle fans the host's lifecycle signal out to every
// lifecycle-aware component.
func (c *Context) NotifyAppLifecycle(foreground bool) {
	c.Conn.NotifyAppLifecycle(foreground)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if foreground {
		c.Timers.OnForeground(ctx)
	} else {
		c.Timers.OnBackground(ctx)
	}
}

// Close tears the subsystem down on logout or app exit. Durable timer
// records are left in place so a restart can resume them.
func (c *Context) Close() {
	for _, sub := range c.subs {
		sub.Cancel()
	}
	c.subs = nil
	c.Conn.Shutdown()
}
