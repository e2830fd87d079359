package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"astroconnect/models"
	"astroconnect/services/chat"
	"astroconnect/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Names of the timer slots the manager owns. One concern, one slot: arming
// a slot cancels whatever was pending under it.
const (
	slotReconnect = "reconnect"
	slotJoin      = "join"
)

// DefaultConnectionManager implements ConnectionManager over an injected
// Channel. All state lives behind one mutex; callbacks are always invoked
// with the mutex released so a handler can call back into the manager.
type DefaultConnectionManager struct {
	cfg         Config
	channel     Channel
	transcripts chat.TranscriptService
	tokens      utils.TokenProvider
	events      *Events
	outbox      *Outbox
	timers      *utils.TimerSet
	log         *zap.Logger

	mu        sync.Mutex
	state     models.ConnectionState
	identity  models.SessionIdentity
	attempts  int
	dialing   bool
	readerGen int
	closed    bool
	done      chan struct{}
}

func NewConnectionManager(cfg Config, channel Channel, transcripts chat.TranscriptService, tokens utils.TokenProvider) *DefaultConnectionManager {
	return &DefaultConnectionManager{
		cfg:         cfg,
		channel:     channel,
		transcripts: transcripts,
		tokens:      tokens,
		events:      NewEvents(),
		outbox:      NewOutbox(),
		timers:      utils.NewTimerSet(),
		log:         utils.GetLogger(),
		state:       models.ConnIdle,
		done:        make(chan struct{}),
	}
}

func (m *DefaultConnectionManager) Events() *Events {
	return m.events
}

func (m *DefaultConnectionManager) Done() <-chan struct{} {
	return m.done
}

// Identity returns the session identity bound at Initialize.
func (m *DefaultConnectionManager) Identity() models.SessionIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

func (m *DefaultConnectionManager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize binds identity and dials. The first attempt is synchronous so
// an auth rejection surfaces to the caller; transport failures hand over to
// the backoff machinery and return nil.
func (m *DefaultConnectionManager) Initialize(ctx context.Context, identity models.SessionIdentity) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return utils.CancelledError("manager is shut down")
	}
	m.identity = identity
	m.mu.Unlock()
	return m.attemptConnect(ctx, false)
}

// attemptConnect performs one dial. At most one Connecting/Reconnecting
// attempt is in flight at any time; concurrent triggers are dropped.
func (m *DefaultConnectionManager) attemptConnect(ctx context.Context, reconnect bool) error {
	m.mu.Lock()
	if m.closed || m.dialing || m.state == models.ConnConnected || m.state.Terminal() {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	if reconnect {
		m.state = models.ConnReconnecting
	} else {
		m.state = models.ConnConnecting
	}
	state := m.state
	m.mu.Unlock()
	m.events.ConnectionStatus.Publish(StatusChange{State: state})

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()
	if err := m.channel.Dial(dialCtx); err != nil {
		return m.handleDialFailure(err)
	}
	m.onConnected()
	return nil
}

func (m *DefaultConnectionManager) handleDialFailure(err error) error {
	m.mu.Lock()
	m.dialing = false
	m.mu.Unlock()

	if utils.KindOf(err) == utils.KindAuth {
		// Fatal: requires re-authentication, never retried.
		m.failTerminal("authentication required")
		return err
	}
	m.log.Warn("Channel dial failed", zap.Error(err))
	m.scheduleReconnect()
	return nil
}

// scheduleReconnect arms the next backoff wait, or gives up after the
// attempt budget is spent.
func (m *DefaultConnectionManager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.attempts++
	attempt := m.attempts
	if attempt > m.cfg.MaxAttempts {
		m.mu.Unlock()
		m.failTerminal(fmt.Sprintf("gave up after %d attempts", m.cfg.MaxAttempts))
		return
	}
	m.state = models.ConnReconnecting
	m.mu.Unlock()

	delay := backoffDelay(m.cfg.BackoffBase, m.cfg.BackoffCap, attempt)
	m.log.Info("Scheduling reconnect",
		zap.Int("attempt", attempt),
		zap.Int("maxAttempts", m.cfg.MaxAttempts),
		zap.Duration("delay", delay))
	m.events.ConnectionStatus.Publish(StatusChange{
		State:   models.ConnReconnecting,
		Message: fmt.Sprintf("retrying in %s (attempt %d/%d)", delay, attempt, m.cfg.MaxAttempts),
	})
	m.timers.Start(slotReconnect, delay, func() {
		_ = m.attemptConnect(context.Background(), true)
	})
}

// backoffDelay returns min(base * 2^(attempt-1), limit).
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}

func (m *DefaultConnectionManager) onConnected() {
	m.mu.Lock()
	m.dialing = false
	m.attempts = 0
	m.state = models.ConnConnected
	m.readerGen++
	gen := m.readerGen
	m.mu.Unlock()

	m.timers.Stop(slotReconnect)
	m.log.Info("Channel connected")
	m.events.ConnectionStatus.Publish(StatusChange{State: models.ConnConnected})

	// A fresh transport connection carries no memory of prior room
	// membership, so membership is re-announced on every (re)connect.
	m.announceMembership()
	m.flushOutbox()
	go m.readLoop(gen)
}

// announceMembership sends the fire-and-forget room join. With no error
// event inside the grace window the join counts as complete.
func (m *DefaultConnectionManager) announceMembership() {
	m.mu.Lock()
	identity := m.identity
	m.mu.Unlock()
	if identity.RoomID == "" {
		return
	}
	env, err := models.NewEnvelope(models.EventJoinRoom, models.JoinRoomPayload{
		BookingID: identity.BookingID,
		RoomID:    identity.RoomID,
		SessionID: identity.SessionID,
	})
	if err != nil {
		m.log.Error("Failed to build join envelope", zap.Error(err))
		return
	}
	if err := m.channel.Send(env); err != nil {
		m.log.Warn("Room join send failed", zap.Error(err))
		return
	}
	m.timers.Start(slotJoin, m.cfg.JoinGrace, func() {
		m.log.Debug("Room join assumed complete", zap.String("roomId", identity.RoomID))
		m.events.ConnectionStatus.Publish(StatusChange{State: models.ConnConnected, Message: "room_joined"})
	})
}

// flushOutbox hands queued messages to the channel in enqueue order.
// Anything the channel refuses goes back to the front of the queue.
func (m *DefaultConnectionManager) flushOutbox() {
	pending := m.outbox.Drain()
	for i, msg := range pending {
		if err := m.channel.Send(msg.Envelope); err != nil {
			m.log.Warn("Outbox flush interrupted", zap.Int("remaining", len(pending)-i), zap.Error(err))
			m.outbox.Requeue(pending[i:])
			return
		}
	}
	if len(pending) > 0 {
		m.log.Info("Outbox flushed", zap.Int("count", len(pending)))
	}
}

func (m *DefaultConnectionManager) readLoop(gen int) {
	for {
		env, err := m.channel.Receive()
		if err != nil {
			m.handleReadFailure(gen, err)
			return
		}
		m.handleEnvelope(env)
	}
}

func (m *DefaultConnectionManager) handleReadFailure(gen int, err error) {
	m.mu.Lock()
	if m.closed || gen != m.readerGen || m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = models.ConnDisconnected
	m.mu.Unlock()

	m.log.Warn("Channel read failed, entering reconnect", zap.Error(err))
	m.events.ConnectionStatus.Publish(StatusChange{State: models.ConnDisconnected, Message: err.Error()})
	m.scheduleReconnect()
}

// handleEnvelope routes one inbound envelope. Handlers across registries
// have no mutual ordering guarantee.
func (m *DefaultConnectionManager) handleEnvelope(env models.Envelope) {
	switch env.Event {
	case models.EventReceiveMessage:
		var payload models.ReceiveMessagePayload
		if err := env.Decode(&payload); err != nil {
			m.log.Warn("Dropping malformed message", zap.Error(err))
			return
		}
		m.ingestMessage(payload.Normalize())

	case models.EventMessageAck:
		var payload models.MessageAckPayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.timers.Stop(ackKey(payload.MessageID))

	case models.EventTypingStarted:
		var payload models.TypingPayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.events.Typing.Publish(TypingEvent{BookingID: payload.BookingID, SenderID: payload.SenderID, IsTyping: true})
		// Auto-clear guards against a lost typing_stopped.
		m.timers.Start("typing:"+payload.BookingID, m.cfg.TypingClear, func() {
			m.events.Typing.Publish(TypingEvent{BookingID: payload.BookingID, IsTyping: false})
		})

	case models.EventTypingStopped:
		var payload models.TypingPayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.timers.Stop("typing:" + payload.BookingID)
		m.events.Typing.Publish(TypingEvent{BookingID: payload.BookingID, SenderID: payload.SenderID, IsTyping: false})

	case models.EventBookingInitiated:
		var payload models.BookingInitiatedPayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.events.BookingInitiated.Publish(payload)

	case models.EventBookingError:
		var payload models.BookingErrorPayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.events.BookingErrors.Publish(payload)

	case models.EventBookingStatusUpdate:
		var payload models.BookingStatusUpdatePayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.events.StatusUpdates.Publish(models.BookingStatusEvent{BookingID: payload.BookingID, Status: payload.Status})

	case models.EventSessionTimer:
		var payload models.SessionTimerPayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.events.SessionTimer.Publish(payload)

	case models.EventSessionEnd, models.EventConsultationEnded:
		var payload models.ConsultationEndedPayload
		if err := env.Decode(&payload); err != nil {
			return
		}
		m.timers.Stop(slotJoin)
		m.events.SessionEnd.Publish(payload)

	default:
		m.log.Debug("Ignoring unknown channel event", zap.String("event", env.Event))
	}
}

// ingestMessage applies the duplicate identity rule before anything else
// sees the message. Duplicates are dropped silently.
func (m *DefaultConnectionManager) ingestMessage(msg models.ChatMessage) {
	m.mu.Lock()
	sessionID := m.identity.SessionID
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, added := m.transcripts.Append(ctx, sessionID, msg, false)
	if !added {
		m.log.Debug("Dropped duplicate message", zap.String("id", msg.ID))
		return
	}
	m.events.Messages.Publish(msg)
}

// Send delivers env now if connected, otherwise queues it. A write failure
// also queues: the read loop will notice the dead transport and reconnect.
func (m *DefaultConnectionManager) Send(env models.Envelope) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return utils.CancelledError("manager is shut down")
	}
	if m.state.Terminal() {
		m.mu.Unlock()
		return utils.TransportError("connection permanently failed", nil)
	}
	connected := m.state == models.ConnConnected
	m.mu.Unlock()

	if !connected {
		m.outbox.Enqueue(env)
		return nil
	}
	if err := m.channel.Send(env); err != nil {
		m.log.Warn("Send failed, queueing for retry", zap.String("event", env.Event), zap.Error(err))
		m.outbox.Enqueue(env)
	}
	return nil
}

// SendChat builds and sends a chat message. If no ack arrives within the
// ack window the message is assumed delivered; there is no client re-send,
// because the server reassigns message ids and a re-send would duplicate.
func (m *DefaultConnectionManager) SendChat(content string) (models.ChatMessage, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return models.ChatMessage{}, utils.CancelledError("manager is shut down")
	}
	identity := m.identity
	m.mu.Unlock()

	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		SenderID:  m.tokens.UserID(),
		Content:   content,
		Timestamp: time.Now(),
	}
	env, err := models.NewEnvelope(models.EventSendMessage, models.SendMessagePayload{
		RoomID:    identity.RoomID,
		Content:   msg.Content,
		SenderID:  msg.SenderID,
		MessageID: msg.ID,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	if err := m.Send(env); err != nil {
		return models.ChatMessage{}, err
	}
	m.timers.Start(ackKey(msg.ID), m.cfg.AckTimeout, func() {
		m.log.Debug("No ack inside window, assuming delivered", zap.String("messageId", msg.ID))
	})

	// Optimistic local append; the server echo collapses under the
	// duplicate window.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.transcripts.Append(ctx, identity.SessionID, msg, false)
	return msg, nil
}

// NotifyAppLifecycle handles foreground/background transitions. Backgrounding
// cancels a pending backoff wait but leaves an open channel alone; foreground
// with a down channel connects immediately, bypassing the remaining wait.
func (m *DefaultConnectionManager) NotifyAppLifecycle(foreground bool) {
	if !foreground {
		m.timers.Stop(slotReconnect)
		return
	}
	m.mu.Lock()
	ready := !m.closed && !m.dialing && m.state != models.ConnConnected && !m.state.Terminal()
	m.mu.Unlock()
	if !ready {
		return
	}
	m.timers.Stop(slotReconnect)
	go func() {
		_ = m.attemptConnect(context.Background(), true)
	}()
}

// failTerminal moves to Failed, the one state nothing recovers from.
func (m *DefaultConnectionManager) failTerminal(message string) {
	m.mu.Lock()
	if m.state.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = models.ConnFailed
	m.mu.Unlock()

	m.timers.Stop(slotReconnect)
	m.log.Error("Connection terminally failed", zap.String("reason", message))
	m.events.ConnectionStatus.Publish(StatusChange{State: models.ConnFailed, Message: message})
}

// FailApplication surfaces an explicit application-level rejection (for
// example a denied room join): terminal, never retried.
func (m *DefaultConnectionManager) FailApplication(message string) {
	m.timers.Stop(slotJoin)
	m.channel.Close()
	m.failTerminal(message)
}

func (m *DefaultConnectionManager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.state = models.ConnIdle
	m.mu.Unlock()

	close(m.done)
	m.timers.StopAll()
	m.channel.Close()
	m.log.Info("Connection manager shut down")
}

func ackKey(messageID string) string {
	return "ack:" + messageID
}
