package booking

import (
	"context"
	"sync"
	"time"

	"astroconnect/models"
	"astroconnect/services/realtime"
	"astroconnect/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Negotiator runs the booking request/response protocol over the channel.
type Negotiator interface {
	// RequestBooking sends an initiate message and waits for an outcome.
	// A BookingQueued result is non-terminal: the terminal outcome arrives
	// later on Outcomes. Failure kinds: Timeout after the negotiation
	// deadline, Protocol on an explicit server rejection, Cancelled if the
	// context or connection is torn down first.
	RequestBooking(ctx context.Context, details models.BookingDetails) (*models.BookingResult, error)
	// Outcomes delivers the terminal result of negotiations that resolved
	// as queued. At most one terminal outcome is ever published per
	// correlation id.
	Outcomes() *realtime.Registry[models.BookingResult]
}

// ChannelConn is the slice of the connection manager the negotiator needs.
type ChannelConn interface {
	Send(env models.Envelope) error
	Events() *realtime.Events
	Done() <-chan struct{}
}

// DefaultNegotiator implements Negotiator.
type DefaultNegotiator struct {
	conn     ChannelConn
	timeout  time.Duration
	outcomes *realtime.Registry[models.BookingResult]
	log      *zap.Logger

	mu        sync.Mutex
	delivered map[string]bool
}

func NewNegotiator(conn ChannelConn, timeout time.Duration) *DefaultNegotiator {
	return &DefaultNegotiator{
		conn:      conn,
		timeout:   timeout,
		outcomes:  realtime.NewRegistry[models.BookingResult](),
		log:       utils.GetLogger(),
		delivered: make(map[string]bool),
	}
}

func (n *DefaultNegotiator) Outcomes() *realtime.Registry[models.BookingResult] {
	return n.outcomes
}

// pendingRequest funnels the first relevant channel event into a single
// buffered slot.
type pendingRequest struct {
	mu        sync.Mutex
	bookingID string
	settled   bool
	ch        chan models.BookingResult
}

func (p *pendingRequest) settle(result models.BookingResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.settled = true
	p.ch <- result
}

func (p *pendingRequest) setBookingID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bookingID = id
}

func (p *pendingRequest) matchesBooking(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bookingID != "" && p.bookingID == id
}

func (n *DefaultNegotiator) RequestBooking(ctx context.Context, details models.BookingDetails) (*models.BookingResult, error) {
	correlationID := uuid.New().String()
	pending := &pendingRequest{ch: make(chan models.BookingResult, 1)}
	events := n.conn.Events()

	// Listeners are registered before the initiate message goes out and
	// removed the instant a result is chosen, whichever path fires first.
	initSub := events.BookingInitiated.Subscribe(func(payload models.BookingInitiatedPayload) {
		if payload.CorrelationID != correlationID {
			return
		}
		pending.setBookingID(payload.BookingID)
		if payload.Status == "queued" {
			// Astrologer unreachable right now: the initiate call resolves,
			// the terminal decision follows on the status stream. The watch
			// must be live before the queued result settles, or a terminal
			// status arriving right behind this event would find the request
			// already settled and no long-lived subscriber yet.
			n.watchQueued(correlationID, payload.BookingID)
			pending.settle(models.BookingResult{
				CorrelationID: correlationID,
				BookingID:     payload.BookingID,
				Outcome:       models.BookingQueued,
			})
		}
	})
	errSub := events.BookingErrors.Subscribe(func(payload models.BookingErrorPayload) {
		if payload.CorrelationID != correlationID {
			return
		}
		pending.settle(models.BookingResult{
			CorrelationID: correlationID,
			Outcome:       models.BookingErrored,
			Message:       payload.Message,
		})
	})
	statusSub := events.StatusUpdates.Subscribe(func(ev models.BookingStatusEvent) {
		if !pending.matchesBooking(ev.BookingID) {
			return
		}
		switch ev.Status {
		case "accepted":
			pending.settle(models.BookingResult{CorrelationID: correlationID, BookingID: ev.BookingID, Outcome: models.BookingAccepted})
		case "rejected":
			pending.settle(models.BookingResult{CorrelationID: correlationID, BookingID: ev.BookingID, Outcome: models.BookingRejected})
		}
	})
	unsubscribe := func() {
		initSub.Cancel()
		errSub.Cancel()
		statusSub.Cancel()
	}

	env, err := models.NewEnvelope(models.EventInitiateBooking, models.InitiateBookingPayload{
		CorrelationID: correlationID,
		AstrologerID:  details.AstrologerID,
		Type:          details.Type,
		Notes:         details.Notes,
		UserInfo:      details.UserInfo,
	})
	if err != nil {
		unsubscribe()
		return nil, err
	}
	if err := n.conn.Send(env); err != nil {
		unsubscribe()
		return nil, err
	}
	n.log.Info("Booking initiated",
		zap.String("correlationId", correlationID),
		zap.String("astrologerId", details.AstrologerID))

	deadline := time.NewTimer(n.timeout)
	defer deadline.Stop()

	select {
	case result := <-pending.ch:
		unsubscribe()
		return n.finish(result)
	case <-deadline.C:
		unsubscribe()
		n.markDelivered(correlationID)
		result := &models.BookingResult{CorrelationID: correlationID, Outcome: models.BookingTimedOut}
		return result, utils.TimeoutError("booking negotiation timed out")
	case <-ctx.Done():
		unsubscribe()
		return nil, utils.CancelledError("booking request cancelled")
	case <-n.conn.Done():
		unsubscribe()
		return nil, utils.CancelledError("connection shut down")
	}
}

// finish translates a settled result into the return contract. A queued
// result already carries its long-lived status watch, installed before the
// settle.
func (n *DefaultNegotiator) finish(result models.BookingResult) (*models.BookingResult, error) {
	if result.Outcome == models.BookingQueued {
		return &result, nil
	}
	n.markDelivered(result.CorrelationID)
	if result.Outcome == models.BookingErrored {
		return &result, utils.ProtocolError(result.Message)
	}
	return &result, nil
}

// watchQueued holds a long-lived status subscription for a queued booking
// and publishes its terminal outcome exactly once.
func (n *DefaultNegotiator) watchQueued(correlationID, bookingID string) {
	terminal := make(chan struct{})
	sub := n.conn.Events().StatusUpdates.Subscribe(func(ev models.BookingStatusEvent) {
		if ev.BookingID != bookingID {
			return
		}
		var outcome models.BookingOutcome
		switch ev.Status {
		case "accepted":
			outcome = models.BookingAccepted
		case "rejected":
			outcome = models.BookingRejected
		default:
			return
		}
		if !n.markDelivered(correlationID) {
			return
		}
		n.outcomes.Publish(models.BookingResult{
			CorrelationID: correlationID,
			BookingID:     bookingID,
			Outcome:       outcome,
		})
		close(terminal)
	})
	go func() {
		select {
		case <-terminal:
		case <-n.conn.Done():
		}
		sub.Cancel()
	}()
}

// markDelivered claims the one terminal delivery for correlationID. Reports
// false if it was already claimed.
func (n *DefaultNegotiator) markDelivered(correlationID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.delivered[correlationID] {
		return false
	}
	n.delivered[correlationID] = true
	return true
}
