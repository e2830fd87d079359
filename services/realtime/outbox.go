package realtime

import (
	"sync"
	"time"

	"astroconnect/models"
)

// OutboxMessage is a payload waiting for the channel to come back.
type OutboxMessage struct {
	Envelope   models.Envelope
	EnqueuedAt time.Time
}

// Outbox queues messages while the channel is not connected. Messages leave
// the queue only when handed to the channel, in original enqueue order.
type Outbox struct {
	mu    sync.Mutex
	queue []OutboxMessage
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Enqueue(env models.Envelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(o.queue, OutboxMessage{Envelope: env, EnqueuedAt: time.Now()})
}

// Drain removes and returns every queued message in FIFO order.
func (o *Outbox) Drain() []OutboxMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	drained := o.queue
	o.queue = nil
	return drained
}

// Requeue puts undelivered messages back at the front, preserving order.
func (o *Outbox) Requeue(msgs []OutboxMessage) {
	if len(msgs) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(append([]OutboxMessage{}, msgs...), o.queue...)
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
