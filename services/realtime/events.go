package realtime

import (
	"sync"

	"astroconnect/models"
)

// Subscription is the handle returned by Registry.Subscribe. Cancel is
// idempotent and detaches the handler immediately.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Registry is a typed multi-subscriber callback list. It replaces the
// source's global cross-screen event emitter: every subscriber holds an
// explicit handle scoped to the session lifecycle. Handlers run on the
// publishing goroutine and must be idempotent and order-tolerant; no
// ordering is guaranteed between distinct registries.
type Registry[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{subs: make(map[int]func(T))}
}

// Subscribe attaches fn and returns its cancellation handle.
func (r *Registry[T]) Subscribe(fn func(T)) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	return &Subscription{cancel: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}}
}

// Publish invokes every current subscriber with v.
func (r *Registry[T]) Publish(v T) {
	r.mu.Lock()
	handlers := make([]func(T), 0, len(r.subs))
	for _, fn := range r.subs {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()
	for _, fn := range handlers {
		fn(v)
	}
}

// Len returns the number of live subscribers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// StatusChange reports a connection state transition.
type StatusChange struct {
	State   models.ConnectionState
	Message string
}

// TypingEvent reports the counterparty's typing state.
type TypingEvent struct {
	BookingID string
	SenderID  string
	IsTyping  bool
}

// Events groups every registry the session core exposes to collaborators.
type Events struct {
	ConnectionStatus *Registry[StatusChange]
	Messages         *Registry[models.ChatMessage]
	Typing           *Registry[TypingEvent]
	StatusUpdates    *Registry[models.BookingStatusEvent]
	BookingInitiated *Registry[models.BookingInitiatedPayload]
	BookingErrors    *Registry[models.BookingErrorPayload]
	SessionTimer     *Registry[models.SessionTimerPayload]
	SessionEnd       *Registry[models.ConsultationEndedPayload]
}

func NewEvents() *Events {
	return &Events{
		ConnectionStatus: NewRegistry[StatusChange](),
		Messages:         NewRegistry[models.ChatMessage](),
		Typing:           NewRegistry[TypingEvent](),
		StatusUpdates:    NewRegistry[models.BookingStatusEvent](),
		BookingInitiated: NewRegistry[models.BookingInitiatedPayload](),
		BookingErrors:    NewRegistry[models.BookingErrorPayload](),
		SessionTimer:     NewRegistry[models.SessionTimerPayload](),
		SessionEnd:       NewRegistry[models.ConsultationEndedPayload](),
	}
}
