// Package events carries booking lifecycle events from the state machine to
// the components and brokers that react to them.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names a domain event.
type Type string

const (
	BookingCreated   Type = "booking.created"
	BookingConfirmed Type = "booking.confirmed"
	BookingFailed    Type = "booking.failed"
	BookingCancelled Type = "booking.cancelled"
	BookingCompleted Type = "booking.completed"
)

// Event is published after the transition that produced it has committed.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	BookingID   string    `json:"bookingId"`
	UserID      string    `json:"userId"`
	PodID       string    `json:"podId"`
	LockID      string    `json:"lockId"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	At          time.Time `json:"at"`
	Reason      string    `json:"reason,omitempty"`
	// PodReleased is set when the transition returned an occupied pod to service.
	PodReleased bool `json:"podReleased,omitempty"`
	// RevokedCode is the vendor code to withdraw. Never leaves the process.
	RevokedCode string `json:"-"`
}

// New returns an event with a fresh id.
func New(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, At: at}
}

// Handler reacts to an event. Returned errors are logged, never propagated.
type Handler func(ctx context.Context, e Event) error

// Publisher forwards events outside the process.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events synchronously to subscribers in registration order.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	log  *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers h under name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: h})
}

// Forward sends every event to p.
func (b *Bus) Forward(name string, p Publisher) {
	b.Subscribe(name, p.Publish)
}

// Publish delivers e to every subscriber. A failing or panicking subscriber
// does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(ctx, s, e); err != nil {
			b.log.Warn("event subscriber failed",
				zap.String("subscriber", s.name),
				zap.String("event", string(e.Type)),
				zap.String("booking_id", e.BookingID),
				zap.Error(err))
		}
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, e)
}
