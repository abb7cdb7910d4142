// Package bookingtest provides an in-memory booking.Lifecycle for tests of
// the components that drive booking transitions.
package bookingtest

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/booking"
	"pod-booking-backend/internal/model"
)

// Fake applies the same status guards as booking.Machine without a store,
// pods or side effects. Transitions are recorded in Transitions.
type Fake struct {
	HourlyRateCents int64
	Currency        string

	mu          sync.Mutex
	bookings    map[string]*model.Booking
	transitions []Transition
}

// Transition records one applied status change.
type Transition struct {
	BookingID string
	To        model.BookingStatus
}

var _ booking.Lifecycle = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		HourlyRateCents: 1000,
		Currency:        "usd",
		bookings:        make(map[string]*model.Booking),
	}
}

// Put stores a copy of b as is.
func (f *Fake) Put(b model.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = &b
}

// Get returns a copy of the booking, or nil.
func (f *Fake) Get(id string) *model.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bookings[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

// Transitions returns the applied transitions in order.
func (f *Fake) Transitions() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.transitions)
}

func (f *Fake) Create(ctx context.Context, userID, podID string, start, end time.Time) (*model.Booking, error) {
	const op = "bookingtest.Create"
	if !end.After(start) {
		return nil, apperror.Validation(op, "end must be after start")
	}
	if end.Sub(start) > booking.DefaultMaxDuration {
		return nil, apperror.Validation(op, "booking may not exceed %s", booking.DefaultMaxDuration)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.bookings {
		if existing.PodID == podID && existing.Status.Blocking() && existing.Overlaps(start, end) {
			return nil, apperror.Conflict(op, "pod %s is already booked for the requested interval", podID)
		}
	}
	b := &model.Booking{
		ID:               uuid.NewString(),
		UserID:           userID,
		PodID:            podID,
		StartAt:          start,
		EndAt:            end,
		Status:           model.BookingPending,
		TotalAmountCents: booking.TotalAmount(start, end, f.HourlyRateCents),
		Currency:         f.Currency,
	}
	f.bookings[b.ID] = b
	f.record(b.ID, model.BookingPending)
	cp := *b
	return &cp, nil
}

func (f *Fake) Confirm(ctx context.Context, bookingID, paymentRef string) (*model.Booking, error) {
	const op = "bookingtest.Confirm"
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(op, bookingID)
	if err != nil {
		return nil, err
	}
	if paymentRef != "" && b.PaymentRef != nil && *b.PaymentRef != paymentRef {
		return nil, apperror.Conflict(op, "booking %s is paid by another authorization", bookingID)
	}
	switch b.Status {
	case model.BookingConfirmed:
		cp := *b
		return &cp, nil
	case model.BookingPending:
	default:
		return nil, apperror.Conflict(op, "booking %s is %s, not PENDING", bookingID, b.Status)
	}
	b.Status = model.BookingConfirmed
	if b.PaymentRef == nil && paymentRef != "" {
		b.PaymentRef = &paymentRef
	}
	f.record(bookingID, model.BookingConfirmed)
	cp := *b
	return &cp, nil
}

func (f *Fake) Fail(ctx context.Context, bookingID, reason string) (*model.Booking, error) {
	const op = "bookingtest.Fail"
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(op, bookingID)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case model.BookingFailed:
		cp := *b
		return &cp, nil
	case model.BookingPending:
	default:
		return nil, apperror.Conflict(op, "booking %s is %s, not PENDING", bookingID, b.Status)
	}
	b.Status = model.BookingFailed
	b.FailureReason = reason
	f.record(bookingID, model.BookingFailed)
	cp := *b
	return &cp, nil
}

func (f *Fake) Cancel(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error) {
	return f.close("bookingtest.Cancel", bookingID, actor, model.BookingCancelled, model.BookingPending, model.BookingConfirmed)
}

func (f *Fake) Complete(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error) {
	return f.close("bookingtest.Complete", bookingID, actor, model.BookingCompleted, model.BookingConfirmed)
}

func (f *Fake) close(op, bookingID string, actor model.Actor, to model.BookingStatus, from ...model.BookingStatus) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.lookup(op, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.OwnedBy(actor) {
		return nil, apperror.Forbidden(op, "booking %s belongs to another user", bookingID)
	}
	if !slices.Contains(from, b.Status) {
		return nil, apperror.Conflict(op, "booking %s is %s", bookingID, b.Status)
	}
	b.Status = to
	f.record(bookingID, to)
	cp := *b
	return &cp, nil
}

func (f *Fake) lookup(op, id string) (*model.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, apperror.NotFound(op, "booking %s not found", id)
	}
	return b, nil
}

func (f *Fake) record(id string, to model.BookingStatus) {
	f.transitions = append(f.transitions, Transition{BookingID: id, To: to})
}
