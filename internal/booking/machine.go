package booking

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pod-booking-backend/internal/access"
	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/availability"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/occupancy"
	"pod-booking-backend/internal/store"
)

// Publisher receives events after the producing transaction has committed.
type Publisher interface {
	Publish(ctx context.Context, e events.Event)
}

// Config holds the booking rules.
type Config struct {
	MaxDuration time.Duration
}

// Machine is the persistent Lifecycle. Every transition locks the booking row
// and guards on the status it finds there.
type Machine struct {
	store       store.Store
	checker     *availability.Checker
	events      Publisher
	maxDuration time.Duration
	now         func() time.Time
	log         *zap.Logger
}

var _ Lifecycle = (*Machine)(nil)

func NewMachine(s store.Store, checker *availability.Checker, pub Publisher, cfg Config, now func() time.Time, log *zap.Logger) *Machine {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	return &Machine{
		store:       s,
		checker:     checker,
		events:      pub,
		maxDuration: cfg.MaxDuration,
		now:         now,
		log:         log,
	}
}

// Create reserves the pod for [start, end) as a PENDING booking. The pod row
// stays locked from the status check to the insert.
func (m *Machine) Create(ctx context.Context, userID, podID string, start, end time.Time) (*model.Booking, error) {
	const op = "booking.Create"

	start, end = model.Timestamp(start), model.Timestamp(end)
	now := model.Timestamp(m.now())
	switch {
	case userID == "":
		return nil, apperror.Validation(op, "user is required")
	case !end.After(start):
		return nil, apperror.Validation(op, "end must be after start")
	case end.Sub(start) > m.maxDuration:
		return nil, apperror.Validation(op, "booking may not exceed %s", m.maxDuration)
	case !end.After(now):
		return nil, apperror.Validation(op, "booking window has already passed")
	}

	var b *model.Booking
	err := m.store.Atomic(ctx, func(r store.Repository) error {
		pod, err := r.LockPod(ctx, podID)
		if err != nil {
			return err
		}
		if pod.Status != model.PodAvailable {
			return apperror.Conflict(op, "pod %s is %s", podID, pod.Status)
		}
		free, err := m.checker.IsAvailableIn(ctx, r, podID, start, end)
		if err != nil {
			return err
		}
		if !free {
			return apperror.Conflict(op, "pod %s is already booked for the requested interval", podID)
		}

		b = &model.Booking{
			ID:               uuid.NewString(),
			UserID:           userID,
			PodID:            podID,
			StartAt:          start,
			EndAt:            end,
			Status:           model.BookingPending,
			TotalAmountCents: TotalAmount(start, end, pod.HourlyRateCents),
			Currency:         pod.Currency,
		}
		return r.CreateBooking(ctx, b)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}

	m.log.Info("booking created",
		zap.String("booking_id", b.ID),
		zap.String("pod_id", podID),
		zap.String("user_id", userID),
		zap.Int64("amount_cents", b.TotalAmountCents))
	m.publish(ctx, events.BookingCreated, b, nil, nil)
	return b, nil
}

// Confirm moves a PENDING booking to CONFIRMED. Confirming an already
// CONFIRMED booking with the same reference returns it without side effects.
func (m *Machine) Confirm(ctx context.Context, bookingID, paymentRef string) (*model.Booking, error) {
	const op = "booking.Confirm"
	now := model.Timestamp(m.now())

	var (
		b       *model.Booking
		already bool
	)
	err := m.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		b, err = r.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if paymentRef != "" && b.PaymentRef != nil && *b.PaymentRef != paymentRef {
			return apperror.Conflict(op, "booking %s is paid by another authorization", bookingID)
		}
		switch b.Status {
		case model.BookingConfirmed:
			already = true
			return nil
		case model.BookingPending:
		default:
			return apperror.Conflict(op, "booking %s is %s, not PENDING", bookingID, b.Status)
		}

		b.Status = model.BookingConfirmed
		b.ConfirmedAt = &now
		if b.PaymentRef == nil && paymentRef != "" {
			b.PaymentRef = &paymentRef
		}
		return r.SaveBooking(ctx, b)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}
	if already {
		m.log.Debug("booking already confirmed", zap.String("booking_id", bookingID))
		return b, nil
	}

	m.log.Info("booking confirmed", zap.String("booking_id", bookingID))
	m.publish(ctx, events.BookingConfirmed, b, nil, nil)
	return b, nil
}

// Fail moves a PENDING booking to FAILED. The pod was never occupied, so
// nothing is released. Failing a FAILED booking is a no-op.
func (m *Machine) Fail(ctx context.Context, bookingID, reason string) (*model.Booking, error) {
	const op = "booking.Fail"
	now := model.Timestamp(m.now())

	var (
		b       *model.Booking
		already bool
	)
	err := m.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		b, err = r.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		switch b.Status {
		case model.BookingFailed:
			already = true
			return nil
		case model.BookingPending:
		default:
			return apperror.Conflict(op, "booking %s is %s, not PENDING", bookingID, b.Status)
		}

		b.Status = model.BookingFailed
		b.FailureReason = reason
		b.ClosedAt = &now
		return r.SaveBooking(ctx, b)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}
	if already {
		return b, nil
	}

	m.log.Info("booking failed", zap.String("booking_id", bookingID), zap.String("reason", reason))
	m.publish(ctx, events.BookingFailed, b, nil, func(e *events.Event) { e.Reason = reason })
	return b, nil
}

// Cancel moves a PENDING or CONFIRMED booking to CANCELLED, revoking its code
// and releasing the pod it occupies in the same transaction.
func (m *Machine) Cancel(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error) {
	return m.close(ctx, "booking.Cancel", bookingID, actor, model.BookingCancelled, events.BookingCancelled, occupancy.ReasonCancel,
		model.BookingPending, model.BookingConfirmed)
}

// Complete ends a CONFIRMED booking, revoking its code and releasing the pod.
func (m *Machine) Complete(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error) {
	return m.close(ctx, "booking.Complete", bookingID, actor, model.BookingCompleted, events.BookingCompleted, occupancy.ReasonComplete,
		model.BookingConfirmed)
}

func (m *Machine) close(ctx context.Context, op, bookingID string, actor model.Actor, to model.BookingStatus, t events.Type, reason string, from ...model.BookingStatus) (*model.Booking, error) {
	now := model.Timestamp(m.now())

	var (
		b        *model.Booking
		pod      *model.Pod
		revoked  *model.AccessCode
		released bool
	)
	err := m.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		b, err = r.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !b.OwnedBy(actor) {
			return apperror.Forbidden(op, "booking %s belongs to another user", bookingID)
		}
		if !slices.Contains(from, b.Status) {
			return apperror.Conflict(op, "booking %s is %s", bookingID, b.Status)
		}

		if revoked, err = access.RevokeIn(ctx, r, b.ID, now); err != nil {
			return err
		}
		if pod, released, err = occupancy.ReleaseForBooking(ctx, r, b.PodID, b.ID, reason, now); err != nil {
			return err
		}

		b.Status = to
		b.ClosedAt = &now
		return r.SaveBooking(ctx, b)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}

	m.log.Info("booking closed",
		zap.String("booking_id", bookingID),
		zap.String("status", string(to)),
		zap.String("actor", actor.UserID),
		zap.Bool("code_revoked", revoked != nil),
		zap.Bool("pod_released", released))
	m.publish(ctx, t, b, pod, func(e *events.Event) {
		e.PodReleased = released
		if revoked != nil {
			e.RevokedCode = revoked.Code
		}
	})
	return b, nil
}

func (m *Machine) publish(ctx context.Context, t events.Type, b *model.Booking, pod *model.Pod, decorate func(e *events.Event)) {
	if m.events == nil {
		return
	}
	e := events.New(t, model.Timestamp(m.now()))
	e.BookingID = b.ID
	e.UserID = b.UserID
	e.PodID = b.PodID
	e.Status = string(b.Status)
	e.AmountCents = b.TotalAmountCents
	e.Currency = b.Currency
	e.Start = b.StartAt
	e.End = b.EndAt
	if pod != nil {
		e.LockID = pod.LockID
	}
	if decorate != nil {
		decorate(&e)
	}
	m.events.Publish(ctx, e)
}
