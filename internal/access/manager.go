// Package access issues, validates and withdraws the keypad codes that open a
// pod during a confirmed booking.
package access

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/lockgw"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
)

// Manager owns the AccessCode lifecycle. A booking has at most one ACTIVE
// code and its window never leaves the booking interval.
type Manager struct {
	store   store.Store
	gateway lockgw.Gateway
	now     func() time.Time
	log     *zap.Logger
}

func NewManager(s store.Store, gw lockgw.Gateway, now func() time.Time, log *zap.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{store: s, gateway: gw, now: now, log: log}
}

// Issue mints a code for a CONFIRMED booking whose window is not over. When
// the booking already holds an ACTIVE code, that code is returned.
func (m *Manager) Issue(ctx context.Context, bookingID string) (*model.AccessCode, error) {
	const op = "access.Issue"

	b, err := m.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	now := model.Timestamp(m.now())
	if err := issuable(op, b, now); err != nil {
		return nil, err
	}

	existing, err := m.store.ActiveAccessCode(ctx, bookingID)
	if err == nil {
		return existing, nil
	}
	if !apperror.Is(err, apperror.KindNotFound) {
		return nil, apperror.Internal(op, err)
	}

	pod, err := m.store.GetPod(ctx, b.PodID)
	if err != nil {
		return nil, err
	}

	minted, err := m.gateway.GenerateAccessCode(ctx, pod.LockID)
	if err != nil {
		return nil, apperror.Lock(op, err, "lock %s did not mint a code", pod.LockID)
	}

	code := &model.AccessCode{
		ID:        uuid.NewString(),
		Code:      minted.Code,
		BookingID: b.ID,
		PodID:     b.PodID,
		Status:    model.AccessActive,
	}
	code.ValidFrom, code.ValidUntil = window(b, minted, now)

	var result *model.AccessCode
	err = m.store.Atomic(ctx, func(r store.Repository) error {
		current, err := r.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := issuable(op, current, now); err != nil {
			return err
		}
		if active, err := r.ActiveAccessCode(ctx, bookingID); err == nil {
			result = active
			return nil
		} else if !apperror.Is(err, apperror.KindNotFound) {
			return err
		}
		if err := r.CreateAccessCode(ctx, code); err != nil {
			return err
		}
		result = code
		return nil
	})
	if err != nil || result != code {
		// the minted code never became the booking's code
		m.withdraw(ctx, pod.LockID, minted.Code)
	}
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}

	if result == code {
		m.log.Info("access code issued",
			zap.String("booking_id", b.ID),
			zap.String("pod_id", b.PodID),
			zap.Time("valid_from", code.ValidFrom),
			zap.Time("valid_until", code.ValidUntil))
	}
	return result, nil
}

func issuable(op string, b *model.Booking, now time.Time) error {
	if b.Status != model.BookingConfirmed {
		return apperror.Conflict(op, "booking %s is %s, not CONFIRMED", b.ID, b.Status)
	}
	if !b.EndAt.After(now) {
		return apperror.Conflict(op, "booking %s has already ended", b.ID)
	}
	return nil
}

// window clamps the vendor's window to the booking interval, starting no
// earlier than now.
func window(b *model.Booking, minted *lockgw.Code, now time.Time) (from, until time.Time) {
	from, until = b.StartAt, b.EndAt
	if now.After(from) {
		from = now
	}
	if !minted.ValidFrom.IsZero() {
		vf := model.Timestamp(minted.ValidFrom)
		if vf.After(from) && vf.Before(until) {
			from = vf
		}
	}
	if !minted.ValidUntil.IsZero() {
		vu := model.Timestamp(minted.ValidUntil)
		if vu.Before(until) && vu.After(from) {
			until = vu
		}
	}
	return from, until
}

// Revoke withdraws the booking's ACTIVE code. It is a no-op when there is none.
func (m *Manager) Revoke(ctx context.Context, bookingID string) error {
	if _, err := m.store.GetBooking(ctx, bookingID); err != nil {
		return err
	}
	now := model.Timestamp(m.now())

	var revoked *model.AccessCode
	err := m.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		revoked, err = RevokeIn(ctx, r, bookingID, now)
		return err
	})
	if err != nil {
		return apperror.Wrap("access.Revoke", err)
	}
	if revoked == nil {
		return nil
	}

	pod, err := m.store.GetPod(ctx, revoked.PodID)
	if err != nil {
		return err
	}
	m.withdraw(ctx, pod.LockID, revoked.Code)
	return nil
}

// RevokeIn marks the booking's ACTIVE code REVOKED inside r and returns it, or
// nil when the booking has no ACTIVE code. The vendor is not called.
func RevokeIn(ctx context.Context, r store.Repository, bookingID string, now time.Time) (*model.AccessCode, error) {
	code, err := r.ActiveAccessCode(ctx, bookingID)
	if apperror.Is(err, apperror.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	code.Status = model.AccessRevoked
	code.ValidUntil = now
	if now.Before(code.ValidFrom) {
		code.ValidUntil = code.ValidFrom
	}
	code.UpdatedAt = now
	if err := r.SaveAccessCode(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// Validate reports whether code currently opens the pod. Codes past their
// validUntil are rejected even before the sweeper marks them EXPIRED.
func (m *Manager) Validate(ctx context.Context, podID, code string) (bool, error) {
	if _, err := m.store.GetPod(ctx, podID); err != nil {
		return false, err
	}
	ac, err := m.store.FindAccessCode(ctx, podID, code)
	if apperror.Is(err, apperror.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperror.Internal("access.Validate", err)
	}
	return ac.UsableAt(m.now()), nil
}

// ExpireStale marks ACTIVE codes whose window has closed as EXPIRED.
func (m *Manager) ExpireStale(ctx context.Context) (int64, error) {
	n, err := m.store.ExpireAccessCodes(ctx, model.Timestamp(m.now()))
	if err != nil {
		return 0, apperror.Internal("access.ExpireStale", err)
	}
	if n > 0 {
		m.log.Info("expired stale access codes", zap.Int64("count", n))
	}
	return n, nil
}

// HandleEvent issues a code once a booking is confirmed and withdraws the
// vendor code once a booking is cancelled or completed.
func (m *Manager) HandleEvent(ctx context.Context, e events.Event) error {
	switch e.Type {
	case events.BookingConfirmed:
		_, err := m.Issue(ctx, e.BookingID)
		return err
	case events.BookingCancelled, events.BookingCompleted:
		if e.RevokedCode != "" {
			m.withdraw(ctx, e.LockID, e.RevokedCode)
		}
	}
	return nil
}

// withdraw revokes a code at the vendor. The database is the source of
// truth, so a vendor failure is logged and not returned.
func (m *Manager) withdraw(ctx context.Context, lockID, code string) {
	if err := m.gateway.RevokeAccessCode(ctx, lockID, code); err != nil {
		m.log.Warn("vendor code revoke failed",
			zap.String("lock_id", lockID),
			zap.Error(err))
	}
}
