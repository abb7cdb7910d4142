// Package availability answers whether a pod is free for an interval.
package availability

import (
	"context"
	"time"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
)

// DefaultHorizon bounds the NextAvailableSlot search.
const DefaultHorizon = 30 * 24 * time.Hour

// Checker is read-only. Only PENDING and CONFIRMED bookings block.
type Checker struct {
	store   store.Store
	now     func() time.Time
	horizon time.Duration
}

// NewChecker returns a checker searching up to horizon ahead. now may be nil.
func NewChecker(s store.Store, horizon time.Duration, now func() time.Time) *Checker {
	if now == nil {
		now = time.Now
	}
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Checker{store: s, now: now, horizon: horizon}
}

// IsAvailable reports whether no blocking booking overlaps [start, end).
func (c *Checker) IsAvailable(ctx context.Context, podID string, start, end time.Time) (bool, error) {
	return c.IsAvailableIn(ctx, c.store, podID, start, end)
}

// IsAvailableIn runs the check against r, typically a transaction holding
// the pod's row lock.
func (c *Checker) IsAvailableIn(ctx context.Context, r store.Repository, podID string, start, end time.Time) (bool, error) {
	if !end.After(start) {
		return false, apperror.Validation("availability.IsAvailable", "end must be after start")
	}
	if _, err := r.GetPod(ctx, podID); err != nil {
		return false, err
	}
	overlapping, err := r.BlockingBookings(ctx, podID, model.Timestamp(start), model.Timestamp(end))
	if err != nil {
		return false, apperror.Internal("availability.IsAvailable", err)
	}
	return len(overlapping) == 0, nil
}

// NextAvailableSlot returns the earliest instant at or after now that no
// blocking booking covers. It returns nil when the pod is out of service or
// booked solid for the whole horizon.
func (c *Checker) NextAvailableSlot(ctx context.Context, podID string) (*time.Time, error) {
	pod, err := c.store.GetPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	if pod.Status.Overridden() {
		return nil, nil
	}

	now := model.Timestamp(c.now())
	limit := now.Add(c.horizon)
	bookings, err := c.store.BlockingBookings(ctx, podID, now, limit)
	if err != nil {
		return nil, apperror.Internal("availability.NextAvailableSlot", err)
	}

	candidate := now
	for _, b := range bookings {
		if b.StartAt.After(candidate) {
			break
		}
		if b.EndAt.After(candidate) {
			candidate = b.EndAt
		}
	}
	if !candidate.Before(limit) {
		return nil, nil
	}
	return &candidate, nil
}
