// Package booking owns the booking state machine:
//
//	PENDING -> CONFIRMED -> COMPLETED
//	PENDING -> FAILED
//	PENDING | CONFIRMED -> CANCELLED
package booking

import (
	"context"
	"time"

	"pod-booking-backend/internal/model"
)

// Lifecycle is the set of booking transitions. Machine persists them;
// bookingtest.Fake keeps them in memory.
type Lifecycle interface {
	Create(ctx context.Context, userID, podID string, start, end time.Time) (*model.Booking, error)
	Confirm(ctx context.Context, bookingID, paymentRef string) (*model.Booking, error)
	Fail(ctx context.Context, bookingID, reason string) (*model.Booking, error)
	Cancel(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error)
	Complete(ctx context.Context, bookingID string, actor model.Actor) (*model.Booking, error)
}

// DefaultMaxDuration caps a single booking.
const DefaultMaxDuration = 24 * time.Hour
