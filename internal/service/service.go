// Package service exposes the booking orchestrator's operations to the
// transport layer.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pod-booking-backend/internal/access"
	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/availability"
	"pod-booking-backend/internal/booking"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/occupancy"
	"pod-booking-backend/internal/payment"
	"pod-booking-backend/internal/store"
)

// Service composes the lifecycle components. It holds no state of its own.
type Service struct {
	store     store.Store
	bookings  booking.Lifecycle
	checker   *availability.Checker
	access    *access.Manager
	occupancy *occupancy.Controller
	payments  *payment.Orchestrator
	log       *zap.Logger
}

// Deps lists the collaborators of a Service.
type Deps struct {
	Store     store.Store
	Bookings  booking.Lifecycle
	Checker   *availability.Checker
	Access    *access.Manager
	Occupancy *occupancy.Controller
	Payments  *payment.Orchestrator
	Log       *zap.Logger
}

func New(d Deps) *Service {
	return &Service{
		store:     d.Store,
		bookings:  d.Bookings,
		checker:   d.Checker,
		access:    d.Access,
		occupancy: d.Occupancy,
		payments:  d.Payments,
		log:       d.Log,
	}
}

// CreateBooking reserves the pod and starts the payment authorization. When
// only the authorization fails, the PENDING booking is returned together
// with the retryable payment error.
func (s *Service) CreateBooking(ctx context.Context, actor model.Actor, podID string, start, end time.Time) (*model.Booking, error) {
	b, err := s.bookings.Create(ctx, actor.UserID, podID, start, end)
	if err != nil {
		return nil, err
	}
	auth, err := s.payments.Authorize(ctx, b.ID, b.TotalAmountCents, b.Currency)
	if err != nil {
		return b, err
	}
	b.PaymentRef = &auth.ID
	b.ClientSecret = auth.ClientSecret
	return b, nil
}

// AuthorizePayment retries the authorization of a PENDING booking, or
// returns the one already started.
func (s *Service) AuthorizePayment(ctx context.Context, actor model.Actor, bookingID string) (*payment.Authorization, error) {
	b, err := s.owned(ctx, "service.AuthorizePayment", actor, bookingID)
	if err != nil {
		return nil, err
	}
	return s.payments.Authorize(ctx, b.ID, b.TotalAmountCents, b.Currency)
}

// ConfirmBooking confirms a booking on behalf of a payment callback.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID, paymentRef string) (*model.Booking, error) {
	return s.bookings.Confirm(ctx, bookingID, paymentRef)
}

func (s *Service) CancelBooking(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	return s.bookings.Cancel(ctx, bookingID, actor)
}

// EndBooking completes the session.
func (s *Service) EndBooking(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	return s.bookings.Complete(ctx, bookingID, actor)
}

func (s *Service) UnlockPod(ctx context.Context, actor model.Actor, bookingID string) (*model.Pod, error) {
	return s.occupancy.Unlock(ctx, bookingID, actor)
}

// IssueAccessCode returns the booking's code, minting one when needed.
func (s *Service) IssueAccessCode(ctx context.Context, actor model.Actor, bookingID string) (*model.AccessCode, error) {
	if _, err := s.owned(ctx, "service.IssueAccessCode", actor, bookingID); err != nil {
		return nil, err
	}
	return s.access.Issue(ctx, bookingID)
}

func (s *Service) ValidateAccessCode(ctx context.Context, podID, code string) (bool, error) {
	return s.access.Validate(ctx, podID, code)
}

func (s *Service) GetBooking(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error) {
	return s.owned(ctx, "service.GetBooking", actor, bookingID)
}

func (s *Service) CheckAvailability(ctx context.Context, podID string, start, end time.Time) (bool, error) {
	return s.checker.IsAvailable(ctx, podID, start, end)
}

func (s *Service) NextAvailableSlot(ctx context.Context, podID string) (*time.Time, error) {
	return s.checker.NextAvailableSlot(ctx, podID)
}

func (s *Service) SetMaintenance(ctx context.Context, podID string) (*model.Pod, error) {
	return s.occupancy.SetMaintenance(ctx, podID)
}

func (s *Service) RestorePod(ctx context.Context, podID string) (*model.Pod, error) {
	return s.occupancy.Restore(ctx, podID)
}

func (s *Service) EmergencyShutdown(ctx context.Context, podID string) (*model.Pod, error) {
	return s.occupancy.EmergencyShutdown(ctx, podID)
}

// HandlePaymentWebhook verifies and applies a provider webhook.
func (s *Service) HandlePaymentWebhook(ctx context.Context, payload []byte, signature string) error {
	return s.payments.HandleWebhook(ctx, payload, signature)
}

func (s *Service) owned(ctx context.Context, op string, actor model.Actor, bookingID string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.OwnedBy(actor) {
		return nil, apperror.Forbidden(op, "booking %s belongs to another user", bookingID)
	}
	return b, nil
}

// ExpireAccessCodes marks codes whose window has closed as EXPIRED.
func (s *Service) ExpireAccessCodes(ctx context.Context) (int64, error) {
	return s.access.ExpireStale(ctx)
}

// ReleaseLapsedOccupancies frees pods still held by bookings whose window
// has closed.
func (s *Service) ReleaseLapsedOccupancies(ctx context.Context, limit int) (int, error) {
	return s.occupancy.ReleaseLapsed(ctx, limit)
}

// FailBooking fails a PENDING booking without a provider callback.
func (s *Service) FailBooking(ctx context.Context, bookingID, reason string) (*model.Booking, error) {
	return s.bookings.Fail(ctx, bookingID, reason)
}
