package payment

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
)

// Transitions is the part of the booking lifecycle driven by callbacks.
type Transitions interface {
	Confirm(ctx context.Context, bookingID, paymentRef string) (*model.Booking, error)
	Fail(ctx context.Context, bookingID, reason string) (*model.Booking, error)
}

// Orchestrator authorizes payments and reacts to provider callbacks.
type Orchestrator struct {
	store    store.Store
	provider Provider
	bookings Transitions
	dedupe   Deduper
	log      *zap.Logger
}

func NewOrchestrator(s store.Store, p Provider, bookings Transitions, dedupe Deduper, log *zap.Logger) *Orchestrator {
	return &Orchestrator{store: s, provider: p, bookings: bookings, dedupe: dedupe, log: log}
}

// Authorize asks the provider to hold the booking's amount and stores the
// returned reference. A booking that already has a reference gets the
// existing authorization back. Provider failures leave the booking PENDING
// and are retryable.
func (o *Orchestrator) Authorize(ctx context.Context, bookingID string, amountCents int64, currency string) (*Authorization, error) {
	const op = "payment.Authorize"

	b, err := o.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.BookingPending {
		return nil, apperror.Conflict(op, "booking %s is %s, not PENDING", bookingID, b.Status)
	}
	if b.PaymentRef != nil {
		return o.lookup(ctx, op, bookingID, *b.PaymentRef)
	}
	if amountCents != b.TotalAmountCents || !strings.EqualFold(currency, b.Currency) {
		return nil, apperror.Validation(op, "amount %d %s does not match booking total %d %s",
			amountCents, currency, b.TotalAmountCents, b.Currency)
	}

	auth, err := o.provider.Authorize(ctx, AuthorizeRequest{
		BookingID:      bookingID,
		AmountCents:    amountCents,
		Currency:       strings.ToLower(currency),
		IdempotencyKey: "booking-" + bookingID,
	})
	if err != nil {
		o.log.Warn("payment authorization failed", zap.String("booking_id", bookingID), zap.Error(err))
		return nil, apperror.Payment(op, err, "authorize booking %s", bookingID)
	}

	ref := auth.ID
	err = o.store.Atomic(ctx, func(r store.Repository) error {
		current, err := r.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if current.PaymentRef != nil {
			ref = *current.PaymentRef
			return nil
		}
		// a fast callback may already have moved the booking on
		if current.Status != model.BookingPending {
			return nil
		}
		current.PaymentRef = &auth.ID
		return r.SaveBooking(ctx, current)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}
	if ref != auth.ID {
		return o.lookup(ctx, op, bookingID, ref)
	}

	o.log.Info("payment authorized",
		zap.String("booking_id", bookingID),
		zap.String("authorization_id", ref),
		zap.String("status", auth.Status))
	return auth, nil
}

func (o *Orchestrator) lookup(ctx context.Context, op, bookingID, ref string) (*Authorization, error) {
	auth, err := o.provider.Lookup(ctx, ref)
	if err != nil {
		o.log.Warn("payment lookup failed", zap.String("booking_id", bookingID), zap.String("authorization_id", ref), zap.Error(err))
		return nil, apperror.Payment(op, err, "look up authorization %s", ref)
	}
	return auth, nil
}

// HandleCallback applies a provider callback. Duplicates and callbacks that
// arrive after the booking has moved on are acknowledged without changes.
func (o *Orchestrator) HandleCallback(ctx context.Context, ev *CallbackEvent) error {
	const op = "payment.HandleCallback"
	log := o.log.With(
		zap.String("event_id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.String("authorization_id", ev.AuthorizationID))

	if ev.ID != "" {
		seen, err := o.dedupe.Seen(ctx, ev.ID)
		if err != nil {
			log.Warn("callback dedupe lookup failed", zap.Error(err))
		}
		if seen {
			log.Debug("duplicate callback skipped")
			return nil
		}
	}

	if ev.Kind != CallbackSucceeded && ev.Kind != CallbackFailed {
		log.Info("ignoring payment callback", zap.String("provider_type", ev.ProviderType))
		o.markProcessed(ctx, log, ev)
		return nil
	}

	bookingID, err := o.resolveBooking(ctx, ev)
	if apperror.Is(err, apperror.KindNotFound) {
		// not ours, redelivery would not change that
		log.Warn("payment callback matches no booking", zap.Error(err))
		o.markProcessed(ctx, log, ev)
		return nil
	}
	if err != nil {
		return apperror.Wrap(op, err)
	}
	log = log.With(zap.String("booking_id", bookingID))

	if ev.Kind == CallbackSucceeded {
		_, err = o.bookings.Confirm(ctx, bookingID, ev.AuthorizationID)
	} else {
		reason := ev.Reason
		if reason == "" {
			reason = "payment failed"
		}
		_, err = o.bookings.Fail(ctx, bookingID, reason)
	}
	switch {
	case apperror.Is(err, apperror.KindConflict):
		log.Warn("payment callback does not apply to the booking's current state", zap.Error(err))
	case apperror.Is(err, apperror.KindNotFound):
		log.Warn("payment callback names an unknown booking", zap.Error(err))
	case err != nil:
		return err
	}

	o.markProcessed(ctx, log, ev)
	return nil
}

// HandleWebhook verifies a raw provider payload and applies it.
func (o *Orchestrator) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := o.provider.ParseWebhook(payload, signature)
	if err != nil {
		o.log.Warn("rejected payment webhook", zap.Error(err))
		return apperror.Validation("payment.HandleWebhook", "invalid webhook: %v", err)
	}
	return o.HandleCallback(ctx, ev)
}

func (o *Orchestrator) resolveBooking(ctx context.Context, ev *CallbackEvent) (string, error) {
	if id := ev.Metadata[MetadataBookingID]; id != "" {
		return id, nil
	}
	if ev.AuthorizationID == "" {
		return "", apperror.NotFound("payment.HandleCallback", "callback %s carries no booking reference", ev.ID)
	}
	b, err := o.store.FindBookingByPaymentRef(ctx, ev.AuthorizationID)
	if err != nil {
		return "", err
	}
	return b.ID, nil
}

func (o *Orchestrator) markProcessed(ctx context.Context, log *zap.Logger, ev *CallbackEvent) {
	if ev.ID == "" {
		return
	}
	if err := o.dedupe.Mark(ctx, ev.ID); err != nil {
		log.Warn("callback dedupe mark failed", zap.Error(err))
	}
}
