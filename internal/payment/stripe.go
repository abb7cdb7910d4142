package payment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeProvider authorizes with manual-capture PaymentIntents.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	return newStripeProvider(secretKey, webhookSecret, nil)
}

// newStripeProvider talks to the given backends, the default ones when nil.
func newStripeProvider(secretKey, webhookSecret string, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{api: client.New(secretKey, backends), webhookSecret: webhookSecret}
}

func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata(MetadataBookingID, req.BookingID)
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return stripeAuthorization(pi), nil
}

func (p *StripeProvider) Lookup(ctx context.Context, id string) (*Authorization, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get payment intent %s: %w", id, err)
	}
	return stripeAuthorization(pi), nil
}

func stripeAuthorization(pi *stripe.PaymentIntent) *Authorization {
	return &Authorization{ID: pi.ID, Status: string(pi.Status), ClientSecret: pi.ClientSecret}
}

func (p *StripeProvider) ParseWebhook(payload []byte, signature string) (*CallbackEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, err
	}
	return stripeCallback(ev)
}

// stripeCallback maps PaymentIntent events onto callback kinds. A manual
// capture intent reports a successful authorization as
// amount_capturable_updated.
func stripeCallback(ev stripe.Event) (*CallbackEvent, error) {
	out := &CallbackEvent{ID: ev.ID, Kind: CallbackOther, ProviderType: string(ev.Type)}

	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.amount_capturable_updated":
		out.Kind = CallbackSucceeded
	case "payment_intent.payment_failed", "payment_intent.canceled":
		out.Kind = CallbackFailed
	default:
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("stripe: decode payment intent: %w", err)
	}
	out.AuthorizationID = pi.ID
	out.Metadata = pi.Metadata
	if pi.LastPaymentError != nil {
		out.Reason = pi.LastPaymentError.Msg
		if out.Reason == "" {
			out.Reason = string(pi.LastPaymentError.Code)
		}
	}
	if out.Kind == CallbackFailed && out.Reason == "" && pi.CancellationReason != "" {
		out.Reason = string(pi.CancellationReason)
	}
	return out, nil
}
