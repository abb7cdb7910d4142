// Package payment authorizes booking payments with the provider and turns
// provider callbacks into booking transitions.
package payment

import "context"

// MetadataBookingID is the authorization metadata key carrying the booking id.
const MetadataBookingID = "booking_id"

// AuthorizeRequest asks the provider to hold AmountCents for a booking.
type AuthorizeRequest struct {
	BookingID      string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

// Authorization is the provider's record of a payment attempt. ClientSecret
// lets the client confirm the attempt with the provider and must not be
// stored or logged.
type Authorization struct {
	ID           string
	Status       string
	ClientSecret string
}

// CallbackKind classifies a provider callback.
type CallbackKind string

const (
	CallbackSucceeded CallbackKind = "succeeded"
	CallbackFailed    CallbackKind = "failed"
	CallbackOther     CallbackKind = "other"
)

// CallbackEvent is a provider notification about an authorization. Delivery
// is at least once and in no particular order.
type CallbackEvent struct {
	ID              string
	Kind            CallbackKind
	ProviderType    string
	AuthorizationID string
	Metadata        map[string]string
	Reason          string
}

// Provider is the payment provider boundary.
type Provider interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error)
	// Lookup fetches an authorization created earlier.
	Lookup(ctx context.Context, id string) (*Authorization, error)
	// ParseWebhook verifies the signature and decodes the payload.
	ParseWebhook(payload []byte, signature string) (*CallbackEvent, error)
}
