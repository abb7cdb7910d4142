package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SimulatedProvider approves every authorization unless told otherwise. Its
// webhooks are plain JSON CallbackEvents signed with a shared secret.
type SimulatedProvider struct {
	secret string

	mu       sync.Mutex
	err      error
	requests []AuthorizeRequest
	byKey    map[string]*Authorization
	byID     map[string]*Authorization
}

func NewSimulatedProvider(secret string) *SimulatedProvider {
	return &SimulatedProvider{
		secret: secret,
		byKey:  make(map[string]*Authorization),
		byID:   make(map[string]*Authorization),
	}
}

// SetError makes Authorize fail with err until cleared with nil.
func (p *SimulatedProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Requests returns every authorize call received, failed ones included.
func (p *SimulatedProvider) Requests() []AuthorizeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AuthorizeRequest(nil), p.requests...)
}

func (p *SimulatedProvider) Authorize(ctx context.Context, req AuthorizeRequest) (*Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if auth, ok := p.byKey[req.IdempotencyKey]; ok {
		return auth, nil
	}
	id := "sim_" + uuid.NewString()
	auth := &Authorization{ID: id, Status: "requires_capture", ClientSecret: id + "_secret"}
	p.byKey[req.IdempotencyKey] = auth
	p.byID[id] = auth
	return auth, nil
}

func (p *SimulatedProvider) Lookup(ctx context.Context, id string) (*Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	auth, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("no authorization %s", id)
	}
	return auth, nil
}

type simulatedWebhook struct {
	ID              string            `json:"id"`
	Kind            CallbackKind      `json:"kind"`
	AuthorizationID string            `json:"authorizationId"`
	Metadata        map[string]string `json:"metadata"`
	Reason          string            `json:"reason"`
}

func (p *SimulatedProvider) ParseWebhook(payload []byte, signature string) (*CallbackEvent, error) {
	if signature != p.secret {
		return nil, fmt.Errorf("signature mismatch")
	}
	var w simulatedWebhook
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	kind := w.Kind
	if kind != CallbackSucceeded && kind != CallbackFailed {
		kind = CallbackOther
	}
	return &CallbackEvent{
		ID:              w.ID,
		Kind:            kind,
		ProviderType:    string(w.Kind),
		AuthorizationID: w.AuthorizationID,
		Metadata:        w.Metadata,
		Reason:          w.Reason,
	}, nil
}

// Webhook builds a payload ParseWebhook accepts.
func (p *SimulatedProvider) Webhook(ev CallbackEvent) []byte {
	raw, _ := json.Marshal(simulatedWebhook{
		ID:              ev.ID,
		Kind:            ev.Kind,
		AuthorizationID: ev.AuthorizationID,
		Metadata:        ev.Metadata,
		Reason:          ev.Reason,
	})
	return raw
}
