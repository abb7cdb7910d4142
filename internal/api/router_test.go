package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pod-booking-backend/config"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/lockgw"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/mw"
	"pod-booking-backend/internal/payment"
	"pod-booking-backend/internal/service"
	"pod-booking-backend/internal/store"
	"pod-booking-backend/internal/store/storetest"
)

const (
	jwtSecret     = "test-secret"
	webhookSecret = "whsec_test"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router   *gin.Engine
	store    store.Store
	gateway  *lockgw.Simulated
	provider *payment.SimulatedProvider
	pod      *model.Pod
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		store:    storetest.New(t),
		gateway:  lockgw.NewSimulated(),
		provider: payment.NewSimulatedProvider(webhookSecret),
	}
	clock := func() time.Time { return now }
	f.gateway.SetClock(clock)
	svc := service.Assemble(service.Options{
		Store:    f.store,
		Gateway:  f.gateway,
		Provider: f.provider,
		Dedupe:   payment.NewMemoryDeduper(time.Hour),
		Bus:      events.NewBus(zap.NewNop()),
		Now:      clock,
		Log:      zap.NewNop(),
	})
	f.router = NewRouter(RouterOptions{
		Server: config.ServerConfig{
			RateLimitPerSec: 1000,
			RateLimitBurst:  1000,
			CacheTTLSeconds: 60,
			JWTSecret:       jwtSecret,
		},
		Service:  svc,
		Store:    f.store,
		Webpush:  &webpush.Options{VAPIDPublicKey: "vapid-pub"},
		Location: time.UTC,
		Log:      zap.NewNop(),
	})
	f.pod = storetest.SeedPod(t, f.store, 2500)
	return f
}

func token(t *testing.T, actor model.Actor) string {
	t.Helper()
	tok, err := mw.SignToken([]byte(jwtSecret), actor, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path string, actor *model.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *actor))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var (
	alice    = model.Actor{UserID: "alice"}
	bob      = model.Actor{UserID: "bob"}
	operator = model.Actor{UserID: "ops", Role: model.RoleOperator}
)

func (f *fixture) createBooking(t *testing.T, start time.Time, duration string) model.Booking {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/bookings", &alice, gin.H{
		"podId":    f.pod.ID,
		"start":    start.Format(time.RFC3339),
		"duration": duration,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Booking](t, w)
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	start := now.Add(time.Hour)

	t.Run("requires a token", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/bookings", nil, gin.H{"podId": f.pod.ID})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("creates a pending booking with a payment reference", func(t *testing.T) {
		b := f.createBooking(t, start, "2h")
		assert.Equal(t, model.BookingPending, b.Status)
		assert.Equal(t, "alice", b.UserID)
		assert.Equal(t, int64(5000), b.TotalAmountCents)
		require.NotNil(t, b.PaymentRef)
		assert.Equal(t, *b.PaymentRef+"_secret", b.ClientSecret)
		assert.True(t, start.Add(2*time.Hour).Equal(b.EndAt))
	})

	t.Run("overlap is a conflict", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/bookings", &bob, gin.H{
			"podId": f.pod.ID,
			"start": start.Add(time.Hour).Format(time.RFC3339),
			"end":   start.Add(3 * time.Hour).Format(time.RFC3339),
		})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "conflict", decode[errorResponse](t, w).Kind)
	})

	testCases := []struct {
		name string
		body any
		code int
	}{
		{"empty body", []byte(""), http.StatusBadRequest},
		{"malformed json", []byte("{"), http.StatusBadRequest},
		{"missing pod", gin.H{"start": start.Format(time.RFC3339), "duration": "1h"}, http.StatusBadRequest},
		{"missing end and duration", gin.H{"podId": f.pod.ID, "start": start.Format(time.RFC3339)}, http.StatusBadRequest},
		{"unparseable start", gin.H{"podId": f.pod.ID, "start": "soon", "duration": "1h"}, http.StatusBadRequest},
		{"end before start", gin.H{"podId": f.pod.ID, "start": start.Format(time.RFC3339), "end": start.Add(-time.Hour).Format(time.RFC3339)}, http.StatusBadRequest},
		{"unknown pod", gin.H{"podId": "nope", "start": start.Add(24 * time.Hour).Format(time.RFC3339), "duration": "1h"}, http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/bookings", &alice, tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}

func TestCreateBookingPaymentFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.SetError(errors.New("card network down"))

	w := f.do(t, http.MethodPost, "/api/bookings", &alice, gin.H{
		"podId":    f.pod.ID,
		"start":    now.Add(time.Hour).Format(time.RFC3339),
		"duration": "1h",
	})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	resp := decode[paymentPendingResponse](t, w)
	assert.True(t, resp.Retryable)
	require.NotNil(t, resp.Booking)
	assert.Equal(t, model.BookingPending, resp.Booking.Status)

	f.provider.SetError(nil)
	w = f.do(t, http.MethodPost, "/api/bookings/"+resp.Booking.ID+"/authorize", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	auth := decode[authorizationResponse](t, w)
	assert.NotEmpty(t, auth.PaymentRef)
	assert.Equal(t, auth.PaymentRef+"_secret", auth.ClientSecret)
	assert.Equal(t, "requires_capture", auth.Status)
}

func TestPaymentWebhookConfirmsAndIssuesCode(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t, now.Add(time.Hour), "1h")

	payload := f.provider.Webhook(payment.CallbackEvent{
		ID:              "evt_1",
		Kind:            payment.CallbackSucceeded,
		AuthorizationID: *b.PaymentRef,
		Metadata:        map[string]string{payment.MetadataBookingID: b.ID},
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/api/webhooks/payments", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "forged")
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, "/api/webhooks/payments", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", webhookSecret)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := f.do(t, http.MethodGet, "/api/bookings/"+b.ID, &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.BookingConfirmed, decode[model.Booking](t, w).Status)

	w = f.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/access-code", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	code := decode[model.AccessCode](t, w)
	assert.Equal(t, model.AccessActive, code.Status)
	assert.Len(t, code.Code, 6)

	validate := func(value string) bool {
		w := f.do(t, http.MethodPost, "/api/pods/"+f.pod.ID+"/access-codes/validate", nil, gin.H{"code": value})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[map[string]bool](t, w)["valid"]
	}
	assert.True(t, validate(code.Code))

	w = f.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/cancel", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.BookingCancelled, decode[model.Booking](t, w).Status)
	assert.False(t, validate(code.Code))

	w = f.do(t, http.MethodPost, "/api/pods/"+f.pod.ID+"/access-codes/validate", nil, gin.H{"code": "12ab"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentWebhookForUnknownIntentIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	payload := f.provider.Webhook(payment.CallbackEvent{
		ID:              "evt_foreign",
		Kind:            payment.CallbackSucceeded,
		AuthorizationID: "pi_not_ours",
	})

	req, _ := http.NewRequest(http.MethodPost, "/api/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", webhookSecret)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestBookingOwnership(t *testing.T) {
	f := newFixture(t)
	b := f.createBooking(t, now.Add(time.Hour), "1h")

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/bookings/"+b.ID, &bob, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/bookings/"+b.ID, &operator, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/bookings/missing", &alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/api/bookings/"+b.ID+"/cancel", &bob, nil).Code)
}

func TestAvailabilityEndpoints(t *testing.T) {
	f := newFixture(t)
	start := now.Add(time.Hour)
	f.createBooking(t, start, "2h")

	available := func(from time.Time) bool {
		path := "/api/pods/" + f.pod.ID + "/availability?start=" + from.Format(time.RFC3339) + "&duration=1h"
		w := f.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[map[string]any](t, w)["available"].(bool)
	}
	assert.False(t, available(start.Add(time.Hour)))
	assert.True(t, available(start.Add(2*time.Hour)))

	w := f.do(t, http.MethodGet, "/api/pods/"+f.pod.ID+"/availability?start=nope&duration=1h", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/pods/missing/next-slot", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/pods/"+f.pod.ID+"/next-slot", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	next := decode[struct {
		Next *time.Time `json:"next"`
	}](t, w)
	require.NotNil(t, next.Next)
}

func TestOperatorRoutes(t *testing.T) {
	f := newFixture(t)
	base := "/api/pods/" + f.pod.ID

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, base+"/maintenance", &alice, nil).Code)

	w := f.do(t, http.MethodPost, base+"/maintenance", &operator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.PodMaintenance, decode[model.Pod](t, w).Status)

	w = f.do(t, http.MethodPost, base+"/restore", &operator, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.PodAvailable, decode[model.Pod](t, w).Status)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"/restore", &operator, nil).Code)

	f.gateway.SetFailure(lockgw.OpLock, errors.New("lock offline"))
	w = f.do(t, http.MethodPost, base+"/shutdown", &operator, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
	resp := decode[struct {
		Kind string    `json:"kind"`
		Pod  model.Pod `json:"pod"`
	}](t, w)
	assert.Equal(t, "lock", resp.Kind)
	assert.Equal(t, model.PodOffline, resp.Pod.Status)
}

func TestSubscriptions(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPut, "/api/subscriptions", &alice, gin.H{"endpoint": "not a url", "p256dh": "k", "auth": "a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/subscriptions", &alice, gin.H{"endpoint": "https://push.example/1", "p256dh": "k", "auth": "a"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/subscriptions", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"endpoints":["https://push.example/1"]}`, w.Body.String())

	w = f.do(t, http.MethodDelete, "/api/subscriptions", &alice, gin.H{"endpoint": "https://push.example/1"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/vapid_public_key", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"vapid-pub"}`, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("plain")))
}
