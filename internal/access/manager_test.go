package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/lockgw"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
	"pod-booking-backend/internal/store/storetest"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type fixture struct {
	store   store.Store
	gateway *lockgw.Simulated
	clock   *clock
	manager *Manager
	pod     *model.Pod
}

var start = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	s := storetest.New(t)
	gw := lockgw.NewSimulated()
	c := &clock{t: start.Add(-time.Hour)}
	gw.SetClock(c.Now)
	return &fixture{
		store:   s,
		gateway: gw,
		clock:   c,
		manager: NewManager(s, gw, c.Now, zap.NewNop()),
		pod:     storetest.SeedPod(t, s, 2500),
	}
}

func (f *fixture) booking(t *testing.T, status model.BookingStatus) *model.Booking {
	b := &model.Booking{
		ID:       uuid.NewString(),
		UserID:   "u1",
		PodID:    f.pod.ID,
		StartAt:  start,
		EndAt:    start.Add(2 * time.Hour),
		Status:   status,
		Currency: "usd",
	}
	require.NoError(t, f.store.CreateBooking(context.Background(), b))
	return b
}

func TestIssue(t *testing.T) {
	ctx := context.Background()

	t.Run("confirmed booking gets a code for its window", func(t *testing.T) {
		f := newFixture(t)
		b := f.booking(t, model.BookingConfirmed)

		code, err := f.manager.Issue(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AccessActive, code.Status)
		assert.True(t, code.ValidFrom.Equal(b.StartAt))
		assert.True(t, code.ValidUntil.Equal(b.EndAt))
		assert.True(t, f.gateway.CodeLive(f.pod.LockID, code.Code))
	})

	t.Run("started booking starts now", func(t *testing.T) {
		f := newFixture(t)
		b := f.booking(t, model.BookingConfirmed)
		f.clock.t = start.Add(30 * time.Minute)

		code, err := f.manager.Issue(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, code.ValidFrom.Equal(f.clock.t))
		assert.True(t, code.ValidUntil.Equal(b.EndAt))
	})

	t.Run("vendor window inside the booking narrows it", func(t *testing.T) {
		f := newFixture(t)
		b := f.booking(t, model.BookingConfirmed)
		f.gateway.CodeTTL = time.Hour + 30*time.Minute

		code, err := f.manager.Issue(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, code.ValidUntil.Before(b.EndAt))
		assert.False(t, code.ValidFrom.Before(b.StartAt))
	})

	t.Run("issue is idempotent", func(t *testing.T) {
		f := newFixture(t)
		b := f.booking(t, model.BookingConfirmed)

		first, err := f.manager.Issue(ctx, b.ID)
		require.NoError(t, err)
		second, err := f.manager.Issue(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, f.gateway.Calls(lockgw.OpGenerate))
	})

	t.Run("pending booking is a conflict", func(t *testing.T) {
		f := newFixture(t)
		b := f.booking(t, model.BookingPending)

		_, err := f.manager.Issue(ctx, b.ID)
		assert.True(t, apperror.Is(err, apperror.KindConflict))
		assert.Zero(t, f.gateway.Calls(lockgw.OpGenerate))
	})

	t.Run("ended booking is a conflict", func(t *testing.T) {
		f := newFixture(t)
		b := f.booking(t, model.BookingConfirmed)
		f.clock.t = b.EndAt

		_, err := f.manager.Issue(ctx, b.ID)
		assert.True(t, apperror.Is(err, apperror.KindConflict))
	})

	t.Run("unknown booking", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.Issue(ctx, "missing")
		assert.True(t, apperror.Is(err, apperror.KindNotFound))
	})

	t.Run("vendor failure is a retryable lock error", func(t *testing.T) {
		f := newFixture(t)
		b := f.booking(t, model.BookingConfirmed)
		f.gateway.SetFailure(lockgw.OpGenerate, errors.New("timeout"))

		_, err := f.manager.Issue(ctx, b.ID)
		assert.True(t, apperror.Is(err, apperror.KindLock))
		assert.True(t, apperror.IsRetryable(err))

		_, err = f.store.ActiveAccessCode(ctx, b.ID)
		assert.True(t, apperror.Is(err, apperror.KindNotFound))
	})
}

func TestValidateRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, model.BookingConfirmed)

	code, err := f.manager.Issue(ctx, b.ID)
	require.NoError(t, err)

	f.clock.t = start.Add(time.Hour)
	ok, err := f.manager.Validate(ctx, f.pod.ID, code.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	f.clock.t = code.ValidUntil
	ok, err = f.manager.Validate(ctx, f.pod.ID, code.Code)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.manager.Validate(ctx, f.pod.ID, "000000x")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.manager.Validate(ctx, "missing-pod", code.Code)
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, model.BookingConfirmed)

	// no code yet
	require.NoError(t, f.manager.Revoke(ctx, b.ID))
	assert.Zero(t, f.gateway.Calls(lockgw.OpRevoke))

	code, err := f.manager.Issue(ctx, b.ID)
	require.NoError(t, err)

	f.clock.t = start.Add(30 * time.Minute)
	require.NoError(t, f.manager.Revoke(ctx, b.ID))

	stored, err := f.store.FindAccessCode(ctx, f.pod.ID, code.Code)
	require.NoError(t, err)
	assert.Equal(t, model.AccessRevoked, stored.Status)
	assert.True(t, stored.ValidUntil.Equal(f.clock.t))
	assert.False(t, f.gateway.CodeLive(f.pod.LockID, code.Code))

	ok, err := f.manager.Validate(ctx, f.pod.ID, code.Code)
	require.NoError(t, err)
	assert.False(t, ok)

	// a second revoke is a no-op
	require.NoError(t, f.manager.Revoke(ctx, b.ID))
	assert.Equal(t, 1, f.gateway.Calls(lockgw.OpRevoke))
}

func TestRevokeBeforeStartKeepsWindowInsideBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, model.BookingConfirmed)
	code, err := f.manager.Issue(ctx, b.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.Revoke(ctx, b.ID))
	stored, err := f.store.FindAccessCode(ctx, f.pod.ID, code.Code)
	require.NoError(t, err)
	assert.False(t, stored.ValidUntil.Before(b.StartAt))
}

func TestExpireStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, model.BookingConfirmed)
	_, err := f.manager.Issue(ctx, b.ID)
	require.NoError(t, err)

	n, err := f.manager.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.t = b.EndAt
	n, err = f.manager.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHandleEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b := f.booking(t, model.BookingConfirmed)

	confirmed := events.New(events.BookingConfirmed, f.clock.t)
	confirmed.BookingID = b.ID
	require.NoError(t, f.manager.HandleEvent(ctx, confirmed))

	code, err := f.store.ActiveAccessCode(ctx, b.ID)
	require.NoError(t, err)

	cancelled := events.New(events.BookingCancelled, f.clock.t)
	cancelled.BookingID = b.ID
	cancelled.LockID = f.pod.LockID
	cancelled.RevokedCode = code.Code
	require.NoError(t, f.manager.HandleEvent(ctx, cancelled))
	assert.False(t, f.gateway.CodeLive(f.pod.LockID, code.Code))
}
