package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pod-booking-backend/internal/access"
	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/availability"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/lockgw"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/occupancy"
	"pod-booking-backend/internal/store"
	"pod-booking-backend/internal/store/storetest"
)

var (
	now   = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	start = now.Add(time.Hour)
	owner = model.Actor{UserID: "u1"}
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(ctx context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	store     store.Store
	gateway   *lockgw.Simulated
	clock     time.Time
	machine   *Machine
	access    *access.Manager
	occupancy *occupancy.Controller
	recorder  *recorder
	pod       *model.Pod
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		store:    storetest.New(t),
		gateway:  lockgw.NewSimulated(),
		clock:    now,
		recorder: &recorder{},
	}
	clock := func() time.Time { return f.clock }
	bus := events.NewBus(zap.NewNop())
	bus.Subscribe("recorder", f.recorder.handle)

	checker := availability.NewChecker(f.store, 0, clock)
	f.machine = NewMachine(f.store, checker, bus, Config{MaxDuration: 24 * time.Hour}, clock, zap.NewNop())
	f.access = access.NewManager(f.store, f.gateway, clock, zap.NewNop())
	f.occupancy = occupancy.NewController(f.store, f.gateway, clock, zap.NewNop())
	f.pod = storetest.SeedPod(t, f.store, 25)
	return f
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("pending booking with computed amount", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, model.BookingPending, b.Status)
		assert.Equal(t, int64(50), b.TotalAmountCents)
		assert.Equal(t, "usd", b.Currency)
		assert.Equal(t, []events.Type{events.BookingCreated}, f.recorder.types())

		stored, err := f.store.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BookingPending, stored.Status)
	})

	validation := []struct {
		name       string
		start, end time.Time
	}{
		{"end before start", start, start.Add(-time.Hour)},
		{"end equals start", start, start},
		{"longer than a day", start, start.Add(24*time.Hour + time.Second)},
		{"in the past", now.Add(-3 * time.Hour), now.Add(-time.Hour)},
	}
	for _, tc := range validation {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.machine.Create(ctx, "u1", f.pod.ID, tc.start, tc.end)
			assert.True(t, apperror.Is(err, apperror.KindValidation), "got %v", err)

			var count int64
			require.NoError(t, f.store.DB().Model(&model.Booking{}).Count(&count).Error)
			assert.Zero(t, count)
			assert.Empty(t, f.recorder.types())
		})
	}

	t.Run("overlap is a conflict", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(2*time.Hour))
		require.NoError(t, err)

		overlapping := [][2]time.Time{
			{start, start.Add(2 * time.Hour)},
			{start.Add(time.Hour), start.Add(3 * time.Hour)},
			{start.Add(-time.Hour), start.Add(time.Minute)},
		}
		for _, iv := range overlapping {
			_, err := f.machine.Create(ctx, "u2", f.pod.ID, iv[0], iv[1])
			assert.True(t, apperror.Is(err, apperror.KindConflict))
		}

		_, err = f.machine.Create(ctx, "u2", f.pod.ID, start.Add(2*time.Hour), start.Add(3*time.Hour))
		assert.NoError(t, err)
	})

	t.Run("failed booking frees the interval", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
		require.NoError(t, err)
		_, err = f.machine.Fail(ctx, b.ID, "declined")
		require.NoError(t, err)

		_, err = f.machine.Create(ctx, "u2", f.pod.ID, start, start.Add(time.Hour))
		assert.NoError(t, err)
	})

	t.Run("pod out of service", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.occupancy.SetMaintenance(ctx, f.pod.ID)
		require.NoError(t, err)

		_, err = f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
		assert.True(t, apperror.Is(err, apperror.KindConflict))
	})

	t.Run("unknown pod", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.machine.Create(ctx, "u1", "missing", start, start.Add(time.Hour))
		assert.True(t, apperror.Is(err, apperror.KindNotFound))
	})
}

func TestConcurrentCreateExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(2*time.Hour))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if apperror.Is(err, apperror.KindConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, attempts-1, conflicts)
}

func TestConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
	require.NoError(t, err)

	confirmed, err := f.machine.Confirm(ctx, b.ID, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.PaymentRef)
	assert.Equal(t, "pi_1", *confirmed.PaymentRef)
	require.NotNil(t, confirmed.ConfirmedAt)

	// redelivery is a no-op
	again, err := f.machine.Confirm(ctx, b.ID, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, again.Status)
	assert.Equal(t, []events.Type{events.BookingCreated, events.BookingConfirmed}, f.recorder.types())

	_, err = f.machine.Confirm(ctx, b.ID, "pi_other")
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = f.machine.Fail(ctx, b.ID, "late failure")
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = f.machine.Confirm(ctx, "missing", "pi_1")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
	require.NoError(t, err)

	failed, err := f.machine.Fail(ctx, b.ID, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, model.BookingFailed, failed.Status)
	assert.Equal(t, "card_declined", failed.FailureReason)

	_, err = f.machine.Fail(ctx, b.ID, "card_declined")
	require.NoError(t, err)
	assert.Equal(t, []events.Type{events.BookingCreated, events.BookingFailed}, f.recorder.types())

	_, err = f.machine.Confirm(ctx, b.ID, "")
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	pod, err := f.store.GetPod(ctx, f.pod.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PodAvailable, pod.Status)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending booking", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
		require.NoError(t, err)

		cancelled, err := f.machine.Cancel(ctx, b.ID, owner)
		require.NoError(t, err)
		assert.Equal(t, model.BookingCancelled, cancelled.Status)
		assert.NotNil(t, cancelled.ClosedAt)
		e := f.recorder.last()
		assert.Equal(t, events.BookingCancelled, e.Type)
		assert.False(t, e.PodReleased)
		assert.Empty(t, e.RevokedCode)
	})

	t.Run("unlocked confirmed booking takes the compensating path", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(2*time.Hour))
		require.NoError(t, err)
		_, err = f.machine.Confirm(ctx, b.ID, "pi_1")
		require.NoError(t, err)
		code, err := f.access.Issue(ctx, b.ID)
		require.NoError(t, err)

		f.clock = start.Add(10 * time.Minute)
		_, err = f.occupancy.Unlock(ctx, b.ID, owner)
		require.NoError(t, err)

		_, err = f.machine.Cancel(ctx, b.ID, owner)
		require.NoError(t, err)

		pod, err := f.store.GetPod(ctx, f.pod.ID)
		require.NoError(t, err)
		assert.Equal(t, model.PodAvailable, pod.Status)
		assert.Nil(t, pod.OccupiedBy)

		stored, err := f.store.FindAccessCode(ctx, f.pod.ID, code.Code)
		require.NoError(t, err)
		assert.Equal(t, model.AccessRevoked, stored.Status)

		e := f.recorder.last()
		assert.Equal(t, events.BookingCancelled, e.Type)
		assert.True(t, e.PodReleased)
		assert.Equal(t, code.Code, e.RevokedCode)
		assert.Equal(t, f.pod.LockID, e.LockID)
	})

	t.Run("terminal booking is a conflict", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
		require.NoError(t, err)
		_, err = f.machine.Cancel(ctx, b.ID, owner)
		require.NoError(t, err)

		_, err = f.machine.Cancel(ctx, b.ID, owner)
		assert.True(t, apperror.Is(err, apperror.KindConflict))
	})

	t.Run("other users may not cancel", func(t *testing.T) {
		f := newFixture(t)
		b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
		require.NoError(t, err)

		_, err = f.machine.Cancel(ctx, b.ID, model.Actor{UserID: "u2"})
		assert.True(t, apperror.Is(err, apperror.KindAuthorization))

		stored, err := f.store.GetBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, model.BookingPending, stored.Status)

		_, err = f.machine.Cancel(ctx, b.ID, model.Actor{UserID: "staff", Role: model.RoleOperator})
		assert.NoError(t, err)
	})
}

func TestComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	b, err := f.machine.Create(ctx, "u1", f.pod.ID, start, start.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.machine.Complete(ctx, b.ID, owner)
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = f.machine.Confirm(ctx, b.ID, "pi_1")
	require.NoError(t, err)
	completed, err := f.machine.Complete(ctx, b.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, model.BookingCompleted, completed.Status)
	assert.Equal(t, events.BookingCompleted, f.recorder.last().Type)

	_, err = f.machine.Cancel(ctx, b.ID, owner)
	assert.True(t, apperror.Is(err, apperror.KindConflict))
}
