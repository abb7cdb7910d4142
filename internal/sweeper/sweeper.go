// Package sweeper runs the periodic housekeeping of the booking lifecycle.
// Each cycle expires access codes, frees pods whose session window has
// closed, completes finished bookings and fails abandoned payments.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"pod-booking-backend/config"
	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
)

// batchSize bounds the bookings handled per category in one cycle.
const batchSize = 100

// Operations are the lifecycle operations the sweeper drives.
type Operations interface {
	ExpireAccessCodes(ctx context.Context) (int64, error)
	ReleaseLapsedOccupancies(ctx context.Context, limit int) (int, error)
	EndBooking(ctx context.Context, actor model.Actor, bookingID string) (*model.Booking, error)
	FailBooking(ctx context.Context, bookingID, reason string) (*model.Booking, error)
}

// Result counts what one cycle changed.
type Result struct {
	Expired   int64
	Released  int
	Completed int
	Failed    int
}

// Sweeper drives Operations on a timer.
type Sweeper struct {
	cfg     config.SweeperConfig
	booking config.BookingConfig
	store   store.Store
	ops     Operations
	now     func() time.Time
	log     *zap.Logger
}

// New creates a sweeper. now may be nil.
func New(cfg config.SweeperConfig, booking config.BookingConfig, s store.Store, ops Operations, now func() time.Time, log *zap.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	return &Sweeper{cfg: cfg, booking: booking, store: s, ops: ops, now: now, log: log}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("sweeper is disabled, not starting")
		return
	}
	s.log.Info("starting sweeper", zap.Duration("interval", s.cfg.Interval))

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce performs a single cycle. Failures are logged and the cycle
// carries on with the next item.
func (s *Sweeper) SweepOnce(ctx context.Context) Result {
	var res Result
	now := model.Timestamp(s.now())

	expired, err := s.ops.ExpireAccessCodes(ctx)
	if err != nil {
		s.log.Error("expiring access codes failed", zap.Error(err))
	}
	res.Expired = expired

	// Pods are freed at the booking's end, completion may come later.
	released, err := s.ops.ReleaseLapsedOccupancies(ctx, batchSize)
	if err != nil {
		s.log.Error("releasing lapsed occupancies failed", zap.Error(err))
	}
	res.Released = released

	ended, err := s.store.EndedBookings(ctx, model.BookingConfirmed, now.Add(-s.booking.CompletionGrace), batchSize)
	if err != nil {
		s.log.Error("querying ended bookings failed", zap.Error(err))
	}
	for _, b := range ended {
		if _, err := s.ops.EndBooking(ctx, model.System, b.ID); err != nil {
			s.logSkip("auto-complete failed", b.ID, err)
			continue
		}
		res.Completed++
	}

	if s.booking.PaymentTimeout > 0 {
		stale, err := s.store.StalePendingBookings(ctx, now.Add(-s.booking.PaymentTimeout), batchSize)
		if err != nil {
			s.log.Error("querying stale bookings failed", zap.Error(err))
		}
		for _, b := range stale {
			if _, err := s.ops.FailBooking(ctx, b.ID, "payment timeout"); err != nil {
				s.logSkip("payment timeout failed", b.ID, err)
				continue
			}
			res.Failed++
		}
	}

	if res != (Result{}) {
		s.log.Info("sweep finished",
			zap.Int64("expired_codes", res.Expired),
			zap.Int("released_pods", res.Released),
			zap.Int("completed", res.Completed),
			zap.Int("failed", res.Failed))
	}
	return res
}

// logSkip logs at debug level when a concurrent transition won the race.
func (s *Sweeper) logSkip(msg, bookingID string, err error) {
	if apperror.Is(err, apperror.KindConflict) {
		s.log.Debug(msg, zap.String("booking_id", bookingID), zap.Error(err))
		return
	}
	s.log.Warn(msg, zap.String("booking_id", bookingID), zap.Error(err))
}
