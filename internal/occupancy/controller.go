// Package occupancy tracks the physical status of pods and drives their locks.
package occupancy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/events"
	"pod-booking-backend/internal/lockgw"
	"pod-booking-backend/internal/model"
	"pod-booking-backend/internal/store"
)

// Status change reasons recorded in the occupancy history.
const (
	ReasonUnlock      = "unlock"
	ReasonOccupied    = "occupied"
	ReasonRelease     = "release"
	ReasonCancel      = "booking_cancelled"
	ReasonComplete    = "booking_completed"
	ReasonMaintenance = "maintenance"
	ReasonRestore     = "restore"
	ReasonShutdown    = "emergency_shutdown"
	ReasonLapsed      = "window_ended"
)

var errDeviceRefused = errors.New("device did not actuate")

// Controller keeps a pod OCCUPIED only while a CONFIRMED booking covering now
// has been unlocked. MAINTENANCE and OFFLINE override everything else.
type Controller struct {
	store   store.Store
	gateway lockgw.Gateway
	now     func() time.Time
	log     *zap.Logger
}

func NewController(s store.Store, gw lockgw.Gateway, now func() time.Time, log *zap.Logger) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{store: s, gateway: gw, now: now, log: log}
}

// MarkOccupied flips the pod to OCCUPIED for the CONFIRMED booking covering now.
func (c *Controller) MarkOccupied(ctx context.Context, podID string) (*model.Pod, error) {
	const op = "occupancy.MarkOccupied"
	now := model.Timestamp(c.now())

	var pod *model.Pod
	err := c.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		pod, err = r.LockPod(ctx, podID)
		if err != nil {
			return err
		}
		if pod.Status.Overridden() {
			return apperror.Conflict(op, "pod %s is %s", podID, pod.Status)
		}
		b, err := r.CoveringBooking(ctx, podID, now)
		if apperror.Is(err, apperror.KindNotFound) {
			return apperror.Conflict(op, "no confirmed booking covers pod %s now", podID)
		}
		if err != nil {
			return err
		}
		if err := takeOver(ctx, op, r, pod, b.ID, now); err != nil {
			return err
		}
		return r.SetPodStatus(ctx, pod, model.PodOccupied, &b.ID, ReasonOccupied, now)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}
	return pod, nil
}

// Release returns an OCCUPIED pod to AVAILABLE. Overridden pods keep their status.
func (c *Controller) Release(ctx context.Context, podID string) (*model.Pod, error) {
	now := model.Timestamp(c.now())
	var pod *model.Pod
	err := c.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		pod, err = r.LockPod(ctx, podID)
		if err != nil {
			return err
		}
		if pod.Status != model.PodOccupied {
			return nil
		}
		return r.SetPodStatus(ctx, pod, model.PodAvailable, nil, ReasonRelease, now)
	})
	if err != nil {
		return nil, apperror.Wrap("occupancy.Release", err)
	}
	return pod, nil
}

// ReleaseForBooking releases the pod inside r when bookingID holds its
// occupancy. It reports whether the pod was released.
func ReleaseForBooking(ctx context.Context, r store.Repository, podID, bookingID, reason string, now time.Time) (*model.Pod, bool, error) {
	pod, err := r.LockPod(ctx, podID)
	if err != nil {
		return nil, false, err
	}
	if pod.Status != model.PodOccupied || pod.OccupiedBy == nil || *pod.OccupiedBy != bookingID {
		return pod, false, nil
	}
	if err := r.SetPodStatus(ctx, pod, model.PodAvailable, nil, reason, now); err != nil {
		return nil, false, err
	}
	return pod, true, nil
}

// Unlock opens the pod for the booking's owner. The vendor call runs before
// any transaction. When it fails nothing is changed and the error is retryable.
func (c *Controller) Unlock(ctx context.Context, bookingID string, actor model.Actor) (*model.Pod, error) {
	const op = "occupancy.Unlock"

	b, err := c.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.OwnedBy(actor) {
		return nil, apperror.Forbidden(op, "booking %s belongs to another user", bookingID)
	}
	now := model.Timestamp(c.now())
	if err := unlockable(op, b, now); err != nil {
		return nil, err
	}
	pod, err := c.store.GetPod(ctx, b.PodID)
	if err != nil {
		return nil, err
	}
	if err := inService(op, pod); err != nil {
		return nil, err
	}
	if _, err := holder(ctx, op, c.store, pod, b.ID, now); err != nil {
		return nil, err
	}

	ok, err := c.gateway.UnlockDevice(ctx, pod.LockID)
	if err == nil && !ok {
		err = errDeviceRefused
	}
	if err != nil {
		c.log.Warn("unlock failed",
			zap.String("booking_id", b.ID),
			zap.String("lock_id", pod.LockID),
			zap.Error(err))
		return nil, apperror.Lock(op, err, "unlock lock %s", pod.LockID)
	}

	err = c.store.Atomic(ctx, func(r store.Repository) error {
		current, err := r.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := unlockable(op, current, now); err != nil {
			return err
		}
		locked, err := r.LockPod(ctx, current.PodID)
		if err != nil {
			return err
		}
		if err := inService(op, locked); err != nil {
			return err
		}
		if err := takeOver(ctx, op, r, locked, current.ID, now); err != nil {
			return err
		}
		if err := r.SetPodStatus(ctx, locked, model.PodOccupied, &current.ID, ReasonUnlock, now); err != nil {
			return err
		}
		pod = locked
		if current.UnlockedAt == nil {
			current.UnlockedAt = &now
			return r.SaveBooking(ctx, current)
		}
		return nil
	})
	if err != nil {
		// the door is open but the state change was rejected
		c.relock(ctx, pod.LockID)
		return nil, apperror.Wrap(op, err)
	}

	c.log.Info("pod unlocked",
		zap.String("booking_id", b.ID),
		zap.String("pod_id", pod.ID))
	return pod, nil
}

func unlockable(op string, b *model.Booking, now time.Time) error {
	if b.Status != model.BookingConfirmed {
		return apperror.Conflict(op, "booking %s is %s, not CONFIRMED", b.ID, b.Status)
	}
	if !b.Covers(now) {
		return apperror.Conflict(op, "booking %s is outside its window", b.ID)
	}
	return nil
}

func inService(op string, pod *model.Pod) error {
	if pod.Status.Overridden() {
		return apperror.Conflict(op, "pod %s is %s", pod.ID, pod.Status)
	}
	return nil
}

// holder returns the booking other than bookingID that occupies the pod, or
// nil when there is none. A holder is only honoured while it is CONFIRMED and
// covers now. An active holder is a conflict.
func holder(ctx context.Context, op string, r store.Repository, pod *model.Pod, bookingID string, now time.Time) (*model.Booking, error) {
	if pod.Status != model.PodOccupied || pod.OccupiedBy == nil || *pod.OccupiedBy == bookingID {
		return nil, nil
	}
	prev, err := r.GetBooking(ctx, *pod.OccupiedBy)
	if apperror.Is(err, apperror.KindNotFound) {
		return &model.Booking{ID: *pod.OccupiedBy}, nil
	}
	if err != nil {
		return nil, err
	}
	if prev.Status == model.BookingConfirmed && prev.Covers(now) {
		return nil, apperror.Conflict(op, "pod %s is occupied by another booking", pod.ID)
	}
	return prev, nil
}

// takeOver releases an occupancy left behind by a booking whose window has
// passed so that bookingID can occupy the pod.
func takeOver(ctx context.Context, op string, r store.Repository, pod *model.Pod, bookingID string, now time.Time) error {
	prev, err := holder(ctx, op, r, pod, bookingID, now)
	if err != nil || prev == nil {
		return err
	}
	return r.SetPodStatus(ctx, pod, model.PodAvailable, nil, ReasonLapsed, now)
}

// ReleaseLapsed returns pods to AVAILABLE once the booking holding them has
// ended or left CONFIRMED, and locks their devices. It reports how many pods
// were released.
func (c *Controller) ReleaseLapsed(ctx context.Context, limit int) (int, error) {
	const op = "occupancy.ReleaseLapsed"
	now := model.Timestamp(c.now())

	pods, err := c.store.LapsedOccupancies(ctx, now, limit)
	if err != nil {
		return 0, apperror.Wrap(op, err)
	}
	released := 0
	for _, candidate := range pods {
		var pod *model.Pod
		err := c.store.Atomic(ctx, func(r store.Repository) error {
			locked, err := r.LockPod(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if locked.Status != model.PodOccupied || locked.OccupiedBy == nil {
				return nil
			}
			prev, err := holder(ctx, op, r, locked, "", now)
			if err != nil || prev == nil {
				return err
			}
			if err := r.SetPodStatus(ctx, locked, model.PodAvailable, nil, ReasonLapsed, now); err != nil {
				return err
			}
			pod = locked
			return nil
		})
		if apperror.Is(err, apperror.KindConflict) {
			// unlocked again by a booking that covers now
			continue
		}
		if err != nil {
			return released, apperror.Wrap(op, err)
		}
		if pod == nil {
			continue
		}
		released++
		c.log.Info("occupancy lapsed", zap.String("pod_id", pod.ID))

		ok, err := c.gateway.LockDevice(ctx, pod.LockID)
		if err == nil && !ok {
			err = errDeviceRefused
		}
		if err != nil {
			c.log.Error("lock after lapsed occupancy failed",
				zap.String("pod_id", pod.ID),
				zap.String("lock_id", pod.LockID),
				zap.Error(err))
		}
	}
	return released, nil
}

// EmergencyShutdown forces the pod OFFLINE and locks the device regardless of
// bookings. The status change is kept even when the lock call fails.
func (c *Controller) EmergencyShutdown(ctx context.Context, podID string) (*model.Pod, error) {
	const op = "occupancy.EmergencyShutdown"
	pod, err := c.override(ctx, op, podID, model.PodOffline, ReasonShutdown)
	if err != nil {
		return nil, err
	}

	ok, err := c.gateway.LockDevice(ctx, pod.LockID)
	if err == nil && !ok {
		err = errDeviceRefused
	}
	if err != nil {
		c.log.Error("emergency lock failed",
			zap.String("pod_id", podID),
			zap.String("lock_id", pod.LockID),
			zap.Error(err))
		return pod, apperror.Lock(op, err, "lock %s", pod.LockID)
	}
	c.log.Warn("pod shut down", zap.String("pod_id", podID))
	return pod, nil
}

// SetMaintenance takes the pod out of service.
func (c *Controller) SetMaintenance(ctx context.Context, podID string) (*model.Pod, error) {
	return c.override(ctx, "occupancy.SetMaintenance", podID, model.PodMaintenance, ReasonMaintenance)
}

func (c *Controller) override(ctx context.Context, op, podID string, to model.PodStatus, reason string) (*model.Pod, error) {
	now := model.Timestamp(c.now())
	var pod *model.Pod
	err := c.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		pod, err = r.LockPod(ctx, podID)
		if err != nil {
			return err
		}
		return r.SetPodStatus(ctx, pod, to, nil, reason, now)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}
	return pod, nil
}

// Restore returns a MAINTENANCE or OFFLINE pod to AVAILABLE.
func (c *Controller) Restore(ctx context.Context, podID string) (*model.Pod, error) {
	const op = "occupancy.Restore"
	now := model.Timestamp(c.now())
	var pod *model.Pod
	err := c.store.Atomic(ctx, func(r store.Repository) error {
		var err error
		pod, err = r.LockPod(ctx, podID)
		if err != nil {
			return err
		}
		if !pod.Status.Overridden() {
			return apperror.Conflict(op, "pod %s is %s, not out of service", podID, pod.Status)
		}
		return r.SetPodStatus(ctx, pod, model.PodAvailable, nil, ReasonRestore, now)
	})
	if err != nil {
		return nil, apperror.Wrap(op, err)
	}
	return pod, nil
}

// HandleEvent locks the device once a cancelled or completed booking has
// given its pod back.
func (c *Controller) HandleEvent(ctx context.Context, e events.Event) error {
	if e.Type != events.BookingCancelled && e.Type != events.BookingCompleted {
		return nil
	}
	if !e.PodReleased {
		return nil
	}
	ok, err := c.gateway.LockDevice(ctx, e.LockID)
	if err == nil && !ok {
		err = errDeviceRefused
	}
	if err != nil {
		return apperror.Lock("occupancy.HandleEvent", err, "lock %s", e.LockID)
	}
	return nil
}

func (c *Controller) relock(ctx context.Context, lockID string) {
	if _, err := c.gateway.LockDevice(ctx, lockID); err != nil {
		c.log.Error("relock after rejected unlock failed",
			zap.String("lock_id", lockID),
			zap.Error(err))
	}
}
