package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pod-booking-backend/internal/apperror"
	"pod-booking-backend/internal/model"
)

// Repository is the set of persistence operations available both on the
// root store and inside a transaction.
type Repository interface {
	CreatePod(ctx context.Context, pod *model.Pod) error
	GetPod(ctx context.Context, id string) (*model.Pod, error)
	// LockPod reads the pod and holds a row lock until the transaction ends.
	LockPod(ctx context.Context, id string) (*model.Pod, error)
	ListPods(ctx context.Context) ([]model.Pod, error)
	// LapsedOccupancies lists OCCUPIED pods whose occupying booking has
	// ended by now or is no longer CONFIRMED.
	LapsedOccupancies(ctx context.Context, now time.Time, limit int) ([]model.Pod, error)
	// SetPodStatus updates the pod and archives the change.
	SetPodStatus(ctx context.Context, pod *model.Pod, to model.PodStatus, occupiedBy *string, reason string, now time.Time) error

	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	LockBooking(ctx context.Context, id string) (*model.Booking, error)
	SaveBooking(ctx context.Context, b *model.Booking) error
	FindBookingByPaymentRef(ctx context.Context, ref string) (*model.Booking, error)
	// BlockingBookings lists PENDING/CONFIRMED bookings of a pod that overlap
	// [from, to), ordered by start.
	BlockingBookings(ctx context.Context, podID string, from, to time.Time) ([]model.Booking, error)
	// CoveringBooking returns the CONFIRMED booking of a pod whose interval
	// contains at, or a not_found error.
	CoveringBooking(ctx context.Context, podID string, at time.Time) (*model.Booking, error)
	EndedBookings(ctx context.Context, status model.BookingStatus, endedBefore time.Time, limit int) ([]model.Booking, error)
	StalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]model.Booking, error)

	CreateAccessCode(ctx context.Context, code *model.AccessCode) error
	ActiveAccessCode(ctx context.Context, bookingID string) (*model.AccessCode, error)
	FindAccessCode(ctx context.Context, podID, code string) (*model.AccessCode, error)
	SaveAccessCode(ctx context.Context, code *model.AccessCode) error
	ExpireAccessCodes(ctx context.Context, now time.Time) (int64, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, userID, endpoint string) error
	SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error)
}

// Store defines the interface for all database operations.
type Store interface {
	Repository
	// Atomic runs fn inside one transaction. fn must only use the repository
	// it is given.
	Atomic(ctx context.Context, fn func(r Repository) error) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

func (s *gormStore) Atomic(ctx context.Context, fn func(r Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// --- pods ---

func (s *gormStore) CreatePod(ctx context.Context, pod *model.Pod) error {
	if err := s.db.WithContext(ctx).Create(pod).Error; err != nil {
		return translate(err, "pod", pod.ID)
	}
	return nil
}

func (s *gormStore) GetPod(ctx context.Context, id string) (*model.Pod, error) {
	var pod model.Pod
	if err := s.db.WithContext(ctx).First(&pod, "id = ?", id).Error; err != nil {
		return nil, translate(err, "pod", id)
	}
	return &pod, nil
}

func (s *gormStore) LockPod(ctx context.Context, id string) (*model.Pod, error) {
	var pod model.Pod
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&pod, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "pod", id)
	}
	return &pod, nil
}

func (s *gormStore) ListPods(ctx context.Context) ([]model.Pod, error) {
	var pods []model.Pod
	if err := s.db.WithContext(ctx).Order("name").Find(&pods).Error; err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	return pods, nil
}

func (s *gormStore) LapsedOccupancies(ctx context.Context, now time.Time, limit int) ([]model.Pod, error) {
	var pods []model.Pod
	err := s.db.WithContext(ctx).
		Select("pods.*").
		Joins("JOIN bookings ON bookings.id = pods.occupied_by").
		Where("pods.status = ? AND (bookings.end_at <= ? OR bookings.status <> ?)", model.PodOccupied, now, model.BookingConfirmed).
		Order("pods.name").
		Limit(limit).
		Find(&pods).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query lapsed occupancies: %w", err)
	}
	return pods, nil
}

func (s *gormStore) SetPodStatus(ctx context.Context, pod *model.Pod, to model.PodStatus, occupiedBy *string, reason string, now time.Time) error {
	from := pod.Status
	res := s.db.WithContext(ctx).Model(&model.Pod{}).
		Where("id = ?", pod.ID).
		Updates(map[string]any{"status": to, "occupied_by": occupiedBy, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to update pod %s: %w", pod.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperror.NotFound("store.SetPodStatus", "pod %s not found", pod.ID)
	}
	pod.Status = to
	pod.OccupiedBy = occupiedBy
	pod.UpdatedAt = now

	if from == to {
		return nil
	}
	return archiveStatusChange(s.db.WithContext(ctx), pod.ID, from, to, occupiedBy, reason, now)
}

// archiveStatusChange appends a pod status transition to the history log.
func archiveStatusChange(tx *gorm.DB, podID string, from, to model.PodStatus, bookingID *string, reason string, now time.Time) error {
	record := model.OccupancyHistory{
		PodID:      podID,
		FromStatus: from,
		ToStatus:   to,
		BookingID:  bookingID,
		Reason:     reason,
		ObservedAt: now,
	}
	if err := tx.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to archive status change for pod %s: %w", podID, err)
	}
	return nil
}

// --- bookings ---

func (s *gormStore) CreateBooking(ctx context.Context, b *model.Booking) error {
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return translate(err, "booking", b.ID)
	}
	return nil
}

func (s *gormStore) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, translate(err, "booking", id)
	}
	return &b, nil
}

func (s *gormStore) LockBooking(ctx context.Context, id string) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&b, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "booking", id)
	}
	return &b, nil
}

func (s *gormStore) SaveBooking(ctx context.Context, b *model.Booking) error {
	if err := s.db.WithContext(ctx).Save(b).Error; err != nil {
		return translate(err, "booking", b.ID)
	}
	return nil
}

func (s *gormStore) FindBookingByPaymentRef(ctx context.Context, ref string) (*model.Booking, error) {
	var b model.Booking
	if err := s.db.WithContext(ctx).First(&b, "payment_ref = ?", ref).Error; err != nil {
		return nil, translate(err, "booking with payment reference", ref)
	}
	return &b, nil
}

func (s *gormStore) BlockingBookings(ctx context.Context, podID string, from, to time.Time) ([]model.Booking, error) {
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("pod_id = ? AND status IN ? AND start_at < ? AND end_at > ?", podID, model.BlockingStatuses, to, from).
		Order("start_at").
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings for pod %s: %w", podID, err)
	}
	return bookings, nil
}

func (s *gormStore) CoveringBooking(ctx context.Context, podID string, at time.Time) (*model.Booking, error) {
	var b model.Booking
	err := s.db.WithContext(ctx).
		Where("pod_id = ? AND status = ? AND start_at <= ? AND end_at > ?", podID, model.BookingConfirmed, at, at).
		First(&b).Error
	if err != nil {
		return nil, translate(err, "confirmed booking covering now for pod", podID)
	}
	return &b, nil
}

func (s *gormStore) EndedBookings(ctx context.Context, status model.BookingStatus, endedBefore time.Time, limit int) ([]model.Booking, error) {
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND end_at <= ?", status, endedBefore).
		Order("end_at").
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query ended bookings: %w", err)
	}
	return bookings, nil
}

func (s *gormStore) StalePendingBookings(ctx context.Context, createdBefore time.Time, limit int) ([]model.Booking, error) {
	var bookings []model.Booking
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", model.BookingPending, createdBefore).
		Order("created_at").
		Limit(limit).
		Find(&bookings).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query pending bookings: %w", err)
	}
	return bookings, nil
}

// --- access codes ---

func (s *gormStore) CreateAccessCode(ctx context.Context, code *model.AccessCode) error {
	if err := s.db.WithContext(ctx).Create(code).Error; err != nil {
		return translate(err, "access code for booking", code.BookingID)
	}
	return nil
}

func (s *gormStore) ActiveAccessCode(ctx context.Context, bookingID string) (*model.AccessCode, error) {
	var code model.AccessCode
	err := s.db.WithContext(ctx).
		Where("booking_id = ? AND status = ?", bookingID, model.AccessActive).
		First(&code).Error
	if err != nil {
		return nil, translate(err, "active access code for booking", bookingID)
	}
	return &code, nil
}

func (s *gormStore) FindAccessCode(ctx context.Context, podID, code string) (*model.AccessCode, error) {
	var ac model.AccessCode
	if err := s.db.WithContext(ctx).First(&ac, "pod_id = ? AND code = ?", podID, code).Error; err != nil {
		return nil, translate(err, "access code for pod", podID)
	}
	return &ac, nil
}

func (s *gormStore) SaveAccessCode(ctx context.Context, code *model.AccessCode) error {
	if err := s.db.WithContext(ctx).Save(code).Error; err != nil {
		return translate(err, "access code", code.ID)
	}
	return nil
}

func (s *gormStore) ExpireAccessCodes(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.AccessCode{}).
		Where("status = ? AND valid_until <= ?", model.AccessActive, now).
		Updates(map[string]any{"status": model.AccessExpired, "updated_at": now})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to expire access codes: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// --- push subscriptions ---

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"user_id", "p256dh", "auth"}),
	}).Create(sub).Error
}

func (s *gormStore) DeleteSubscription(ctx context.Context, userID, endpoint string) error {
	return s.db.WithContext(ctx).
		Where("endpoint = ? AND user_id = ?", endpoint, userID).
		Delete(&model.PushSubscription{}).Error
}

func (s *gormStore) SubscriptionsForUser(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for user %s: %w", userID, err)
	}
	return subs, nil
}

// pgExclusionViolation is the SQLSTATE raised by an EXCLUDE constraint.
const pgExclusionViolation = "23P01"

// translate maps driver errors onto the application error taxonomy.
func translate(err error, what, id string) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &apperror.Error{Kind: apperror.KindNotFound, Op: "store", Msg: fmt.Sprintf("%s %s not found", what, id), Err: err}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &apperror.Error{Kind: apperror.KindConflict, Op: "store", Msg: fmt.Sprintf("%s %s already exists", what, id), Err: err}
	case errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation:
		return &apperror.Error{Kind: apperror.KindConflict, Op: "store", Msg: fmt.Sprintf("%s %s overlaps an existing booking", what, id), Err: err}
	default:
		return fmt.Errorf("%s %s: %w", what, id, err)
	}
}
