package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingFailed    BookingStatus = "FAILED"
)

// BlockingStatuses are the statuses that hold a pod's interval.
var BlockingStatuses = []BookingStatus{BookingPending, BookingConfirmed}

// Blocking reports whether a booking in this status reserves its interval.
func (s BookingStatus) Blocking() bool {
	return s == BookingPending || s == BookingConfirmed
}

// Terminal reports whether no further transitions are possible.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingCompleted || s == BookingFailed
}

// Booking is a reservation of one pod by one user over [StartAt, EndAt).
type Booking struct {
	ID               string        `gorm:"primaryKey;size:36" json:"id"`
	UserID           string        `gorm:"size:64;not null;index" json:"userId"`
	PodID            string        `gorm:"size:36;not null;index:idx_bookings_pod_window,priority:1" json:"podId"`
	StartAt          time.Time     `gorm:"not null;index:idx_bookings_pod_window,priority:2" json:"start"`
	EndAt            time.Time     `gorm:"not null;index:idx_bookings_pod_window,priority:3" json:"end"`
	Status           BookingStatus `gorm:"size:16;not null;index" json:"status"`
	TotalAmountCents int64         `gorm:"not null" json:"totalAmountCents"`
	Currency         string        `gorm:"size:3;not null" json:"currency"`
	PaymentRef       *string       `gorm:"size:255;uniqueIndex" json:"paymentRef,omitempty"`
	FailureReason    string        `gorm:"size:255" json:"failureReason,omitempty"`
	UnlockedAt       *time.Time    `json:"unlockedAt,omitempty"`
	ConfirmedAt      *time.Time    `json:"confirmedAt,omitempty"`
	ClosedAt         *time.Time    `json:"closedAt,omitempty"`
	CreatedAt        time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt        time.Time     `gorm:"not null" json:"updatedAt"`

	// ClientSecret is never stored. It is filled in on the response that
	// started the payment so the client can confirm it with the provider.
	ClientSecret string `gorm:"-" json:"clientSecret,omitempty"`
}

// Covers reports whether t falls inside the booking's half-open interval.
func (b *Booking) Covers(t time.Time) bool {
	return !t.Before(b.StartAt) && t.Before(b.EndAt)
}

// Overlaps reports whether [start, end) intersects the booking's interval.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartAt.Before(end) && b.EndAt.After(start)
}

// OwnedBy reports whether the booking belongs to the actor.
func (b *Booking) OwnedBy(a Actor) bool {
	return a.Operator() || a.UserID == b.UserID
}

// Timestamp normalizes t to the precision and zone used in storage.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
