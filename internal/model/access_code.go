package model

import "time"

// AccessCodeStatus is the state of a physical access credential.
type AccessCodeStatus string

const (
	AccessActive  AccessCodeStatus = "ACTIVE"
	AccessExpired AccessCodeStatus = "EXPIRED"
	AccessRevoked AccessCodeStatus = "REVOKED"
)

// AccessCode is a time-bounded lock code scoped to one booking.
type AccessCode struct {
	ID         string           `gorm:"primaryKey;size:36" json:"id"`
	Code       string           `gorm:"size:32;not null;uniqueIndex:idx_access_codes_pod_code,priority:2" json:"code"`
	BookingID  string           `gorm:"size:36;not null;index" json:"bookingId"`
	PodID      string           `gorm:"size:36;not null;uniqueIndex:idx_access_codes_pod_code,priority:1" json:"podId"`
	ValidFrom  time.Time        `gorm:"not null" json:"validFrom"`
	ValidUntil time.Time        `gorm:"not null;index" json:"validUntil"`
	Status     AccessCodeStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedAt  time.Time        `gorm:"not null" json:"createdAt"`
	UpdatedAt  time.Time        `gorm:"not null" json:"updatedAt"`
}

// UsableAt reports whether the code still opens the pod at t.
func (c *AccessCode) UsableAt(t time.Time) bool {
	return c.Status == AccessActive && c.ValidUntil.After(t)
}
