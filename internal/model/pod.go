package model

import "time"

// PodStatus is the physical-availability status of a pod.
type PodStatus string

const (
	PodAvailable   PodStatus = "AVAILABLE"
	PodOccupied    PodStatus = "OCCUPIED"
	PodMaintenance PodStatus = "MAINTENANCE"
	PodOffline     PodStatus = "OFFLINE"
)

// Overridden reports whether an operator override keeps the pod out of service.
func (s PodStatus) Overridden() bool {
	return s == PodMaintenance || s == PodOffline
}

// Pod represents a bookable workspace pod and its lock hardware.
type Pod struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Name            string    `gorm:"size:128;not null" json:"name"`
	Status          PodStatus `gorm:"size:16;not null;index" json:"status"`
	HourlyRateCents int64     `gorm:"not null" json:"hourlyRateCents"`
	Currency        string    `gorm:"size:3;not null" json:"currency"`
	LockID          string    `gorm:"size:128;not null" json:"lockId"`
	OccupiedBy      *string   `gorm:"size:36" json:"occupiedBy,omitempty"` // booking holding occupancy
	CreatedAt       time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt       time.Time `gorm:"not null" json:"updatedAt"`
}
