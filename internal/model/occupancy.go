package model

import (
	"time"
)

// OccupancyHistory is the append-only log of pod status changes.
type OccupancyHistory struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	PodID      string    `gorm:"size:36;not null;index:idx_occupancy_pod_observed,priority:1"`
	FromStatus PodStatus `gorm:"size:16;not null"`
	ToStatus   PodStatus `gorm:"size:16;not null"`
	BookingID  *string   `gorm:"size:36"`
	Reason     string    `gorm:"size:64;not null"`
	ObservedAt time.Time `gorm:"not null;index:idx_occupancy_pod_observed,priority:2"`
}
