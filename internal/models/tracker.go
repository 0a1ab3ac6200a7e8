package models

import (
	"fmt"
	"time"
)

// TrackerStatus 定位器状态
type TrackerStatus string

const (
	TrackerStatusActive      TrackerStatus = "Active"
	TrackerStatusInactive    TrackerStatus = "Inactive"
	TrackerStatusMaintenance TrackerStatus = "Maintenance"
	TrackerStatusLost        TrackerStatus = "Lost"
)

// Valid 是否为已知状态
func (s TrackerStatus) Valid() bool {
	switch s {
	case TrackerStatusActive, TrackerStatusInactive, TrackerStatusMaintenance, TrackerStatusLost:
		return true
	}
	return false
}

// ParseTrackerStatus 解析定位器状态
func ParseTrackerStatus(s string) (TrackerStatus, error) {
	v := TrackerStatus(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown tracker status: %q", s)
	}
	return v, nil
}

// Tracker 定位器
type Tracker struct {
	ID           int64         `json:"id" db:"id"`
	DeviceID     string        `json:"device_id" db:"device_id"`
	AnimalID     *int64        `json:"animal_id,omitempty" db:"animal_id"`
	BatteryLevel int           `json:"battery_level" db:"battery_level"`
	LastSeen     time.Time     `json:"last_seen" db:"last_seen"`
	Status       TrackerStatus `json:"status" db:"status"`
}
