package ingestion

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrValidation 数据不合法，未写入任何内容
	ErrValidation = errors.New("invalid telemetry reading")
	// ErrStorage 存储失败，本条数据整体未生效
	ErrStorage = errors.New("telemetry storage failure")
)

// Reading 定位器上报的一条遥测数据
type Reading struct {
	DeviceID       string    `json:"device_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Altitude       float64   `json:"altitude"`
	Speed          float64   `json:"speed"`
	ActivityLevel  int       `json:"activity_level"`
	Temperature    float64   `json:"temperature"`
	BatteryLevel   int       `json:"battery_level"`
	SignalStrength int       `json:"signal_strength"`
	Timestamp      time.Time `json:"timestamp"`
}

// ManualSample 直接写入的定位记录（前端/人工补录），不经过设备解析
type ManualSample struct {
	AnimalID       int64     `json:"animal_id"`
	TrackerID      int64     `json:"tracker_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Altitude       float64   `json:"altitude"`
	Speed          float64   `json:"speed"`
	ActivityLevel  int       `json:"activity_level"`
	Temperature    float64   `json:"temperature"`
	SignalStrength int       `json:"signal_strength"`
	Timestamp      time.Time `json:"timestamp"`
}

// normalizeTimestamp 统一转为 UTC；零值取当前时间
func normalizeTimestamp(ts time.Time, now func() time.Time) time.Time {
	if ts.IsZero() {
		return now().UTC()
	}
	return ts.UTC()
}

// Normalize 校验并规范化
func (r Reading) Normalize(now func() time.Time) (Reading, error) {
	r.DeviceID = strings.TrimSpace(r.DeviceID)
	if r.DeviceID == "" {
		return r, fmt.Errorf("%w: device_id is required", ErrValidation)
	}
	if err := validatePosition(r.Latitude, r.Longitude); err != nil {
		return r, err
	}
	if err := validateActivity(r.ActivityLevel); err != nil {
		return r, err
	}
	if err := validateFinite(map[string]float64{
		"altitude":    r.Altitude,
		"speed":       r.Speed,
		"temperature": r.Temperature,
	}); err != nil {
		return r, err
	}
	if r.BatteryLevel < 0 || r.BatteryLevel > 100 {
		return r, fmt.Errorf("%w: battery_level %d out of range [0,100]", ErrValidation, r.BatteryLevel)
	}
	r.Timestamp = normalizeTimestamp(r.Timestamp, now)
	return r, nil
}

// Normalize 校验并规范化
func (m ManualSample) Normalize(now func() time.Time) (ManualSample, error) {
	if m.AnimalID <= 0 || m.TrackerID <= 0 {
		return m, fmt.Errorf("%w: animal_id and tracker_id are required", ErrValidation)
	}
	if err := validatePosition(m.Latitude, m.Longitude); err != nil {
		return m, err
	}
	if err := validateActivity(m.ActivityLevel); err != nil {
		return m, err
	}
	if err := validateFinite(map[string]float64{
		"altitude":    m.Altitude,
		"speed":       m.Speed,
		"temperature": m.Temperature,
	}); err != nil {
		return m, err
	}
	if m.Speed < 0 {
		return m, fmt.Errorf("%w: speed must not be negative", ErrValidation)
	}
	if m.SignalStrength < 0 || m.SignalStrength > 100 {
		return m, fmt.Errorf("%w: signal_strength %d out of range [0,100]", ErrValidation, m.SignalStrength)
	}
	m.Timestamp = normalizeTimestamp(m.Timestamp, now)
	return m, nil
}

func validatePosition(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90,90]", ErrValidation, lat)
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180,180]", ErrValidation, lng)
	}
	return nil
}

func validateActivity(level int) error {
	if level < 0 || level > 100 {
		return fmt.Errorf("%w: activity_level %d out of range [0,100]", ErrValidation, level)
	}
	return nil
}

func validateFinite(fields map[string]float64) error {
	for name, v := range fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite number", ErrValidation, name)
		}
	}
	return nil
}
