package models

import "time"

// LocationSample 一条定位/传感数据（对应 location_history 表，写入后不可变）
type LocationSample struct {
	ID             int64     `json:"id" db:"id"`
	AnimalID       int64     `json:"animal_id" db:"animal_id"`
	TrackerID      int64     `json:"tracker_id" db:"tracker_id"`
	Latitude       float64   `json:"latitude" db:"latitude"`
	Longitude      float64   `json:"longitude" db:"longitude"`
	Altitude       float64   `json:"altitude" db:"altitude"`
	Speed          float64   `json:"speed" db:"speed"`
	ActivityLevel  int       `json:"activity_level" db:"activity_level"`
	Temperature    float64   `json:"temperature" db:"temperature"`
	SignalStrength int       `json:"signal_strength" db:"signal_strength"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// LocationView 位置展示对象
type LocationView struct {
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Altitude      float64   `json:"altitude"`
	Speed         float64   `json:"speed"`
	ActivityLevel int       `json:"activity_level"`
	Temperature   float64   `json:"temperature"`
	Timestamp     time.Time `json:"timestamp"`
}

// View 转换为展示对象
func (s *LocationSample) View() LocationView {
	return LocationView{
		Latitude:      s.Latitude,
		Longitude:     s.Longitude,
		Altitude:      s.Altitude,
		Speed:         s.Speed,
		ActivityLevel: s.ActivityLevel,
		Temperature:   s.Temperature,
		Timestamp:     s.Timestamp,
	}
}

// LocationUpdate 实时位置推送
type LocationUpdate struct {
	AnimalID   int64        `json:"animal_id"`
	AnimalName string       `json:"animal_name"`
	FarmID     int64        `json:"farm_id"`
	Location   LocationView `json:"location"`
}

// AnimalLocation 牧场地图：牲畜 + 当前位置
type AnimalLocation struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	Tag             string        `json:"tag"`
	Status          string        `json:"status"`
	FarmID          int64         `json:"farm_id"`
	TrackerID       *int64        `json:"tracker_id,omitempty"`
	CurrentLocation *LocationView `json:"current_location"`
}
