package models

import (
	"fmt"
	"time"
)

// AlertKind 告警类型（封闭枚举）
type AlertKind string

const (
	AlertKindOutOfBounds  AlertKind = "OutOfBounds"
	AlertKindImmobility   AlertKind = "Immobility"
	AlertKindLowActivity  AlertKind = "LowActivity"
	AlertKindHighActivity AlertKind = "HighActivity"
	AlertKindPossibleHeat AlertKind = "PossibleHeat"
)

// AlertKinds 全部告警类型
var AlertKinds = []AlertKind{
	AlertKindOutOfBounds,
	AlertKindImmobility,
	AlertKindLowActivity,
	AlertKindHighActivity,
	AlertKindPossibleHeat,
}

// Valid 是否为已知类型
func (k AlertKind) Valid() bool {
	switch k {
	case AlertKindOutOfBounds, AlertKindImmobility, AlertKindLowActivity, AlertKindHighActivity, AlertKindPossibleHeat:
		return true
	}
	return false
}

// ParseAlertKind 解析告警类型
func ParseAlertKind(s string) (AlertKind, error) {
	k := AlertKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown alert kind: %q", s)
	}
	return k, nil
}

// AlertSeverity 告警级别
type AlertSeverity string

const (
	SeverityHigh   AlertSeverity = "High"
	SeverityMedium AlertSeverity = "Medium"
	SeverityLow    AlertSeverity = "Low"
)

// Valid 是否为已知级别
func (s AlertSeverity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// ParseAlertSeverity 解析告警级别
func ParseAlertSeverity(s string) (AlertSeverity, error) {
	v := AlertSeverity(s)
	if !v.Valid() {
		return "", fmt.Errorf("unknown alert severity: %q", s)
	}
	return v, nil
}

// Alert 告警（对应 alerts 表）
type Alert struct {
	ID         string        `json:"id" db:"id"`
	Kind       AlertKind     `json:"type" db:"kind"`
	Severity   AlertSeverity `json:"severity" db:"severity"`
	Message    string        `json:"message" db:"message"`
	AnimalID   int64         `json:"animal_id" db:"animal_id"`
	IsRead     bool          `json:"is_read" db:"is_read"`
	IsResolved bool          `json:"is_resolved" db:"is_resolved"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AlertView 告警展示对象（推送与查询接口共用）
type AlertView struct {
	ID         string        `json:"id"`
	Kind       AlertKind     `json:"type"`
	Title      string        `json:"title"`
	Severity   AlertSeverity `json:"severity"`
	Message    string        `json:"message"`
	AnimalID   int64         `json:"animal_id"`
	AnimalName string        `json:"animal_name"`
	FarmID     int64         `json:"farm_id"`
	IsRead     bool          `json:"is_read"`
	IsResolved bool          `json:"is_resolved"`
	CreatedAt  time.Time     `json:"created_at"`
	ResolvedAt *time.Time    `json:"resolved_at,omitempty"`
}

// Candidate 规则命中后产生的候选告警
type Candidate struct {
	Kind     AlertKind
	Severity AlertSeverity
	Message  string
}

// AlertTitle 根据类型和级别生成标题
func AlertTitle(kind AlertKind, severity AlertSeverity) string {
	switch kind {
	case AlertKindOutOfBounds:
		return "🚨 Animal Out of Bounds"
	case AlertKindLowActivity:
		return "😴 Low Activity"
	case AlertKindHighActivity:
		return "🏃 High Activity"
	case AlertKindImmobility:
		return "🛑 Animal Immobile"
	case AlertKindPossibleHeat:
		return "🔥 Possible Heat"
	}
	return fmt.Sprintf("⚠️ %s Alert", severity)
}

// NewAlertView 组装展示对象
func NewAlertView(a *Alert, animalName string, farmID int64) AlertView {
	return AlertView{
		ID:         a.ID,
		Kind:       a.Kind,
		Title:      AlertTitle(a.Kind, a.Severity),
		Severity:   a.Severity,
		Message:    a.Message,
		AnimalID:   a.AnimalID,
		AnimalName: animalName,
		FarmID:     farmID,
		IsRead:     a.IsRead,
		IsResolved: a.IsResolved,
		CreatedAt:  a.CreatedAt,
		ResolvedAt: a.ResolvedAt,
	}
}
