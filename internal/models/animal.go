package models

import (
	"strings"
	"time"
)

// 可配种判定参数
const (
	AnimalStatusActive     = "Active"
	BreedingMinAgeMonths   = 15
	breedingEligibleGender = "female"
)

// Animal 牲畜
type Animal struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Tag       string    `json:"tag" db:"tag"`
	FarmID    int64     `json:"farm_id" db:"farm_id"`
	Gender    string    `json:"gender" db:"gender"`
	BirthDate time.Time `json:"birth_date" db:"birth_date"`
	Status    string    `json:"status" db:"status"`
	TrackerID *int64    `json:"tracker_id,omitempty" db:"tracker_id"`
}

// BreedingEligible 是否参与发情监测：母畜、满 15 个月、状态 Active
func (a *Animal) BreedingEligible(now time.Time) bool {
	if !strings.EqualFold(a.Gender, breedingEligibleGender) {
		return false
	}
	if a.Status != AnimalStatusActive {
		return false
	}
	return !a.BirthDate.After(now.AddDate(0, -BreedingMinAgeMonths, 0))
}

// Farm 牧场（仅核心需要的字段）
type Farm struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// BoundaryPoint 牧场边界点
type BoundaryPoint struct {
	Latitude  float64 `json:"latitude" db:"latitude"`
	Longitude float64 `json:"longitude" db:"longitude"`
	Sequence  int     `json:"sequence" db:"sequence"`
}
