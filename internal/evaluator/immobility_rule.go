package evaluator

import (
	"context"
	"fmt"

	"herdwatch/internal/geofence"
	"herdwatch/internal/models"
)

// ImmobilityRule 长时间不动检测
type ImmobilityRule struct {
	evaluator *Evaluator
}

// NewImmobilityRule 创建不动规则
func NewImmobilityRule(evaluator *Evaluator) *ImmobilityRule {
	return &ImmobilityRule{
		evaluator: evaluator,
	}
}

// Evaluate 最近 2 小时内最新的 20 条记录都落在以最新一条为参照、半径 10 米以内时告警
// 不足 20 条不判断
//
// 参照点是 RecentSamples 倒序结果的第一条，即最新记录，而不是窗口内最早的记录。
// 两者在轨迹单向漂移时结论相同；最早记录位于簇中心、最新记录在边缘时，以最新为参照可能不告警。
func (r *ImmobilityRule) Evaluate(ctx context.Context, animal *models.Animal, _ *models.LocationSample) ([]models.Candidate, error) {
	samples, err := r.evaluator.history.RecentSamples(ctx, animal.ID, ImmobilityWindowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent samples: %w", err)
	}
	if len(samples) < ImmobilitySampleCount {
		return nil, nil
	}
	samples = samples[:ImmobilitySampleCount]

	ref := samples[0]
	maxDistance := 0.0
	for _, s := range samples[1:] {
		d := geofence.HaversineMeters(ref.Latitude, ref.Longitude, s.Latitude, s.Longitude)
		if d > maxDistance {
			maxDistance = d
		}
	}
	if maxDistance >= ImmobilityMaxMeters {
		return nil, nil
	}

	return []models.Candidate{{
		Kind:     models.AlertKindImmobility,
		Severity: models.SeverityMedium,
		Message:  fmt.Sprintf("%s has been immobile for over 2 hours", animal.Name),
	}}, nil
}
