package evaluator

import (
	"context"
	"fmt"

	"herdwatch/internal/geofence"
	"herdwatch/internal/models"
)

// BoundaryRule 越界检测
type BoundaryRule struct {
	evaluator *Evaluator
}

// NewBoundaryRule 创建越界规则
func NewBoundaryRule(evaluator *Evaluator) *BoundaryRule {
	return &BoundaryRule{
		evaluator: evaluator,
	}
}

// Evaluate 牧场有边界（>=3 个点）且位置不在多边形内时告警
func (r *BoundaryRule) Evaluate(ctx context.Context, animal *models.Animal, sample *models.LocationSample) ([]models.Candidate, error) {
	points, err := r.evaluator.boundaries.GetFarmBoundary(ctx, animal.FarmID)
	if err != nil {
		return nil, fmt.Errorf("failed to load farm boundary: %w", err)
	}
	if !geofence.HasBoundary(points) {
		return nil, nil
	}
	if geofence.IsPointInPolygon(sample.Latitude, sample.Longitude, points) {
		return nil, nil
	}

	return []models.Candidate{{
		Kind:     models.AlertKindOutOfBounds,
		Severity: models.SeverityHigh,
		Message:  fmt.Sprintf("%s has left the farm boundaries", animal.Name),
	}}, nil
}
