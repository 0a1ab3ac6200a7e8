package evaluator

import (
	"context"
	"fmt"

	"herdwatch/internal/models"
)

// ActivityRule 活动量异常检测（相对 24 小时均值）
type ActivityRule struct {
	evaluator *Evaluator
}

// NewActivityRule 创建活动量规则
func NewActivityRule(evaluator *Evaluator) *ActivityRule {
	return &ActivityRule{
		evaluator: evaluator,
	}
}

// Evaluate 均值为 0 时不判断；过低、过高两条件各自独立判断
func (r *ActivityRule) Evaluate(ctx context.Context, animal *models.Animal, sample *models.LocationSample) ([]models.Candidate, error) {
	avg, err := r.evaluator.history.AverageActivity(ctx, animal.ID, ActivityWindowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to load average activity: %w", err)
	}
	if avg <= 0 {
		return nil, nil
	}

	current := float64(sample.ActivityLevel)
	var candidates []models.Candidate

	if current < avg*LowActivityRatio && current < LowActivityCeiling {
		candidates = append(candidates, models.Candidate{
			Kind:     models.AlertKindLowActivity,
			Severity: models.SeverityMedium,
			Message:  fmt.Sprintf("%s showing unusually low activity levels", animal.Name),
		})
	}

	if current > avg*HighActivityRatio && current > HighActivityFloor {
		candidates = append(candidates, models.Candidate{
			Kind:     models.AlertKindHighActivity,
			Severity: models.SeverityMedium,
			Message:  fmt.Sprintf("%s showing unusually high activity levels", animal.Name),
		})
	}

	return candidates, nil
}
