package evaluator

import (
	"context"
	"fmt"

	"herdwatch/internal/models"
)

// HeatRule 发情检测：72 小时内至少 2 个自然日（UTC）各有超过 5 条高活动量记录
type HeatRule struct {
	evaluator *Evaluator
}

// NewHeatRule 创建发情规则
func NewHeatRule(evaluator *Evaluator) *HeatRule {
	return &HeatRule{
		evaluator: evaluator,
	}
}

// Evaluate 评估发情
func (r *HeatRule) Evaluate(ctx context.Context, animal *models.Animal) ([]models.Candidate, error) {
	samples, err := r.evaluator.history.RecentSamples(ctx, animal.ID, HeatWindowHours)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent samples: %w", err)
	}

	perDay := make(map[string]int)
	for _, s := range samples {
		if s.ActivityLevel > HeatActivityThreshold {
			perDay[s.Timestamp.UTC().Format("2006-01-02")]++
		}
	}

	activeDays := 0
	for _, n := range perDay {
		if n > HeatMinSamplesPerDay {
			activeDays++
		}
	}
	if activeDays < HeatMinDays {
		return nil, nil
	}

	return []models.Candidate{{
		Kind:     models.AlertKindPossibleHeat,
		Severity: models.SeverityLow,
		Message:  fmt.Sprintf("%s may be in heat - elevated activity detected", animal.Name),
	}}, nil
}
