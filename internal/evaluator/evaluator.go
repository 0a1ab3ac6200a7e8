package evaluator

import (
	"context"
	"fmt"

	"herdwatch/internal/metrics"
	"herdwatch/internal/models"

	"go.uber.org/zap"
)

// HistoryReader 定位历史读取（repository.LocationHistoryRepository 实现）
type HistoryReader interface {
	RecentSamples(ctx context.Context, animalID int64, hoursBack int) ([]models.LocationSample, error)
	AverageActivity(ctx context.Context, animalID int64, hoursBack int) (float64, error)
}

// BoundaryReader 牧场边界读取（repository.BoundariesRepository 实现）
type BoundaryReader interface {
	GetFarmBoundary(ctx context.Context, farmID int64) ([]models.BoundaryPoint, error)
}

// Evaluator 规则评估器：对每条定位记录依次运行各规则，单条规则失败只记录日志
type Evaluator struct {
	history    HistoryReader
	boundaries BoundaryReader
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// 规则评估器
	boundary   *BoundaryRule   // 越界
	immobility *ImmobilityRule // 长时间不动
	activity   *ActivityRule   // 活动量异常
	heat       *HeatRule       // 发情（仅繁育扫描）
}

// NewEvaluator 创建评估器
func NewEvaluator(history HistoryReader, boundaries BoundaryReader, m *metrics.Metrics, logger *zap.Logger) *Evaluator {
	e := &Evaluator{
		history:    history,
		boundaries: boundaries,
		metrics:    m,
		logger:     logger,
	}

	e.boundary = NewBoundaryRule(e)
	e.immobility = NewImmobilityRule(e)
	e.activity = NewActivityRule(e)
	e.heat = NewHeatRule(e)

	return e
}

// Evaluate 评估一条刚写入的定位记录，返回告警候选（不写库、不去重）
func (e *Evaluator) Evaluate(ctx context.Context, animal *models.Animal, sample *models.LocationSample) []models.Candidate {
	if animal == nil || sample == nil {
		return nil
	}

	var candidates []models.Candidate

	rules := []struct {
		name string
		eval func(context.Context, *models.Animal, *models.LocationSample) ([]models.Candidate, error)
	}{
		{RuleBoundary, e.boundary.Evaluate},
		{RuleImmobility, e.immobility.Evaluate},
		{RuleActivity, e.activity.Evaluate},
	}

	for _, r := range rules {
		found, err := r.eval(ctx, animal, sample)
		if err != nil {
			e.logger.Error("Failed to evaluate rule",
				zap.String("rule", r.name),
				zap.Int64("animal_id", animal.ID),
				zap.Error(err),
			)
			e.metrics.RuleError(r.name)
			continue
		}
		candidates = append(candidates, found...)
	}

	return candidates
}

// EvaluateBreeding 繁育扫描：只运行发情规则
func (e *Evaluator) EvaluateBreeding(ctx context.Context, animal *models.Animal) ([]models.Candidate, error) {
	if animal == nil {
		return nil, fmt.Errorf("animal is required")
	}
	candidates, err := e.heat.Evaluate(ctx, animal)
	if err != nil {
		e.metrics.RuleError(RuleHeat)
		return nil, fmt.Errorf("heat rule for animal id=%d: %w", animal.ID, err)
	}
	return candidates, nil
}
