package scheduler

import (
	"context"
	"fmt"
	"time"

	"herdwatch/internal/metrics"
	"herdwatch/internal/models"

	"go.uber.org/zap"
)

// DefaultInterval 繁育扫描周期
const DefaultInterval = 4 * time.Hour

// AnimalSource 牧场与繁育候选牲畜查询（repository.AnimalsRepository 实现）
type AnimalSource interface {
	ListFarms(ctx context.Context) ([]models.Farm, error)
	ListBreedingCandidates(ctx context.Context, farmID int64) ([]*models.Animal, error)
}

// HeatEvaluator 发情规则（evaluator.Evaluator 实现）
type HeatEvaluator interface {
	EvaluateBreeding(ctx context.Context, animal *models.Animal) ([]models.Candidate, error)
}

// AlertRaiser 告警去重写入（alerting.Service 实现）
type AlertRaiser interface {
	Raise(ctx context.Context, animal *models.Animal, c models.Candidate) (*models.AlertView, error)
}

// ScanResult 一轮扫描的统计
type ScanResult struct {
	Farms   int
	Animals int
	Raised  int
	Errors  int
}

// BreedingScanner 周期性对繁育期母畜运行发情规则
type BreedingScanner struct {
	animals   AnimalSource
	evaluator HeatEvaluator
	alerts    AlertRaiser
	interval  time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewBreedingScanner 创建繁育扫描器
func NewBreedingScanner(animals AnimalSource, evaluator HeatEvaluator, alerts AlertRaiser, interval time.Duration, m *metrics.Metrics, logger *zap.Logger) *BreedingScanner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &BreedingScanner{
		animals:   animals,
		evaluator: evaluator,
		alerts:    alerts,
		interval:  interval,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Start 启动时先扫描一次，之后按周期扫描，阻塞到 ctx 取消
func (s *BreedingScanner) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Breeding scanner started", zap.Duration("interval", s.interval))

	s.runScan(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runScan(ctx)
		}
	}
}

func (s *BreedingScanner) runScan(ctx context.Context) {
	res, err := s.ScanOnce(ctx)
	s.metrics.BreedingScan(err == nil)
	if err != nil {
		s.logger.Error("Breeding scan failed", zap.Error(err))
		return
	}
	s.logger.Info("Breeding scan completed",
		zap.Int("farms", res.Farms),
		zap.Int("animals", res.Animals),
		zap.Int("raised", res.Raised),
		zap.Int("errors", res.Errors),
	)
}

// ScanOnce 扫描所有牧场；单头牲畜失败只记录，不中断
func (s *BreedingScanner) ScanOnce(ctx context.Context) (ScanResult, error) {
	var res ScanResult

	farms, err := s.animals.ListFarms(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list farms: %w", err)
	}

	now := s.now()
	for _, farm := range farms {
		if ctx.Err() != nil {
			return res, nil
		}
		res.Farms++

		candidates, err := s.animals.ListBreedingCandidates(ctx, farm.ID)
		if err != nil {
			s.logger.Error("Failed to list breeding candidates",
				zap.Int64("farm_id", farm.ID),
				zap.Error(err),
			)
			res.Errors++
			continue
		}

		for _, animal := range candidates {
			if !animal.BreedingEligible(now) {
				continue
			}
			res.Animals++
			raised, err := s.scanAnimal(ctx, animal)
			res.Raised += raised
			if err != nil {
				s.logger.Error("Failed to scan animal",
					zap.Int64("farm_id", farm.ID),
					zap.Int64("animal_id", animal.ID),
					zap.Error(err),
				)
				res.Errors++
			}
		}
	}
	return res, nil
}

func (s *BreedingScanner) scanAnimal(ctx context.Context, animal *models.Animal) (int, error) {
	candidates, err := s.evaluator.EvaluateBreeding(ctx, animal)
	if err != nil {
		return 0, err
	}
	raised := 0
	for _, c := range candidates {
		view, err := s.alerts.Raise(ctx, animal, c)
		if err != nil {
			return raised, err
		}
		if view != nil {
			raised++
		}
	}
	return raised, nil
}
