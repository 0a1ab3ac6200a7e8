package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"herdwatch/internal/metrics"
	"herdwatch/internal/models"
	"herdwatch/internal/repository"

	"go.uber.org/zap"
)

// DefaultTimeout 单条数据处理超时
const DefaultTimeout = 10 * time.Second

// 丢弃原因（日志与指标标签）
const (
	ReasonUnknownDevice     = "unknown_device"
	ReasonUnassignedTracker = "unassigned_tracker"
	ReasonUnknownAnimal     = "unknown_animal"
)

// Status 处理结果
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDiscarded Status = "discarded"
)

// Outcome 一条数据的处理结果
type Outcome struct {
	Status   Status             `json:"status"`
	Reason   string             `json:"reason,omitempty"`
	SampleID int64              `json:"sample_id,omitempty"`
	AnimalID int64              `json:"animal_id,omitempty"`
	Alerts   []models.AlertView `json:"alerts,omitempty"`
}

// TrackerLookup 定位器查询
type TrackerLookup interface {
	GetTrackerByDeviceID(ctx context.Context, deviceID string) (*models.Tracker, error)
	GetTracker(ctx context.Context, trackerID int64) (*models.Tracker, error)
}

// AnimalLookup 牲畜查询
type AnimalLookup interface {
	GetAnimal(ctx context.Context, animalID int64) (*models.Animal, error)
}

// SampleWriter 定位记录写入
type SampleWriter interface {
	RecordSample(ctx context.Context, hb repository.TrackerHeartbeat, sample *models.LocationSample) (int64, error)
	InsertSample(ctx context.Context, sample *models.LocationSample) (int64, error)
}

// RuleEvaluator 规则评估
type RuleEvaluator interface {
	Evaluate(ctx context.Context, animal *models.Animal, sample *models.LocationSample) []models.Candidate
}

// AlertRaiser 告警去重写入
type AlertRaiser interface {
	Raise(ctx context.Context, animal *models.Animal, c models.Candidate) (*models.AlertView, error)
}

// LocationPublisher 实时位置推送，不得阻塞
type LocationPublisher interface {
	PublishLocation(ctx context.Context, update models.LocationUpdate)
}

// Service 遥测接入：解析设备 → 事务写入 → 规则评估 → 告警 → 推送
type Service struct {
	trackers  TrackerLookup
	animals   AnimalLookup
	samples   SampleWriter
	evaluator RuleEvaluator
	alerts    AlertRaiser
	publisher LocationPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
}

// NewService 创建接入服务
func NewService(
	trackers TrackerLookup,
	animals AnimalLookup,
	samples SampleWriter,
	evaluator RuleEvaluator,
	alerts AlertRaiser,
	publisher LocationPublisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	return &Service{
		trackers:  trackers,
		animals:   animals,
		samples:   samples,
		evaluator: evaluator,
		alerts:    alerts,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
}

// SetTimeout 调整单条处理超时
func (s *Service) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Ingest 处理一条设备上报
// 未知设备/未绑定牲畜返回 Discarded（不是错误）；校验失败返回 ErrValidation；存储失败返回 ErrStorage
func (s *Service) Ingest(ctx context.Context, reading Reading) (Outcome, error) {
	start := s.now()

	r, err := reading.Normalize(s.now)
	if err != nil {
		s.metrics.IngestRejected("validation")
		s.logger.Warn("Rejected telemetry reading",
			zap.String("device_id", reading.DeviceID),
			zap.Error(err),
		)
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// 1. 解析设备与牲畜
	tracker, err := s.trackers.GetTrackerByDeviceID(ctx, r.DeviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.discard(r.DeviceID, ReasonUnknownDevice), nil
		}
		return s.fail("lookup", r.DeviceID, err)
	}
	if tracker.AnimalID == nil {
		return s.discard(r.DeviceID, ReasonUnassignedTracker), nil
	}
	animal, err := s.animals.GetAnimal(ctx, *tracker.AnimalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return s.discard(r.DeviceID, ReasonUnknownAnimal), nil
		}
		return s.fail("lookup", r.DeviceID, err)
	}

	// 2+3. 同一事务更新定位器存活信息并写入定位记录
	sample := &models.LocationSample{
		AnimalID:       animal.ID,
		TrackerID:      tracker.ID,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Altitude:       r.Altitude,
		Speed:          r.Speed,
		ActivityLevel:  r.ActivityLevel,
		Temperature:    r.Temperature,
		SignalStrength: r.SignalStrength,
		Timestamp:      r.Timestamp,
	}
	hb := repository.TrackerHeartbeat{
		TrackerID:    tracker.ID,
		BatteryLevel: r.BatteryLevel,
		LastSeen:     r.Timestamp,
	}
	if _, err := s.samples.RecordSample(ctx, hb, sample); err != nil {
		// 查找之后定位器被删除
		if errors.Is(err, repository.ErrNotFound) {
			return s.discard(r.DeviceID, ReasonUnknownDevice), nil
		}
		return s.fail("persist", r.DeviceID, err)
	}

	// 4+5. 规则评估、告警、推送
	outcome := s.afterPersist(ctx, animal, sample)
	s.metrics.IngestAccepted(s.now().Sub(start))
	return outcome, nil
}

// SaveSample 直接写入一条定位记录（不更新定位器存活信息），之后同样评估规则并推送
func (s *Service) SaveSample(ctx context.Context, in ManualSample) (Outcome, error) {
	m, err := in.Normalize(s.now)
	if err != nil {
		s.metrics.IngestRejected("validation")
		return Outcome{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	animal, err := s.animals.GetAnimal(ctx, m.AnimalID)
	if err != nil {
		return Outcome{}, s.lookupError(err, "animal", m.AnimalID)
	}
	if _, err := s.trackers.GetTracker(ctx, m.TrackerID); err != nil {
		return Outcome{}, s.lookupError(err, "tracker", m.TrackerID)
	}

	sample := &models.LocationSample{
		AnimalID:       m.AnimalID,
		TrackerID:      m.TrackerID,
		Latitude:       m.Latitude,
		Longitude:      m.Longitude,
		Altitude:       m.Altitude,
		Speed:          m.Speed,
		ActivityLevel:  m.ActivityLevel,
		Temperature:    m.Temperature,
		SignalStrength: m.SignalStrength,
		Timestamp:      m.Timestamp,
	}
	if _, err := s.samples.InsertSample(ctx, sample); err != nil {
		s.metrics.IngestFailed("persist")
		return Outcome{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	return s.afterPersist(ctx, animal, sample), nil
}

func (s *Service) afterPersist(ctx context.Context, animal *models.Animal, sample *models.LocationSample) Outcome {
	outcome := Outcome{
		Status:   StatusAccepted,
		SampleID: sample.ID,
		AnimalID: animal.ID,
	}

	for _, c := range s.evaluator.Evaluate(ctx, animal, sample) {
		view, err := s.alerts.Raise(ctx, animal, c)
		if err != nil {
			s.logger.Error("Failed to raise alert",
				zap.Int64("animal_id", animal.ID),
				zap.String("kind", string(c.Kind)),
				zap.Error(err),
			)
			continue
		}
		if view != nil {
			outcome.Alerts = append(outcome.Alerts, *view)
		}
	}

	s.publisher.PublishLocation(ctx, models.LocationUpdate{
		AnimalID:   animal.ID,
		AnimalName: animal.Name,
		FarmID:     animal.FarmID,
		Location:   sample.View(),
	})

	s.logger.Debug("Telemetry sample processed",
		zap.Int64("animal_id", animal.ID),
		zap.Int64("sample_id", sample.ID),
		zap.Int("alerts", len(outcome.Alerts)),
	)
	return outcome
}

func (s *Service) discard(deviceID, reason string) Outcome {
	s.metrics.IngestDiscarded(reason)
	s.logger.Warn("Discarded telemetry reading",
		zap.String("device_id", deviceID),
		zap.String("reason", reason),
	)
	return Outcome{Status: StatusDiscarded, Reason: reason}
}

func (s *Service) fail(stage, deviceID string, err error) (Outcome, error) {
	s.metrics.IngestFailed(stage)
	s.logger.Error("Failed to ingest telemetry reading",
		zap.String("stage", stage),
		zap.String("device_id", deviceID),
		zap.Error(err),
	)
	return Outcome{}, fmt.Errorf("%w: %w", ErrStorage, err)
}

func (s *Service) lookupError(err error, what string, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s with id %d not found: %w", ErrValidation, what, id, err)
	}
	s.metrics.IngestFailed("lookup")
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
