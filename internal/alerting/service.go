package alerting

import (
	"context"
	"fmt"
	"time"

	"herdwatch/internal/metrics"
	"herdwatch/internal/models"
	"herdwatch/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultDedupHours 同一牲畜同类型未解决告警的去重窗口
const DefaultDedupHours = 24

// Store 告警持久化（repository.AlertsRepository 实现）
type Store interface {
	HasSimilarAlert(ctx context.Context, animalID int64, kind models.AlertKind, hoursBack int) (bool, error)
	CreateAlert(ctx context.Context, alert *models.Alert) error
	MarkRead(ctx context.Context, alertID string) (bool, error)
	Resolve(ctx context.Context, alertID string, at time.Time) (bool, error)
	GetAlert(ctx context.Context, alertID string) (*models.AlertView, error)
	ListAlerts(ctx context.Context, filter repository.AlertFilter) ([]models.AlertView, error)
	CountAlerts(ctx context.Context, filter repository.AlertFilter) (int, error)
}

// Notifier 新告警通知（notify.Fanout 实现），不得阻塞
type Notifier interface {
	NotifyAlert(ctx context.Context, alert models.AlertView)
}

// Service 告警去重、写入、状态流转与查询
type Service struct {
	store      Store
	locker     Locker
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *zap.Logger
	dedupHours int
	now        func() time.Time
}

// NewService 创建告警服务；locker 为 nil 时使用进程内锁
func NewService(store Store, locker Locker, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Service {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Service{
		store:      store,
		locker:     locker,
		notifier:   notifier,
		metrics:    m,
		logger:     logger,
		dedupHours: DefaultDedupHours,
		now:        time.Now,
	}
}

// SetDedupHours 调整去重窗口
func (s *Service) SetDedupHours(hours int) {
	if hours > 0 {
		s.dedupHours = hours
	}
}

// Raise 去重后写入告警并通知；窗口内已有同类未解决告警时返回 (nil, nil)
func (s *Service) Raise(ctx context.Context, animal *models.Animal, c models.Candidate) (*models.AlertView, error) {
	if animal == nil {
		return nil, fmt.Errorf("animal is required")
	}
	if !c.Kind.Valid() || !c.Severity.Valid() {
		return nil, fmt.Errorf("invalid candidate kind/severity: %q/%q", c.Kind, c.Severity)
	}

	view, err := s.raiseLocked(ctx, animal, c)
	if err != nil || view == nil {
		return nil, err
	}

	s.metrics.AlertRaised(string(c.Kind))
	s.logger.Info("Alert created",
		zap.String("alert_id", view.ID),
		zap.String("kind", string(view.Kind)),
		zap.String("severity", string(view.Severity)),
		zap.Int64("animal_id", view.AnimalID),
		zap.Int64("farm_id", view.FarmID),
	)

	if s.notifier != nil {
		s.notifier.NotifyAlert(ctx, *view)
	}
	return view, nil
}

func (s *Service) raiseLocked(ctx context.Context, animal *models.Animal, c models.Candidate) (*models.AlertView, error) {
	unlock, err := s.locker.Lock(ctx, LockKey(animal.ID, string(c.Kind)))
	if err != nil {
		return nil, err
	}
	defer unlock()

	exists, err := s.store.HasSimilarAlert(ctx, animal.ID, c.Kind, s.dedupHours)
	if err != nil {
		return nil, fmt.Errorf("failed to check similar alert: %w", err)
	}
	if exists {
		s.metrics.AlertSuppressed(string(c.Kind))
		s.logger.Debug("Alert suppressed by dedup window",
			zap.Int64("animal_id", animal.ID),
			zap.String("kind", string(c.Kind)),
		)
		return nil, nil
	}

	alert := &models.Alert{
		ID:        uuid.NewString(),
		Kind:      c.Kind,
		Severity:  c.Severity,
		Message:   c.Message,
		AnimalID:  animal.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	view := models.NewAlertView(alert, animal.Name, animal.FarmID)
	return &view, nil
}

// ============================================
// 状态流转（幂等，不存在的 ID 不报错）
// ============================================

// MarkRead 标记已读，返回是否发生变更
func (s *Service) MarkRead(ctx context.Context, alertID string) (bool, error) {
	if !validAlertID(alertID) {
		return false, nil
	}
	changed, err := s.store.MarkRead(ctx, alertID)
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Debug("Alert marked read", zap.String("alert_id", alertID))
	}
	return changed, nil
}

// Resolve 标记已解决；重复调用不改变首次的解决时间
func (s *Service) Resolve(ctx context.Context, alertID string) (bool, error) {
	if !validAlertID(alertID) {
		return false, nil
	}
	changed, err := s.store.Resolve(ctx, alertID, s.now().UTC())
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info("Alert resolved", zap.String("alert_id", alertID))
	}
	return changed, nil
}

// ============================================
// 查询（按创建时间倒序）
// ============================================

// GetAlert 查询单条告警
func (s *Service) GetAlert(ctx context.Context, alertID string) (*models.AlertView, error) {
	if !validAlertID(alertID) {
		return nil, repository.ErrNotFound
	}
	return s.store.GetAlert(ctx, alertID)
}

// validAlertID 告警 ID 为 uuid，格式不对的 ID 不可能存在
func validAlertID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ActiveAlerts 牧场未解决告警
func (s *Service) ActiveAlerts(ctx context.Context, farmID int64) ([]models.AlertView, error) {
	return s.store.ListAlerts(ctx, repository.AlertFilter{FarmID: &farmID, OnlyActive: true})
}

// CriticalAlerts 牧场未解决的高级别告警
func (s *Service) CriticalAlerts(ctx context.Context, farmID int64) ([]models.AlertView, error) {
	sev := models.SeverityHigh
	return s.store.ListAlerts(ctx, repository.AlertFilter{FarmID: &farmID, OnlyActive: true, Severity: &sev})
}

// UnreadCount 牧场未读且未解决告警数
func (s *Service) UnreadCount(ctx context.Context, farmID int64) (int, error) {
	return s.store.CountAlerts(ctx, repository.AlertFilter{FarmID: &farmID, OnlyActive: true, OnlyUnread: true})
}

// AnimalAlerts 单头牲畜的告警
func (s *Service) AnimalAlerts(ctx context.Context, animalID int64, onlyActive bool) ([]models.AlertView, error) {
	return s.store.ListAlerts(ctx, repository.AlertFilter{AnimalID: &animalID, OnlyActive: onlyActive})
}

// FarmAlerts 牧场告警（导出用），since 为零值时不限时间
func (s *Service) FarmAlerts(ctx context.Context, farmID int64, since time.Time) ([]models.AlertView, error) {
	filter := repository.AlertFilter{FarmID: &farmID}
	if !since.IsZero() {
		filter.CreatedAfter = &since
	}
	return s.store.ListAlerts(ctx, filter)
}
