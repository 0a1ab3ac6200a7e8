package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"herdwatch/internal/models"

	"go.uber.org/zap"
)

// AlertsRepository 告警仓库
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewAlertsRepository 创建告警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// AlertFilter 告警列表过滤条件
type AlertFilter struct {
	FarmID       *int64
	AnimalID     *int64
	OnlyActive   bool
	OnlyUnread   bool
	Severity     *models.AlertSeverity
	Kind         *models.AlertKind
	CreatedAfter *time.Time
}

const alertViewColumns = `
	a.id, a.kind, a.severity, a.message, a.animal_id, an.name, an.farm_id,
	a.is_read, a.is_resolved, a.created_at, a.resolved_at`

// ============================================
// 去重与写入
// ============================================

// HasSimilarAlert hoursBack 小时内是否存在同一牲畜、同类型且未解决的告警
func (r *AlertsRepository) HasSimilarAlert(ctx context.Context, animalID int64, kind models.AlertKind, hoursBack int) (bool, error) {
	if !kind.Valid() {
		return false, fmt.Errorf("invalid alert kind: %q", kind)
	}

	threshold := r.now().UTC().Add(-time.Duration(hoursBack) * time.Hour)

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM alerts
			WHERE animal_id = $1
			  AND kind = $2
			  AND is_resolved = FALSE
			  AND created_at > $3
		)
	`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, animalID, string(kind), threshold).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check similar alert: %w", err)
	}
	return exists, nil
}

// CreateAlert 写入告警
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.ID == "" {
		return fmt.Errorf("alert id is required")
	}
	if !alert.Kind.Valid() || !alert.Severity.Valid() {
		return fmt.Errorf("invalid alert kind/severity: %q/%q", alert.Kind, alert.Severity)
	}

	query := `
		INSERT INTO alerts (
			id, kind, severity, message, animal_id, is_read, is_resolved, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var resolvedAt any
	if alert.ResolvedAt != nil {
		resolvedAt = alert.ResolvedAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		string(alert.Kind),
		string(alert.Severity),
		alert.Message,
		alert.AnimalID,
		alert.IsRead,
		alert.IsResolved,
		alert.CreatedAt.UTC(),
		resolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// ============================================
// 状态流转（幂等）
// ============================================

// MarkRead 标记已读；不存在或已读时不做任何修改，返回是否发生变更
func (r *AlertsRepository) MarkRead(ctx context.Context, alertID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET is_read = TRUE WHERE id = $1 AND is_read = FALSE`,
		alertID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark alert read: %w", err)
	}
	return affected(res)
}

// Resolve 标记已解决；重复调用保留首次的 resolved_at
func (r *AlertsRepository) Resolve(ctx context.Context, alertID string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET is_resolved = TRUE, resolved_at = $2 WHERE id = $1 AND is_resolved = FALSE`,
		alertID, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return affected(res)
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// ============================================
// 查询
// ============================================

// GetAlert 根据 ID 查询告警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.AlertView, error) {
	query := `
		SELECT ` + alertViewColumns + `
		FROM alerts a
		JOIN animals an ON an.id = a.animal_id
		WHERE a.id = $1
	`

	v, err := scanAlertView(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert id=%s: %w", alertID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return v, nil
}

// ListAlerts 按条件查询告警，按创建时间倒序
func (r *AlertsRepository) ListAlerts(ctx context.Context, filter AlertFilter) ([]models.AlertView, error) {
	where, args := buildAlertWhere(filter)

	query := `
		SELECT ` + alertViewColumns + `
		FROM alerts a
		JOIN animals an ON an.id = a.animal_id
		WHERE ` + where + `
		ORDER BY a.created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.AlertView, 0)
	for rows.Next() {
		v, err := scanAlertView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *v)
	}
	return alerts, rows.Err()
}

// CountAlerts 按条件统计告警数量
func (r *AlertsRepository) CountAlerts(ctx context.Context, filter AlertFilter) (int, error) {
	where, args := buildAlertWhere(filter)

	query := `
		SELECT COUNT(*)
		FROM alerts a
		JOIN animals an ON an.id = a.animal_id
		WHERE ` + where

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return count, nil
}

func buildAlertWhere(f AlertFilter) (string, []any) {
	conds := []string{"1=1"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.FarmID != nil {
		add("an.farm_id = $%d", *f.FarmID)
	}
	if f.AnimalID != nil {
		add("a.animal_id = $%d", *f.AnimalID)
	}
	if f.Severity != nil {
		add("a.severity = $%d", string(*f.Severity))
	}
	if f.Kind != nil {
		add("a.kind = $%d", string(*f.Kind))
	}
	if f.CreatedAfter != nil {
		add("a.created_at > $%d", f.CreatedAfter.UTC())
	}
	if f.OnlyActive {
		conds = append(conds, "a.is_resolved = FALSE")
	}
	if f.OnlyUnread {
		conds = append(conds, "a.is_read = FALSE")
	}

	where := conds[0]
	for _, c := range conds[1:] {
		where += "\n\t\t  AND " + c
	}
	return where, args
}

func scanAlertView(row rowScanner) (*models.AlertView, error) {
	var v models.AlertView
	var kind, severity string
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&v.ID, &kind, &severity, &v.Message, &v.AnimalID, &v.AnimalName, &v.FarmID,
		&v.IsRead, &v.IsResolved, &v.CreatedAt, &resolvedAt,
	); err != nil {
		return nil, err
	}

	v.Kind = models.AlertKind(kind)
	v.Severity = models.AlertSeverity(severity)
	v.Title = models.AlertTitle(v.Kind, v.Severity)
	v.CreatedAt = v.CreatedAt.UTC()
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		v.ResolvedAt = &t
	}

	return &v, nil
}
