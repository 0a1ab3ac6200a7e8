package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"herdwatch/internal/models"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
)

// LocationHistoryRepository 定位历史仓库（追加写 + 按牲畜的时间窗查询）
type LocationHistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewLocationHistoryRepository 创建定位历史仓库
func NewLocationHistoryRepository(db *sql.DB, logger *zap.Logger) *LocationHistoryRepository {
	return &LocationHistoryRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// TrackerHeartbeat 定位器存活信息（电量 + 最后上报时间）
type TrackerHeartbeat struct {
	TrackerID    int64
	BatteryLevel int
	LastSeen     time.Time
}

const sampleColumns = `id, animal_id, tracker_id, latitude, longitude, altitude, speed,
	activity_level, temperature, signal_strength, timestamp`

// ============================================
// 写入
// ============================================

// RecordSample 在同一事务内更新定位器存活信息并追加定位记录，任一步失败整体回滚
func (r *LocationHistoryRepository) RecordSample(ctx context.Context, hb TrackerHeartbeat, sample *models.LocationSample) (int64, error) {
	if sample == nil {
		return 0, fmt.Errorf("sample is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error("Failed to rollback sample transaction",
					zap.Int64("tracker_id", hb.TrackerID),
					zap.Error(rbErr),
				)
			}
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE trackers SET battery_level = $1, last_seen = $2 WHERE id = $3`,
		hb.BatteryLevel, hb.LastSeen.UTC(), hb.TrackerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update tracker: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, fmt.Errorf("tracker id=%d: %w", hb.TrackerID, ErrNotFound)
	}

	id, err := insertSample(ctx, tx, sample)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sample transaction: %w", err)
	}
	committed = true

	sample.ID = id
	return id, nil
}

// InsertSample 直接追加一条定位记录（不更新定位器）
func (r *LocationHistoryRepository) InsertSample(ctx context.Context, sample *models.LocationSample) (int64, error) {
	if sample == nil {
		return 0, fmt.Errorf("sample is required")
	}
	id, err := insertSample(ctx, r.db, sample)
	if err != nil {
		return 0, err
	}
	sample.ID = id
	return id, nil
}

func insertSample(ctx context.Context, q queryer, s *models.LocationSample) (int64, error) {
	query := `
		INSERT INTO location_history (
			animal_id, tracker_id, latitude, longitude, altitude, speed,
			activity_level, temperature, signal_strength, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	var id int64
	err := q.QueryRowContext(ctx, query,
		s.AnimalID, s.TrackerID, s.Latitude, s.Longitude, s.Altitude, s.Speed,
		s.ActivityLevel, s.Temperature, s.SignalStrength, s.Timestamp.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert location sample: %w", err)
	}
	return id, nil
}

// ============================================
// 查询
// ============================================

// RecentSamples 最近 hoursBack 小时内的定位记录，按时间倒序
func (r *LocationHistoryRepository) RecentSamples(ctx context.Context, animalID int64, hoursBack int) ([]models.LocationSample, error) {
	cutoff := r.now().UTC().Add(-time.Duration(hoursBack) * time.Hour)

	query := `
		SELECT ` + sampleColumns + `
		FROM location_history
		WHERE animal_id = $1
		  AND timestamp >= $2
		ORDER BY timestamp DESC
	`
	return r.querySamples(ctx, query, animalID, cutoff)
}

// AverageActivity 最近 hoursBack 小时内的平均活动量，窗口内无数据时为 0
func (r *LocationHistoryRepository) AverageActivity(ctx context.Context, animalID int64, hoursBack int) (float64, error) {
	cutoff := r.now().UTC().Add(-time.Duration(hoursBack) * time.Hour)

	query := `
		SELECT COALESCE(AVG(activity_level), 0)::float8
		FROM location_history
		WHERE animal_id = $1
		  AND timestamp >= $2
	`

	var avg float64
	if err := r.db.QueryRowContext(ctx, query, animalID, cutoff).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to get average activity: %w", err)
	}
	return avg, nil
}

// History [from, to] 区间内的定位记录，按时间正序
func (r *LocationHistoryRepository) History(ctx context.Context, animalID int64, from, to time.Time) ([]models.LocationSample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM location_history
		WHERE animal_id = $1
		  AND timestamp >= $2
		  AND timestamp <= $3
		ORDER BY timestamp ASC
	`
	return r.querySamples(ctx, query, animalID, from.UTC(), to.UTC())
}

// LastSample 最新一条定位记录
func (r *LocationHistoryRepository) LastSample(ctx context.Context, animalID int64) (*models.LocationSample, error) {
	query := `
		SELECT ` + sampleColumns + `
		FROM location_history
		WHERE animal_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`

	s, err := scanSample(r.db.QueryRowContext(ctx, query, animalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("location for animal id=%d: %w", animalID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get last sample: %w", err)
	}
	return s, nil
}

// AnimalsInArea [from, to] 内出现在矩形范围的牲畜，及其在范围内的最新位置
func (r *LocationHistoryRepository) AnimalsInArea(ctx context.Context, area *geom.Bounds, from, to time.Time) ([]models.AnimalLocation, error) {
	query := `
		SELECT DISTINCT ON (lh.animal_id)
			a.id, a.name, a.tag, a.status, a.farm_id, a.tracker_id,
			lh.latitude, lh.longitude, lh.altitude, lh.speed,
			lh.activity_level, lh.temperature, lh.timestamp
		FROM location_history lh
		JOIN animals a ON a.id = lh.animal_id
		WHERE lh.timestamp >= $1
		  AND lh.timestamp <= $2
		  AND lh.longitude BETWEEN $3 AND $4
		  AND lh.latitude BETWEEN $5 AND $6
		ORDER BY lh.animal_id, lh.timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, query,
		from.UTC(), to.UTC(),
		area.Min(0), area.Max(0),
		area.Min(1), area.Max(1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query animals in area: %w", err)
	}
	defer rows.Close()

	result := make([]models.AnimalLocation, 0)
	for rows.Next() {
		var al models.AnimalLocation
		var loc models.LocationView
		var tag sql.NullString
		var trackerID sql.NullInt64
		if err := rows.Scan(
			&al.ID, &al.Name, &tag, &al.Status, &al.FarmID, &trackerID,
			&loc.Latitude, &loc.Longitude, &loc.Altitude, &loc.Speed,
			&loc.ActivityLevel, &loc.Temperature, &loc.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan animal location: %w", err)
		}
		al.Tag = tag.String
		al.TrackerID = nullInt64Ptr(trackerID)
		loc.Timestamp = loc.Timestamp.UTC()
		al.CurrentLocation = &loc
		result = append(result, al)
	}
	return result, rows.Err()
}

func (r *LocationHistoryRepository) querySamples(ctx context.Context, query string, args ...any) ([]models.LocationSample, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query location history: %w", err)
	}
	defer rows.Close()

	samples := make([]models.LocationSample, 0)
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location sample: %w", err)
		}
		samples = append(samples, *s)
	}
	return samples, rows.Err()
}

func scanSample(row rowScanner) (*models.LocationSample, error) {
	var s models.LocationSample
	if err := row.Scan(
		&s.ID, &s.AnimalID, &s.TrackerID, &s.Latitude, &s.Longitude, &s.Altitude, &s.Speed,
		&s.ActivityLevel, &s.Temperature, &s.SignalStrength, &s.Timestamp,
	); err != nil {
		return nil, err
	}
	s.Timestamp = s.Timestamp.UTC()
	return &s, nil
}
