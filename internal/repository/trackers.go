package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"herdwatch/internal/models"

	"go.uber.org/zap"
)

// TrackersRepository 定位器仓库
type TrackersRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTrackersRepository 创建定位器仓库
func NewTrackersRepository(db *sql.DB, logger *zap.Logger) *TrackersRepository {
	return &TrackersRepository{
		db:     db,
		logger: logger,
	}
}

const trackerColumns = `id, device_id, animal_id, battery_level, last_seen, status`

// GetTrackerByDeviceID 根据设备标识查询定位器
func (r *TrackersRepository) GetTrackerByDeviceID(ctx context.Context, deviceID string) (*models.Tracker, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := `SELECT ` + trackerColumns + ` FROM trackers WHERE device_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, deviceID), "device_id="+deviceID)
}

// GetTracker 根据 ID 查询定位器
func (r *TrackersRepository) GetTracker(ctx context.Context, trackerID int64) (*models.Tracker, error) {
	query := `SELECT ` + trackerColumns + ` FROM trackers WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, trackerID), fmt.Sprintf("id=%d", trackerID))
}

func (r *TrackersRepository) scanOne(row *sql.Row, ref string) (*models.Tracker, error) {
	var t models.Tracker
	var animalID sql.NullInt64
	var lastSeen sql.NullTime
	var status string

	err := row.Scan(&t.ID, &t.DeviceID, &animalID, &t.BatteryLevel, &lastSeen, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tracker %s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}

	t.AnimalID = nullInt64Ptr(animalID)
	if lastSeen.Valid {
		t.LastSeen = lastSeen.Time.UTC()
	}
	t.Status = models.TrackerStatus(status)
	if !t.Status.Valid() {
		r.logger.Warn("Tracker has unknown status",
			zap.Int64("tracker_id", t.ID),
			zap.String("status", status),
		)
	}

	return &t, nil
}
