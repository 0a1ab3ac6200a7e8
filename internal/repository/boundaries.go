package repository

import (
	"context"
	"database/sql"
	"fmt"

	"herdwatch/internal/models"
)

// BoundariesRepository 牧场边界仓库（只读，边界由牧场管理模块整体替换）
type BoundariesRepository struct {
	db *sql.DB
}

// NewBoundariesRepository 创建边界仓库
func NewBoundariesRepository(db *sql.DB) *BoundariesRepository {
	return &BoundariesRepository{db: db}
}

// GetFarmBoundary 按 sequence 升序返回牧场边界点；无边界时返回空切片
func (r *BoundariesRepository) GetFarmBoundary(ctx context.Context, farmID int64) ([]models.BoundaryPoint, error) {
	query := `
		SELECT latitude, longitude, sequence
		FROM farm_boundaries
		WHERE farm_id = $1
		ORDER BY sequence
	`

	rows, err := r.db.QueryContext(ctx, query, farmID)
	if err != nil {
		return nil, fmt.Errorf("failed to get farm boundary: %w", err)
	}
	defer rows.Close()

	points := make([]models.BoundaryPoint, 0)
	for rows.Next() {
		var p models.BoundaryPoint
		if err := rows.Scan(&p.Latitude, &p.Longitude, &p.Sequence); err != nil {
			return nil, fmt.Errorf("failed to scan boundary point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
