package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"herdwatch/internal/models"

	"go.uber.org/zap"
)

// AnimalsRepository 牲畜/牧场只读仓库
type AnimalsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAnimalsRepository 创建牲畜仓库
func NewAnimalsRepository(db *sql.DB, logger *zap.Logger) *AnimalsRepository {
	return &AnimalsRepository{
		db:     db,
		logger: logger,
	}
}

const animalColumns = `id, name, tag, farm_id, gender, birth_date, status, tracker_id`

// GetAnimal 根据 ID 查询牲畜
func (r *AnimalsRepository) GetAnimal(ctx context.Context, animalID int64) (*models.Animal, error) {
	query := `SELECT ` + animalColumns + ` FROM animals WHERE id = $1`

	a, err := scanAnimal(r.db.QueryRowContext(ctx, query, animalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("animal id=%d: %w", animalID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get animal: %w", err)
	}
	return a, nil
}

// ListAnimalsWithTrackers 牧场内已绑定定位器的牲畜
func (r *AnimalsRepository) ListAnimalsWithTrackers(ctx context.Context, farmID int64) ([]*models.Animal, error) {
	query := `
		SELECT ` + animalColumns + `
		FROM animals
		WHERE farm_id = $1
		  AND tracker_id IS NOT NULL
		ORDER BY id
	`
	return r.list(ctx, query, farmID)
}

// ListBreedingCandidates 牧场内可能参与发情监测的牲畜（母畜、Active）
// 月龄在 models.Animal.BreedingEligible 中判断
func (r *AnimalsRepository) ListBreedingCandidates(ctx context.Context, farmID int64) ([]*models.Animal, error) {
	query := `
		SELECT ` + animalColumns + `
		FROM animals
		WHERE farm_id = $1
		  AND LOWER(gender) = 'female'
		  AND status = $2
		ORDER BY id
	`
	return r.list(ctx, query, farmID, models.AnimalStatusActive)
}

// ListFarms 全部牧场
func (r *AnimalsRepository) ListFarms(ctx context.Context) ([]models.Farm, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM farms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list farms: %w", err)
	}
	defer rows.Close()

	var farms []models.Farm
	for rows.Next() {
		var f models.Farm
		if err := rows.Scan(&f.ID, &f.Name); err != nil {
			return nil, fmt.Errorf("failed to scan farm: %w", err)
		}
		farms = append(farms, f)
	}
	return farms, rows.Err()
}

func (r *AnimalsRepository) list(ctx context.Context, query string, args ...any) ([]*models.Animal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list animals: %w", err)
	}
	defer rows.Close()

	var animals []*models.Animal
	for rows.Next() {
		a, err := scanAnimal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan animal: %w", err)
		}
		animals = append(animals, a)
	}
	return animals, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnimal(row rowScanner) (*models.Animal, error) {
	var a models.Animal
	var tag, gender sql.NullString
	var birthDate sql.NullTime
	var trackerID sql.NullInt64

	if err := row.Scan(&a.ID, &a.Name, &tag, &a.FarmID, &gender, &birthDate, &a.Status, &trackerID); err != nil {
		return nil, err
	}

	a.Tag = tag.String
	a.Gender = gender.String
	if birthDate.Valid {
		a.BirthDate = birthDate.Time.UTC()
	}
	a.TrackerID = nullInt64Ptr(trackerID)

	return &a, nil
}
