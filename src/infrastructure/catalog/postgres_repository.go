package catalog

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"docqa/src/core/rag"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// OpenPostgres connects with dsn and migrates the snapshots table.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("failed to migrate snapshots: %w", err)
	}
	return db, nil
}

func (r *PostgresRepository) Create(ctx context.Context, s *Snapshot) error {
	if s.Status == "" {
		s.Status = StatusPending
	}
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *PostgresRepository) Get(ctx context.Context, requestID string) (*Snapshot, error) {
	var s Snapshot
	result := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&s)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", rag.ErrSnapshotNotFound, requestID)
		}
		return nil, result.Error
	}

	return &s, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, requestID string, status Status, err *string) error {
	result := r.db.WithContext(ctx).Model(&Snapshot{}).Where("request_id = ?", requestID).Updates(map[string]interface{}{
		"status": status,
		"error":  err,
	})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", rag.ErrSnapshotNotFound, requestID)
	}

	return nil
}

func (r *PostgresRepository) Latest(ctx context.Context, backend string) (*Snapshot, error) {
	q := r.db.WithContext(ctx).Where("status = ?", StatusPublished)
	if backend != "" {
		q = q.Where("backend = ?", backend)
	}

	var s Snapshot
	result := q.Order("created_at DESC").First(&s)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no published snapshot", rag.ErrSnapshotNotFound)
		}
		return nil, result.Error
	}

	return &s, nil
}

func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]Snapshot, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&Snapshot{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var snapshots []Snapshot
	result := r.db.WithContext(ctx).Order("created_at DESC").Offset(offset).Limit(limit).Find(&snapshots)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	return snapshots, total, nil
}
