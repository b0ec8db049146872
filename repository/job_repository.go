package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"MixStudio/model"

	"gorm.io/gorm"
)

// JobRepository 处理任务台账
type JobRepository interface {
	Create(ctx context.Context, job *model.ProcessingJob) error
	// Finish records the terminal state of a job.
	Finish(ctx context.Context, id string, state model.JobState, result model.RawJSON, errMsg string) error
	// GetByID returns nil, nil when the job is unknown.
	GetByID(ctx context.Context, id string) (*model.ProcessingJob, error)
}

type gormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository 创建 GORM 任务台账仓库
func NewGormJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

func (r *gormJobRepository) Create(ctx context.Context, job *model.ProcessingJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (r *gormJobRepository) Finish(ctx context.Context, id string, state model.JobState, result model.RawJSON, errMsg string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.ProcessingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":       state,
			"result":      result,
			"error":       errMsg,
			"finished_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return fmt.Errorf("finish job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("finish job %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

func (r *gormJobRepository) GetByID(ctx context.Context, id string) (*model.ProcessingJob, error) {
	var job model.ProcessingJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}
