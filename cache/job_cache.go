package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MixStudio/logger"
	"MixStudio/model"
	"MixStudio/repository"
)

// CachedJobRepository 任务台账的读穿透缓存。只缓存已结束的任务，结束后的记录不再变化
type CachedJobRepository struct {
	repository.JobRepository
	store Store
	ttl   time.Duration
}

// NewCachedJobRepository wraps inner with a read-through cache in store.
func NewCachedJobRepository(inner repository.JobRepository, store Store, ttl time.Duration) *CachedJobRepository {
	return &CachedJobRepository{JobRepository: inner, store: store, ttl: ttl}
}

func (c *CachedJobRepository) Finish(ctx context.Context, id string, state model.JobState, result model.RawJSON, errMsg string) error {
	if err := c.JobRepository.Finish(ctx, id, state, result, errMsg); err != nil {
		return err
	}
	if err := c.store.Del(ctx, fmt.Sprintf(jobKey, id)); err != nil {
		logger.Warn("[Cache] Failed to invalidate job", logger.String("jobID", id), logger.ErrorField(err))
	}
	return nil
}

func (c *CachedJobRepository) GetByID(ctx context.Context, id string) (*model.ProcessingJob, error) {
	key := fmt.Sprintf(jobKey, id)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		// 缓存不可用时直接读库
		logger.Warn("[Cache] Job cache read failed", logger.String("jobID", id), logger.ErrorField(err))
	}
	if data != nil {
		var job model.ProcessingJob
		if err := json.Unmarshal(data, &job); err == nil {
			return &job, nil
		}
	}

	job, err := c.JobRepository.GetByID(ctx, id)
	if err != nil || job == nil {
		return job, err
	}

	if job.State.Terminal() {
		if data, err := json.Marshal(job); err == nil {
			if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
				logger.Warn("[Cache] Job cache write failed", logger.String("jobID", id), logger.ErrorField(err))
			}
		}
	}
	return job, nil
}

var _ repository.JobRepository = (*CachedJobRepository)(nil)
