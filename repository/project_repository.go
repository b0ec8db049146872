package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"MixStudio/model"

	"gorm.io/gorm"
)

// ErrStatusConflict is returned when a conditional status write finds a different current status.
var ErrStatusConflict = errors.New("track status changed concurrently")

// ProjectRepository 工程与音轨数据访问接口
type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	ListByUser(ctx context.Context, userID int64) ([]*model.Project, error)
	// GetByID returns nil, nil when the project does not exist.
	GetByID(ctx context.Context, id int64) (*model.Project, error)
	AddTracks(ctx context.Context, projectID int64, tracks []*model.Track) error
	// SwapTrackStatus writes `to` only if the track is currently `from`.
	SwapTrackStatus(ctx context.Context, trackID int64, from, to model.TrackStatus) error
	// CompleteTrack moves the track from Processing to Mastered and appends the
	// produced tracks in one transaction.
	CompleteTrack(ctx context.Context, projectID, trackID int64, produced []*model.Track) error
}

// gormProjectRepository GORM 实现
type gormProjectRepository struct {
	db *gorm.DB
}

// NewGormProjectRepository 创建 GORM 工程仓库
func NewGormProjectRepository(db *gorm.DB) ProjectRepository {
	return &gormProjectRepository{db: db}
}

func orderedTracks(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC, id ASC")
}

// Create 创建工程
func (r *gormProjectRepository) Create(ctx context.Context, project *model.Project) error {
	if project.Status == "" {
		project.Status = model.ProjectStatusActive
	}
	if err := r.db.WithContext(ctx).Omit("Tracks").Create(project).Error; err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	if project.Tracks == nil {
		project.Tracks = []model.Track{}
	}
	return nil
}

// ListByUser 获取用户的全部工程
func (r *gormProjectRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Project, error) {
	var projects []*model.Project
	err := r.db.WithContext(ctx).
		Preload("Tracks", orderedTracks).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("list projects for user %d: %w", userID, err)
	}
	return projects, nil
}

// GetByID 根据ID获取工程（含音轨）
func (r *gormProjectRepository) GetByID(ctx context.Context, id int64) (*model.Project, error) {
	var project model.Project
	err := r.db.WithContext(ctx).
		Preload("Tracks", orderedTracks).
		First(&project, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return &project, nil
}

// AddTracks 追加音轨到工程末尾
func (r *gormProjectRepository) AddTracks(ctx context.Context, projectID int64, tracks []*model.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return appendTracks(tx, projectID, tracks)
	})
}

func appendTracks(tx *gorm.DB, projectID int64, tracks []*model.Track) error {
	var maxPos sql.NullInt64
	if err := tx.Model(&model.Track{}).
		Where("project_id = ?", projectID).
		Select("MAX(position)").
		Row().Scan(&maxPos); err != nil {
		return fmt.Errorf("read track positions for project %d: %w", projectID, err)
	}

	next := 0
	if maxPos.Valid {
		next = int(maxPos.Int64) + 1
	}
	for _, t := range tracks {
		t.ProjectID = projectID
		t.Position = next
		next++
		if t.Type == "" {
			t.Type = model.DefaultTrackType
		}
		if t.Status == "" {
			t.Status = model.TrackStatusRaw
		}
	}

	if err := tx.Create(&tracks).Error; err != nil {
		return fmt.Errorf("insert tracks for project %d: %w", projectID, err)
	}
	// 更新工程的 updated_at
	return tx.Model(&model.Project{}).Where("id = ?", projectID).Update("updated_at", time.Now()).Error
}

// SwapTrackStatus 条件更新音轨状态（CAS），并递增版本号
func (r *gormProjectRepository) SwapTrackStatus(ctx context.Context, trackID int64, from, to model.TrackStatus) error {
	return swapStatus(r.db.WithContext(ctx), trackID, from, to)
}

func swapStatus(db *gorm.DB, trackID int64, from, to model.TrackStatus) error {
	res := db.Model(&model.Track{}).
		Where("id = ? AND status = ?", trackID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("update status of track %d: %w", trackID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("track %d is not %s: %w", trackID, from, ErrStatusConflict)
	}
	return nil
}

// CompleteTrack 完成处理：Processing -> Mastered，并追加产出的分轨
func (r *gormProjectRepository) CompleteTrack(ctx context.Context, projectID, trackID int64, produced []*model.Track) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := swapStatus(tx, trackID, model.TrackStatusProcessing, model.TrackStatusMastered); err != nil {
			return err
		}
		if len(produced) == 0 {
			return nil
		}
		return appendTracks(tx, projectID, produced)
	})
}
