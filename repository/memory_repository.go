package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"MixStudio/model"
)

// 内存实现：用于 `server --in-memory` 本地调试和各包测试，语义与 GORM / MySQL 实现一致

// MemoryUserRepository is an in-process UserRepository.
type MemoryUserRepository struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]model.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: make(map[int64]model.User)}
}

func (r *MemoryUserRepository) CreateUser(_ context.Context, user *model.User) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return 0, fmt.Errorf("create user %s: %w", user.Username, ErrDuplicateUser)
		}
	}
	r.nextID++
	now := time.Now()
	stored := *user
	stored.ID = r.nextID
	stored.CreatedAt, stored.UpdatedAt = now, now
	r.users[stored.ID] = stored
	return stored.ID, nil
}

func (r *MemoryUserRepository) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u, ok := r.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r *MemoryUserRepository) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u model.User) bool { return strings.EqualFold(u.Username, username) }), nil
}

func (r *MemoryUserRepository) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	return r.find(func(u model.User) bool { return strings.EqualFold(u.Email, email) }), nil
}

func (r *MemoryUserRepository) find(match func(model.User) bool) *model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if match(u) {
			found := u
			return &found
		}
	}
	return nil
}

// MemoryProjectRepository is an in-process ProjectRepository. Reads return copies.
type MemoryProjectRepository struct {
	mu          sync.RWMutex
	nextProject int64
	nextTrack   int64
	projects    map[int64]*model.Project
}

func NewMemoryProjectRepository() *MemoryProjectRepository {
	return &MemoryProjectRepository{projects: make(map[int64]*model.Project)}
}

func (r *MemoryProjectRepository) Create(_ context.Context, project *model.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if project.Status == "" {
		project.Status = model.ProjectStatusActive
	}
	r.nextProject++
	now := time.Now()
	project.ID = r.nextProject
	project.CreatedAt, project.UpdatedAt = now, now
	project.Tracks = []model.Track{}

	stored := *project
	stored.Tracks = nil
	r.projects[stored.ID] = &stored
	return nil
}

func (r *MemoryProjectRepository) ListByUser(_ context.Context, userID int64) ([]*model.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	projects := make([]*model.Project, 0)
	for _, p := range r.projects {
		if p.UserID == userID {
			projects = append(projects, copyProject(p))
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].CreatedAt.Equal(projects[j].CreatedAt) {
			return projects[i].ID > projects[j].ID
		}
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
	return projects, nil
}

func (r *MemoryProjectRepository) GetByID(_ context.Context, id int64) (*model.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, nil
	}
	return copyProject(p), nil
}

func (r *MemoryProjectRepository) AddTracks(_ context.Context, projectID int64, tracks []*model.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.appendLocked(projectID, tracks)
}

func (r *MemoryProjectRepository) appendLocked(projectID int64, tracks []*model.Track) error {
	p, ok := r.projects[projectID]
	if !ok {
		return fmt.Errorf("insert tracks for project %d: project not found", projectID)
	}
	next := 0
	for _, t := range p.Tracks {
		if t.Position >= next {
			next = t.Position + 1
		}
	}
	now := time.Now()
	for _, t := range tracks {
		r.nextTrack++
		t.ID = r.nextTrack
		t.ProjectID = projectID
		t.Position = next
		next++
		if t.Type == "" {
			t.Type = model.DefaultTrackType
		}
		if t.Status == "" {
			t.Status = model.TrackStatusRaw
		}
		t.CreatedAt, t.UpdatedAt = now, now
		p.Tracks = append(p.Tracks, *t)
	}
	p.UpdatedAt = now
	return nil
}

func (r *MemoryProjectRepository) SwapTrackStatus(_ context.Context, trackID int64, from, to model.TrackStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.swapLocked(trackID, from, to)
}

func (r *MemoryProjectRepository) swapLocked(trackID int64, from, to model.TrackStatus) error {
	t := r.trackLocked(trackID)
	if t == nil || t.Status != from {
		return fmt.Errorf("track %d is not %s: %w", trackID, from, ErrStatusConflict)
	}
	t.Status = to
	t.Version++
	t.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryProjectRepository) CompleteTrack(_ context.Context, projectID, trackID int64, produced []*model.Track) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[projectID]; !ok && len(produced) > 0 {
		return fmt.Errorf("insert tracks for project %d: project not found", projectID)
	}
	if err := r.swapLocked(trackID, model.TrackStatusProcessing, model.TrackStatusMastered); err != nil {
		return err
	}
	if len(produced) == 0 {
		return nil
	}
	return r.appendLocked(projectID, produced)
}

func (r *MemoryProjectRepository) trackLocked(trackID int64) *model.Track {
	for _, p := range r.projects {
		for i := range p.Tracks {
			if p.Tracks[i].ID == trackID {
				return &p.Tracks[i]
			}
		}
	}
	return nil
}

func copyProject(p *model.Project) *model.Project {
	cp := *p
	cp.Tracks = make([]model.Track, len(p.Tracks))
	copy(cp.Tracks, p.Tracks)
	sort.SliceStable(cp.Tracks, func(i, j int) bool {
		if cp.Tracks[i].Position == cp.Tracks[j].Position {
			return cp.Tracks[i].ID < cp.Tracks[j].ID
		}
		return cp.Tracks[i].Position < cp.Tracks[j].Position
	})
	return &cp
}

// MemoryJobRepository is an in-process JobRepository.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]model.ProcessingJob
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]model.ProcessingJob)}
}

func (r *MemoryJobRepository) Create(_ context.Context, job *model.ProcessingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: duplicate id", job.ID)
	}
	now := time.Now()
	job.CreatedAt, job.UpdatedAt = now, now
	r.jobs[job.ID] = *job
	return nil
}

func (r *MemoryJobRepository) Finish(_ context.Context, id string, state model.JobState, result model.RawJSON, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("finish job %s: not found", id)
	}
	now := time.Now()
	job.State = state
	job.Result = result
	job.Error = errMsg
	job.FinishedAt = &now
	job.UpdatedAt = now
	r.jobs[id] = job
	return nil
}

func (r *MemoryJobRepository) GetByID(_ context.Context, id string) (*model.ProcessingJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if job, ok := r.jobs[id]; ok {
		return &job, nil
	}
	return nil, nil
}

var (
	_ UserRepository    = (*MemoryUserRepository)(nil)
	_ ProjectRepository = (*MemoryProjectRepository)(nil)
	_ JobRepository     = (*MemoryJobRepository)(nil)
)
