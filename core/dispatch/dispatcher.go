package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"time"

	"MixStudio/core/worker"
	"MixStudio/logger"
	"MixStudio/model"
	"MixStudio/repository"

	"github.com/google/uuid"
)

const (
	DefaultUploadTask   = "trim"
	DefaultExistingTask = "separate"

	// finalizeTimeout bounds the terminal status and ledger writes, which run
	// even after the caller has gone away.
	finalizeTimeout = 10 * time.Second
	// lockMargin is added to the worker timeout so a lock outlives the worker call.
	lockMargin = time.Minute
)

// Processor is the worker call used by the dispatcher.
type Processor interface {
	Submit(ctx context.Context, filePath, taskType string, params map[string]interface{}) (json.RawMessage, error)
}

// ProjectStore is the subset of the project repository the dispatcher needs.
type ProjectStore interface {
	GetByID(ctx context.Context, id int64) (*model.Project, error)
	SwapTrackStatus(ctx context.Context, trackID int64, from, to model.TrackStatus) error
	CompleteTrack(ctx context.Context, projectID, trackID int64, produced []*model.Track) error
}

// JobLedger persists job records. Ledger failures are logged, never fatal to a job.
type JobLedger interface {
	Create(ctx context.Context, job *model.ProcessingJob) error
	Finish(ctx context.Context, id string, state model.JobState, result model.RawJSON, errMsg string) error
}

// Notifier receives job transitions for the owning user.
type Notifier interface {
	Publish(userID int64, event model.JobEvent)
}

// UploadedFile is a file already stored by the HTTP layer.
type UploadedFile struct {
	Path     string // where the upload was stored, relative or absolute
	Filename string
	Size     int64
}

// ExistingRequest asks for a job on a track that belongs to a project.
type ExistingRequest struct {
	UserID    int64
	ProjectID int64
	TrackID   int64
	TaskType  string
	Options   string
}

// Dispatcher 负责单个处理任务：解析目标、切换音轨状态、调用 Worker、回写终态
type Dispatcher struct {
	worker   Processor
	projects ProjectStore
	jobs     JobLedger
	locker   Locker
	notifier Notifier
	lockTTL  time.Duration
	newJobID func() string
}

// NewDispatcher wires a dispatcher. jobs and notifier may be nil; a nil locker
// falls back to an in-process MemoryLocker.
func NewDispatcher(w Processor, projects ProjectStore, jobs JobLedger, locker Locker, notifier Notifier, workerTimeout time.Duration) *Dispatcher {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	return &Dispatcher{
		worker:   w,
		projects: projects,
		jobs:     jobs,
		locker:   locker,
		notifier: notifier,
		lockTTL:  workerTimeout + lockMargin,
		newJobID: func() string { return uuid.New().String() },
	}
}

// ProcessUpload runs a job on a freshly uploaded file. A nil file yields
// KindMissingFile. Worker faults are reported as KindQueued and never retried.
func (d *Dispatcher) ProcessUpload(ctx context.Context, file *UploadedFile, taskType, options string) Outcome {
	out := Outcome{Path: PathUpload}
	if file == nil {
		return out.with(KindMissingFile, nil)
	}
	out.FileInfo = &FileInfo{Filename: file.Filename, Size: file.Size}

	params, err := ParseOptions(options)
	if err != nil {
		return out.with(KindInvalidOptions, err)
	}

	absPath, err := filepath.Abs(file.Path)
	if err != nil {
		return out.with(KindInternal, err)
	}
	if taskType == "" {
		taskType = DefaultUploadTask
	}

	out.JobID = d.newJobID()
	d.record(ctx, &model.ProcessingJob{
		ID:         out.JobID,
		TaskType:   taskType,
		Params:     encodeParams(params),
		TargetPath: absPath,
		State:      model.JobStateDispatching,
	})

	logger.Info("[Job "+out.JobID+"] Dispatching upload to worker",
		logger.String("taskType", taskType),
		logger.String("file", file.Filename))

	result, err := d.worker.Submit(ctx, absPath, taskType, params)

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err != nil {
		if worker.IsWorkerError(err) {
			logger.Warn("[Job "+out.JobID+"] Worker call failed, job deferred without retry", logger.ErrorField(err))
			d.finish(fctx, out.JobID, model.JobStateDeferred, nil, err.Error())
			return out.with(KindQueued, err)
		}
		d.finish(fctx, out.JobID, model.JobStateFailed, nil, err.Error())
		return out.with(KindInternal, err)
	}

	d.finish(fctx, out.JobID, model.JobStateCompleted, model.RawJSON(result), "")
	logger.Info("[Job " + out.JobID + "] Upload job completed")
	out.WorkerResult = result
	return out.with(KindCompleted, nil)
}

// ProcessExisting runs a job on a stored track. The track moves to Processing
// for the duration of the worker call and always reaches a terminal status:
// Mastered on success, its previous status on any failure.
func (d *Dispatcher) ProcessExisting(ctx context.Context, req ExistingRequest) Outcome {
	out := Outcome{Path: PathExisting}

	project, err := d.projects.GetByID(ctx, req.ProjectID)
	if err != nil {
		return out.with(KindInternal, err)
	}
	if project == nil {
		return out.with(KindProjectNotFound, nil)
	}
	if project.UserID != req.UserID {
		return out.with(KindUnauthorized, nil)
	}
	track := project.FindTrack(req.TrackID)
	if track == nil {
		return out.with(KindTrackNotFound, nil)
	}

	params, err := ParseOptions(req.Options)
	if err != nil {
		return out.with(KindInvalidOptions, err)
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = DefaultExistingTask
	}

	unlock, ok, err := d.locker.TryLock(ctx, TrackLockKey(track.ID), d.lockTTL)
	if err != nil {
		return out.with(KindInternal, err)
	}
	if !ok {
		return out.with(KindTrackBusy, nil)
	}
	defer unlock()

	// 拿到锁后重新读取，避免使用排队期间过期的状态
	if project, err = d.projects.GetByID(ctx, req.ProjectID); err != nil {
		return out.with(KindInternal, err)
	}
	if project == nil {
		return out.with(KindProjectNotFound, nil)
	}
	if track = project.FindTrack(req.TrackID); track == nil {
		return out.with(KindTrackNotFound, nil)
	}

	absPath, err := filepath.Abs(track.Path)
	if err != nil {
		return out.with(KindInternal, err)
	}

	current := track.Status
	restoreTo := current
	if current == model.TrackStatusProcessing {
		// 持有锁时仍是 Processing，说明上一次任务被中断，失败时回到 Raw
		logger.Warn("[Dispatch] Track left in Processing by an interrupted job",
			logger.Int64("trackID", track.ID))
		restoreTo = model.TrackStatusRaw
	}

	if err := d.projects.SwapTrackStatus(ctx, track.ID, current, model.TrackStatusProcessing); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return out.with(KindTrackBusy, err)
		}
		return out.with(KindInternal, err)
	}

	out.JobID = d.newJobID()
	userID, projectID, trackID := req.UserID, project.ID, track.ID
	d.record(ctx, &model.ProcessingJob{
		ID:         out.JobID,
		TaskType:   taskType,
		Params:     encodeParams(params),
		TargetPath: absPath,
		UserID:     &userID,
		ProjectID:  &projectID,
		TrackID:    &trackID,
		State:      model.JobStateDispatching,
	})
	d.publish(userID, out.JobID, projectID, trackID, taskType, model.JobStateDispatching, model.TrackStatusProcessing)

	logger.Info("[Job "+out.JobID+"] Dispatching existing track to worker",
		logger.String("track", track.Name),
		logger.String("taskType", taskType))

	result, werr := d.worker.Submit(ctx, absPath, taskType, params)

	// 终态写入与请求上下文解耦，客户端断开时也必须完成
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	var finalizeErr error
	if werr == nil {
		produced := producedTracks(track, result)
		finalizeErr = d.projects.CompleteTrack(fctx, projectID, trackID, produced)
		if finalizeErr == nil {
			d.finish(fctx, out.JobID, model.JobStateCompleted, model.RawJSON(result), "")
			d.publish(userID, out.JobID, projectID, trackID, taskType, model.JobStateCompleted, model.TrackStatusMastered)
			logger.Info("[Job "+out.JobID+"] Track mastered", logger.Int("producedTracks", len(produced)))
			out.WorkerResult = result
			return out.with(KindCompleted, nil)
		}
	}

	if err := d.projects.SwapTrackStatus(fctx, trackID, model.TrackStatusProcessing, restoreTo); err != nil {
		logger.Error("[Job "+out.JobID+"] Failed to restore track status",
			logger.Int64("trackID", trackID),
			logger.String("restoreTo", string(restoreTo)),
			logger.ErrorField(err))
	}
	d.publish(userID, out.JobID, projectID, trackID, taskType, model.JobStateFailed, restoreTo)

	if werr != nil {
		logger.Warn("[Job "+out.JobID+"] Worker failed", logger.ErrorField(werr))
		d.finish(fctx, out.JobID, model.JobStateFailed, nil, werr.Error())
		if worker.IsWorkerError(werr) {
			return out.with(KindWorkerFailed, werr)
		}
		return out.with(KindInternal, werr)
	}

	logger.Error("[Job "+out.JobID+"] Failed to finalize track", logger.ErrorField(finalizeErr))
	d.finish(fctx, out.JobID, model.JobStateFailed, model.RawJSON(result), finalizeErr.Error())
	return out.with(KindInternal, finalizeErr)
}

func (d *Dispatcher) record(ctx context.Context, job *model.ProcessingJob) {
	if d.jobs == nil {
		return
	}
	if err := d.jobs.Create(ctx, job); err != nil {
		logger.Warn("[Dispatch] Failed to record job", logger.String("jobID", job.ID), logger.ErrorField(err))
	}
}

func (d *Dispatcher) finish(ctx context.Context, jobID string, state model.JobState, result model.RawJSON, errMsg string) {
	if d.jobs == nil {
		return
	}
	if err := d.jobs.Finish(ctx, jobID, state, result, errMsg); err != nil {
		logger.Warn("[Dispatch] Failed to finish job record", logger.String("jobID", jobID), logger.ErrorField(err))
	}
}

func (d *Dispatcher) publish(userID int64, jobID string, projectID, trackID int64, taskType string, state model.JobState, status model.TrackStatus) {
	if d.notifier == nil {
		return
	}
	d.notifier.Publish(userID, model.JobEvent{
		JobID:       jobID,
		ProjectID:   projectID,
		TrackID:     trackID,
		TaskType:    taskType,
		State:       state,
		TrackStatus: status,
		At:          time.Now(),
	})
}

func encodeParams(params map[string]interface{}) model.RawJSON {
	data, err := json.Marshal(params)
	if err != nil {
		return model.RawJSON("{}")
	}
	return model.RawJSON(data)
}

// producedTracks reads {"stems": {"vocals": "path", ...}} from a separation
// result and builds one Raw track per stem, ordered by stem name.
func producedTracks(source *model.Track, result json.RawMessage) []*model.Track {
	var payload struct {
		Stems map[string]string `json:"stems"`
	}
	if err := json.Unmarshal(result, &payload); err != nil || len(payload.Stems) == 0 {
		return nil
	}

	names := make([]string, 0, len(payload.Stems))
	for name, path := range payload.Stems {
		if path != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tracks := make([]*model.Track, 0, len(names))
	for _, name := range names {
		kind := model.StemTrackType(name)
		tracks = append(tracks, &model.Track{
			Name:   source.Name + " - " + kind,
			Path:   payload.Stems[name],
			Type:   kind,
			Status: model.TrackStatusRaw,
		})
	}
	return tracks
}
