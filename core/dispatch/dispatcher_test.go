package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"MixStudio/core/worker"
	"MixStudio/logger"
	"MixStudio/model"
	"MixStudio/repository"

	"go.uber.org/zap/zaptest"
)

type fakeWorker struct {
	mu     sync.Mutex
	calls  int
	submit func(ctx context.Context, filePath, taskType string, params map[string]interface{}) (json.RawMessage, error)
}

func (f *fakeWorker) Submit(ctx context.Context, filePath, taskType string, params map[string]interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.submit(ctx, filePath, taskType, params)
}

func (f *fakeWorker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okWorker(payload string) *fakeWorker {
	return &fakeWorker{submit: func(context.Context, string, string, map[string]interface{}) (json.RawMessage, error) {
		return json.RawMessage(payload), nil
	}}
}

func failingWorker(err error) *fakeWorker {
	return &fakeWorker{submit: func(context.Context, string, string, map[string]interface{}) (json.RawMessage, error) {
		return nil, err
	}}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.JobEvent
}

func (n *recordingNotifier) Publish(_ int64, ev model.JobEvent) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

// ctxCheckingStore fails writes made with a cancelled context.
type ctxCheckingStore struct {
	*repository.MemoryProjectRepository
}

func (s ctxCheckingStore) SwapTrackStatus(ctx context.Context, trackID int64, from, to model.TrackStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryProjectRepository.SwapTrackStatus(ctx, trackID, from, to)
}

type fixture struct {
	projects  *repository.MemoryProjectRepository
	jobs      *repository.MemoryJobRepository
	notifier  *recordingNotifier
	projectID int64
	trackID   int64
}

func newFixture(t *testing.T, status model.TrackStatus) *fixture {
	t.Helper()
	logger.Use(zaptest.NewLogger(t))

	ctx := context.Background()
	f := &fixture{
		projects: repository.NewMemoryProjectRepository(),
		jobs:     repository.NewMemoryJobRepository(),
		notifier: &recordingNotifier{},
	}
	project := &model.Project{UserID: 1, Title: "Session"}
	if err := f.projects.Create(ctx, project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	track := &model.Track{Name: "Lead", Path: "uploads/lead.wav", Status: status}
	if err := f.projects.AddTracks(ctx, project.ID, []*model.Track{track}); err != nil {
		t.Fatalf("add track: %v", err)
	}
	f.projectID, f.trackID = project.ID, track.ID
	return f
}

func (f *fixture) dispatcher(w Processor) *Dispatcher {
	return NewDispatcher(w, f.projects, f.jobs, NewMemoryLocker(), f.notifier, time.Second)
}

func (f *fixture) trackStatus(t *testing.T) model.TrackStatus {
	t.Helper()
	p, err := f.projects.GetByID(context.Background(), f.projectID)
	if err != nil || p == nil {
		t.Fatalf("reload project: %v", err)
	}
	return p.FindTrack(f.trackID).Status
}

func (f *fixture) request() ExistingRequest {
	return ExistingRequest{UserID: 1, ProjectID: f.projectID, TrackID: f.trackID}
}

func TestProcessUpload_Completed(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	var gotPath, gotTask string
	w := &fakeWorker{submit: func(_ context.Context, path, task string, params map[string]interface{}) (json.RawMessage, error) {
		gotPath, gotTask = path, task
		return json.RawMessage(`{"status":"completed"}`), nil
	}}

	out := f.dispatcher(w).ProcessUpload(context.Background(),
		&UploadedFile{Path: "uploads/audio-1.wav", Filename: "take.wav", Size: 42}, "", `{"start":1}`)

	if out.Kind != KindCompleted {
		t.Fatalf("expected completed, got %s (%v)", out.Kind, out.Err)
	}
	if !filepath.IsAbs(gotPath) {
		t.Errorf("worker must receive an absolute path, got %q", gotPath)
	}
	if gotTask != DefaultUploadTask {
		t.Errorf("expected default task %q, got %q", DefaultUploadTask, gotTask)
	}
	if out.FileInfo == nil || out.FileInfo.Filename != "take.wav" || out.FileInfo.Size != 42 {
		t.Errorf("unexpected file info: %+v", out.FileInfo)
	}
	if string(out.WorkerResult) != `{"status":"completed"}` {
		t.Errorf("worker result must be passed through, got %s", out.WorkerResult)
	}

	job, _ := f.jobs.GetByID(context.Background(), out.JobID)
	if job == nil || job.State != model.JobStateCompleted {
		t.Errorf("expected completed ledger entry, got %+v", job)
	}
}

func TestProcessUpload_MissingFile(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	w := okWorker(`{}`)

	out := f.dispatcher(w).ProcessUpload(context.Background(), nil, "trim", "")
	if out.Kind != KindMissingFile {
		t.Fatalf("expected missing file, got %s", out.Kind)
	}
	if w.Calls() != 0 {
		t.Error("worker must not be called without a file")
	}
}

func TestProcessUpload_InvalidOptions(t *testing.T) {
	for _, raw := range []string{`{broken`, `{"start":1}]`, `{"start":1}}`} {
		t.Run(raw, func(t *testing.T) {
			f := newFixture(t, model.TrackStatusRaw)
			w := okWorker(`{}`)

			out := f.dispatcher(w).ProcessUpload(context.Background(), &UploadedFile{Path: "a.wav"}, "trim", raw)
			if out.Kind != KindInvalidOptions || !errors.Is(out.Err, ErrInvalidOptions) {
				t.Fatalf("expected invalid options, got %s (%v)", out.Kind, out.Err)
			}
			if w.Calls() != 0 {
				t.Error("worker must not be called with malformed options")
			}
		})
	}
}

func TestProcessUpload_WorkerDownIsQueued(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	w := failingWorker(fmt.Errorf("dial tcp: %w", worker.ErrUnavailable))

	out := f.dispatcher(w).ProcessUpload(context.Background(), &UploadedFile{Path: "a.wav", Filename: "a.wav"}, "trim", "")
	if out.Kind != KindQueued {
		t.Fatalf("expected queued, got %s", out.Kind)
	}
	job, _ := f.jobs.GetByID(context.Background(), out.JobID)
	if job == nil || job.State != model.JobStateDeferred {
		t.Errorf("expected deferred ledger entry, got %+v", job)
	}
}

func TestProcessExisting_Mastered(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	var during model.TrackStatus
	w := &fakeWorker{submit: func(_ context.Context, _, task string, _ map[string]interface{}) (json.RawMessage, error) {
		during = f.trackStatus(t)
		if task != DefaultExistingTask {
			t.Errorf("expected default task %q, got %q", DefaultExistingTask, task)
		}
		return json.RawMessage(`{"status":"completed","stems":{"vocals":"separated/v.wav","drums":"separated/d.wav"}}`), nil
	}}

	out := f.dispatcher(w).ProcessExisting(context.Background(), f.request())
	if out.Kind != KindCompleted {
		t.Fatalf("expected completed, got %s (%v)", out.Kind, out.Err)
	}
	if during != model.TrackStatusProcessing {
		t.Errorf("expected Processing during worker call, got %s", during)
	}
	if got := f.trackStatus(t); got != model.TrackStatusMastered {
		t.Errorf("expected Mastered, got %s", got)
	}

	p, _ := f.projects.GetByID(context.Background(), f.projectID)
	if len(p.Tracks) != 3 {
		t.Fatalf("expected two stems appended, got %d tracks", len(p.Tracks))
	}
	if p.Tracks[1].Name != "Lead - Drums" || p.Tracks[2].Name != "Lead - Vocals" {
		t.Errorf("unexpected stem order: %q, %q", p.Tracks[1].Name, p.Tracks[2].Name)
	}
	if p.Tracks[2].Type != "Vocals" || p.Tracks[2].Status != model.TrackStatusRaw {
		t.Errorf("unexpected stem track: %+v", p.Tracks[2])
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.events) != 2 ||
		f.notifier.events[0].TrackStatus != model.TrackStatusProcessing ||
		f.notifier.events[1].State != model.JobStateCompleted {
		t.Errorf("unexpected events: %+v", f.notifier.events)
	}
}

func TestProcessExisting_RejectionsLeaveStateUntouched(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ExistingRequest)
		want   Kind
	}{
		{"unknown project", func(r *ExistingRequest) { r.ProjectID = 999 }, KindProjectNotFound},
		{"other owner", func(r *ExistingRequest) { r.UserID = 2 }, KindUnauthorized},
		{"unknown track", func(r *ExistingRequest) { r.TrackID = 999 }, KindTrackNotFound},
		{"malformed options", func(r *ExistingRequest) { r.Options = "[1,2" }, KindInvalidOptions},
		{"options with stray bracket", func(r *ExistingRequest) { r.Options = `{"model":"x"}]` }, KindInvalidOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, model.TrackStatusRaw)
			w := okWorker(`{}`)
			req := f.request()
			tt.mutate(&req)

			out := f.dispatcher(w).ProcessExisting(context.Background(), req)
			if out.Kind != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, out.Kind)
			}
			if w.Calls() != 0 {
				t.Error("worker must not be called")
			}
			if got := f.trackStatus(t); got != model.TrackStatusRaw {
				t.Errorf("status must stay Raw, got %s", got)
			}
		})
	}
}

func TestProcessExisting_WorkerFailureRestoresStatus(t *testing.T) {
	tests := []struct {
		name    string
		initial model.TrackStatus
		err     error
		want    model.TrackStatus
	}{
		{"unreachable from raw", model.TrackStatusRaw, fmt.Errorf("refused: %w", worker.ErrUnavailable), model.TrackStatusRaw},
		{"fault from raw", model.TrackStatusRaw, fmt.Errorf("404: %w", worker.ErrProcessingFault), model.TrackStatusRaw},
		{"re-run of mastered", model.TrackStatusMastered, fmt.Errorf("500: %w", worker.ErrProcessingFault), model.TrackStatusMastered},
		{"interrupted job", model.TrackStatusProcessing, fmt.Errorf("refused: %w", worker.ErrUnavailable), model.TrackStatusRaw},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.initial)

			out := f.dispatcher(failingWorker(tt.err)).ProcessExisting(context.Background(), f.request())
			if out.Kind != KindWorkerFailed {
				t.Fatalf("expected worker failure, got %s", out.Kind)
			}
			if got := f.trackStatus(t); got != tt.want {
				t.Errorf("expected status %s, got %s", tt.want, got)
			}
			job, _ := f.jobs.GetByID(context.Background(), out.JobID)
			if job == nil || job.State != model.JobStateFailed || job.Error == "" {
				t.Errorf("expected failed ledger entry, got %+v", job)
			}
		})
	}
}

func TestProcessExisting_BusyTrack(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	entered := make(chan struct{})
	release := make(chan struct{})
	w := &fakeWorker{submit: func(context.Context, string, string, map[string]interface{}) (json.RawMessage, error) {
		close(entered)
		<-release
		return json.RawMessage(`{"status":"completed"}`), nil
	}}
	d := f.dispatcher(w)

	first := make(chan Outcome, 1)
	go func() { first <- d.ProcessExisting(context.Background(), f.request()) }()
	<-entered

	second := d.ProcessExisting(context.Background(), f.request())
	if second.Kind != KindTrackBusy {
		t.Errorf("expected second job to be rejected as busy, got %s", second.Kind)
	}

	close(release)
	if out := <-first; out.Kind != KindCompleted {
		t.Fatalf("expected first job to complete, got %s", out.Kind)
	}
	if got := f.trackStatus(t); got != model.TrackStatusMastered {
		t.Errorf("expected Mastered, got %s", got)
	}
	if w.Calls() != 1 {
		t.Errorf("expected exactly one worker call, got %d", w.Calls())
	}
}

func TestProcessExisting_ConcurrentJobsNeverStickInProcessing(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	w := &fakeWorker{submit: func(context.Context, string, string, map[string]interface{}) (json.RawMessage, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, fmt.Errorf("boom: %w", worker.ErrProcessingFault)
	}}
	d := f.dispatcher(w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.ProcessExisting(context.Background(), f.request())
		}()
	}
	wg.Wait()

	if got := f.trackStatus(t); got != model.TrackStatusRaw {
		t.Errorf("expected Raw after all jobs failed, got %s", got)
	}
}

func TestProcessExisting_StatusChangedUnderneathIsBusy(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	// 模拟另一个实例在读取之后改写了状态
	stale := &staleStore{MemoryProjectRepository: f.projects}
	d := NewDispatcher(okWorker(`{}`), stale, nil, nil, nil, time.Second)

	out := d.ProcessExisting(context.Background(), f.request())
	if out.Kind != KindTrackBusy || !errors.Is(out.Err, repository.ErrStatusConflict) {
		t.Fatalf("expected busy on status conflict, got %s (%v)", out.Kind, out.Err)
	}
}

type staleStore struct {
	*repository.MemoryProjectRepository
}

func (s *staleStore) GetByID(ctx context.Context, id int64) (*model.Project, error) {
	p, err := s.MemoryProjectRepository.GetByID(ctx, id)
	if p != nil {
		for i := range p.Tracks {
			p.Tracks[i].Status = model.TrackStatusMastered
		}
	}
	return p, err
}

func TestProcessExisting_CancelledRequestStillRestores(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	ctx, cancel := context.WithCancel(context.Background())
	w := &fakeWorker{submit: func(context.Context, string, string, map[string]interface{}) (json.RawMessage, error) {
		cancel()
		return nil, fmt.Errorf("context canceled: %w", worker.ErrUnavailable)
	}}
	d := NewDispatcher(w, ctxCheckingStore{f.projects}, f.jobs, nil, nil, time.Second)

	out := d.ProcessExisting(ctx, f.request())
	if out.Kind != KindWorkerFailed {
		t.Fatalf("expected worker failure, got %s", out.Kind)
	}
	if got := f.trackStatus(t); got != model.TrackStatusRaw {
		t.Errorf("expected status restored after client went away, got %s", got)
	}
}

func TestProcessExisting_WithHTTPWorker(t *testing.T) {
	f := newFixture(t, model.TrackStatusRaw)
	var got worker.ProcessRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"status":"completed"}`))
	}))
	defer srv.Close()

	d := f.dispatcher(worker.NewClient(srv.URL, time.Second))
	req := f.request()
	req.TaskType = "master"
	req.Options = `{"loudness":-14}`

	out := d.ProcessExisting(context.Background(), req)
	if out.Kind != KindCompleted {
		t.Fatalf("expected completed, got %s (%v)", out.Kind, out.Err)
	}
	if got.TaskType != "master" || !filepath.IsAbs(got.FilePath) {
		t.Errorf("unexpected worker request: %+v", got)
	}
	if fmt.Sprint(got.Params["loudness"]) != "-14" {
		t.Errorf("expected options forwarded, got %v", got.Params)
	}
}

func TestProducedTracks_IgnoresUnrelatedResults(t *testing.T) {
	src := &model.Track{Name: "Lead"}
	for _, payload := range []string{`{"status":"completed"}`, `not json`, `{"stems":{"vocals":""}}`, `{"stems":[1]}`} {
		if got := producedTracks(src, json.RawMessage(payload)); len(got) != 0 {
			t.Errorf("expected no tracks for %s, got %d", payload, len(got))
		}
	}
}
