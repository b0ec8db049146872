package repository

import (
	"context"
	"errors"
	"testing"

	"MixStudio/model"
)

func TestMemoryProjectRepository_AppendAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProjectRepository()

	project := &model.Project{UserID: 7, Title: "Demo"}
	if err := repo.Create(ctx, project); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if project.Status != model.ProjectStatusActive {
		t.Errorf("expected Active default, got %s", project.Status)
	}

	tracks := []*model.Track{{Name: "Vox", Path: "uploads/a.wav"}, {Name: "Bass", Path: "uploads/b.wav", Type: "Bass"}}
	if err := repo.AddTracks(ctx, project.ID, tracks); err != nil {
		t.Fatalf("AddTracks failed: %v", err)
	}

	got, _ := repo.GetByID(ctx, project.ID)
	if len(got.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(got.Tracks))
	}
	if got.Tracks[0].Position != 0 || got.Tracks[1].Position != 1 {
		t.Errorf("unexpected positions: %d, %d", got.Tracks[0].Position, got.Tracks[1].Position)
	}
	if got.Tracks[0].Type != model.DefaultTrackType || got.Tracks[0].Status != model.TrackStatusRaw {
		t.Errorf("expected defaults on first track, got %+v", got.Tracks[0])
	}

	trackID := got.Tracks[0].ID
	if err := repo.SwapTrackStatus(ctx, trackID, model.TrackStatusMastered, model.TrackStatusRaw); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if err := repo.SwapTrackStatus(ctx, trackID, model.TrackStatusRaw, model.TrackStatusProcessing); err != nil {
		t.Fatalf("swap failed: %v", err)
	}

	stems := []*model.Track{{Name: "Vox - Vocals", Path: "separated/v.wav", Type: "Vocals"}}
	if err := repo.CompleteTrack(ctx, project.ID, trackID, stems); err != nil {
		t.Fatalf("CompleteTrack failed: %v", err)
	}

	got, _ = repo.GetByID(ctx, project.ID)
	if got.FindTrack(trackID).Status != model.TrackStatusMastered {
		t.Errorf("expected Mastered, got %s", got.FindTrack(trackID).Status)
	}
	if got.FindTrack(trackID).Version != 2 {
		t.Errorf("expected version 2 after two writes, got %d", got.FindTrack(trackID).Version)
	}
	if len(got.Tracks) != 3 || got.Tracks[2].Position != 2 {
		t.Errorf("expected stem appended at position 2, got %+v", got.Tracks)
	}
}

func TestMemoryProjectRepository_ReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryProjectRepository()
	project := &model.Project{UserID: 1, Title: "Copy"}
	repo.Create(ctx, project)
	repo.AddTracks(ctx, project.ID, []*model.Track{{Name: "A", Path: "a.wav"}})

	got, _ := repo.GetByID(ctx, project.ID)
	got.Tracks[0].Status = model.TrackStatusMastered

	again, _ := repo.GetByID(ctx, project.ID)
	if again.Tracks[0].Status != model.TrackStatusRaw {
		t.Error("mutating a read copy must not change stored state")
	}
}

func TestMemoryUserRepository_Duplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()
	if _, err := repo.CreateUser(ctx, &model.User{Username: "ana", Email: "ana@example.com"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	_, err := repo.CreateUser(ctx, &model.User{Username: "ANA", Email: "other@example.com"})
	if !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
	u, _ := repo.GetUserByEmail(ctx, "ana@example.com")
	if u == nil || u.Username != "ana" {
		t.Errorf("lookup by email failed: %+v", u)
	}
}

func TestMemoryJobRepository_Finish(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobRepository()
	repo.Create(ctx, &model.ProcessingJob{ID: "j1", State: model.JobStateDispatching})

	if err := repo.Finish(ctx, "j1", model.JobStateCompleted, model.RawJSON(`{"ok":true}`), ""); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	job, _ := repo.GetByID(ctx, "j1")
	if job.State != model.JobStateCompleted || job.FinishedAt == nil {
		t.Errorf("unexpected job after finish: %+v", job)
	}
	if err := repo.Finish(ctx, "missing", model.JobStateFailed, nil, "x"); err == nil {
		t.Error("expected error finishing unknown job")
	}
	if missing, _ := repo.GetByID(ctx, "missing"); missing != nil {
		t.Error("expected nil for unknown job")
	}
}
