package jobstore

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAddInsertsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now().UTC()

	first, err := s.Add("alice", "twitch", Settings{}, now)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	second, err := s.Add("bob", "twitch", Settings{}, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
	if all[0].ID != second.ID || all[1].ID != first.ID {
		t.Fatalf("expected newest-first ordering, got %+v", all)
	}
}

func TestNextPendingReturnsOldestPending(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now().UTC()

	first, _ := s.Add("alice", "twitch", Settings{}, now)
	_, _ = s.Add("bob", "twitch", Settings{}, now.Add(time.Second))

	next, ok := s.NextPending()
	if !ok {
		t.Fatal("expected a pending job")
	}
	if next.ID != first.ID {
		t.Fatalf("expected oldest pending job %q first, got %q", first.ID, next.ID)
	}
}

func TestUpdateStampsCompletedAtOnTerminalTransition(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now().UTC()
	job, _ := s.Add("alice", "twitch", Settings{}, now)

	finishedAt := now.Add(time.Minute)
	updated, found, err := s.Update(job.ID, finishedAt, func(j *Job) { j.Status = StatusFinished })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !found {
		t.Fatal("expected job to be found")
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(finishedAt) {
		t.Fatalf("expected CompletedAt stamped to %v, got %v", finishedAt, updated.CompletedAt)
	}
}

func TestRestartDemotesActiveJobsToStopped(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now().UTC()
	job, _ := s.Add("alice", "twitch", Settings{}, now)
	if _, _, err := s.Update(job.ID, now, func(j *Job) { j.Status = StatusActive }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	reopened, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New (reload): %v", err)
	}
	got, ok := reopened.Get(job.ID)
	if !ok {
		t.Fatal("expected job to survive restart")
	}
	if got.Status != StatusStopped {
		t.Fatalf("expected status stopped after restart, got %q", got.Status)
	}
	if got.Error == "" {
		t.Fatal("expected an interruption error message")
	}
}

func TestSaveArtifactAndGetArtifactRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now().UTC()
	job, _ := s.Add("alice", "twitch", Settings{}, now)

	if err := s.SaveArtifact(job.ID, "G21\nG1 X1 Y1\n", now); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	gcode, ok := s.GetArtifact(job.ID)
	if !ok {
		t.Fatal("expected artifact to be retrievable")
	}
	if gcode != "G21\nG1 X1 Y1\n" {
		t.Fatalf("unexpected artifact contents: %q", gcode)
	}

	updated, _ := s.Get(job.ID)
	if updated.ArtifactRef == "" {
		t.Fatal("expected ArtifactRef to be recorded on the job")
	}
	if _, err := filepath.Abs(filepath.Join(dir, "gcode", updated.ArtifactRef)); err != nil {
		t.Fatalf("unexpected artifact path: %v", err)
	}
}

func TestRedoReusesExistingArtifact(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now().UTC()
	job, _ := s.Add("alice", "twitch", Settings{InitialHeightMM: 12}, now)
	if err := s.SaveArtifact(job.ID, "G21\n", now); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	if _, _, err := s.Update(job.ID, now, func(j *Job) { j.Status = StatusFinished }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	redone, err := s.Redo(job.ID, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if redone.Status != StatusPending {
		t.Fatalf("expected redo to start pending, got %q", redone.Status)
	}
	if redone.Settings.InitialHeightMM != 12 {
		t.Fatalf("expected settings to be cloned, got %+v", redone.Settings)
	}
	if redone.ArtifactRef == "" {
		t.Fatal("expected the redo fast path to carry over the existing artifact")
	}
	gcode, ok := s.GetArtifact(redone.ID)
	if !ok || gcode != "G21\n" {
		t.Fatalf("expected reused artifact contents, got %q (ok=%v)", gcode, ok)
	}
}

func TestRedoUnknownJobFails(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Redo("nonexistent", time.Now().UTC()); err == nil {
		t.Fatal("expected an error redoing an unknown job")
	}
}
