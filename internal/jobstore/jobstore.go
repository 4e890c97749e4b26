// Package jobstore tracks the lifecycle of engraving jobs: pending,
// active, finished, failed or stopped, with their compiled G-code
// artifacts saved alongside a flat JSON log so a restart never loses
// history.
package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daverdavids/nameengrave/internal/geom"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is a job's position in its lifecycle state machine.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// Settings captures the per-job rendering and motion parameters needed
// to redo a job without re-asking the operator.
type Settings struct {
	FontKey         string  `json:"font_key,omitempty"`
	InitialHeightMM float64 `json:"initial_height_mm,omitempty"`
	Passes          int     `json:"passes,omitempty"`
	BoldRepeats     int     `json:"bold_repeats,omitempty"`
	BoldOffsetMM    float64 `json:"bold_offset_mm,omitempty"`
	BoldPattern     string  `json:"bold_pattern,omitempty"`
	MirrorY         bool    `json:"mirror_y,omitempty"`

	// OverrideRect pins an exact placement chosen by the operator instead
	// of letting the layout allocator find one. nil means "place normally".
	OverrideRect *geom.Rect `json:"override_rect,omitempty"`
}

// Job is one entry in the store's log, newest first.
type Job struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Source      string     `json:"source"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"timestamp"`
	CompletedAt *time.Time `json:"completed_time"`
	Error       string     `json:"error"`
	Settings    Settings   `json:"settings"`
	ArtifactRef string     `json:"gcode_file"`
}

// Store is a single-process, file-backed job log. All mutating methods
// must be called from the owning (orchestrator) goroutine; readers may
// call from any goroutine.
type Store struct {
	dataDir   string
	jobsFile  string
	gcodeDir  string
	log       *zap.SugaredLogger

	mu   sync.RWMutex
	jobs []Job
}

// New opens (or creates) a job store rooted at dataDir, demoting any job
// left "active" by an unclean shutdown to "stopped".
func New(dataDir string, log *zap.SugaredLogger) (*Store, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Store{
		dataDir:  dataDir,
		jobsFile: filepath.Join(dataDir, "jobs.json"),
		gcodeDir: filepath.Join(dataDir, "gcode"),
		log:      log,
	}
	if err := os.MkdirAll(s.gcodeDir, 0o755); err != nil {
		return nil, fmt.Errorf("jobstore: mkdir: %w", err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.jobsFile)
	if os.IsNotExist(err) {
		s.jobs = nil
	} else if err != nil {
		s.log.Warnw("failed to load jobs, starting empty", "error", err)
		s.jobs = nil
	} else if err := json.Unmarshal(data, &s.jobs); err != nil {
		s.log.Warnw("failed to parse jobs file, starting empty", "error", err)
		s.jobs = nil
	}

	dirty := false
	for i := range s.jobs {
		if s.jobs[i].Status == StatusActive {
			s.jobs[i].Status = StatusStopped
			s.jobs[i].Error = "Interrupted by server restart"
			now := time.Now().UTC()
			s.jobs[i].CompletedAt = &now
			dirty = true
		}
	}
	if dirty {
		return s.save()
	}
	return nil
}

func (s *Store) save() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("jobstore: marshal: %w", err)
	}
	if err := os.WriteFile(s.jobsFile, data, 0o644); err != nil {
		s.log.Warnw("failed to save jobs", "error", err)
		return fmt.Errorf("jobstore: write: %w", err)
	}
	return nil
}

// Add inserts a new pending job at the front of the log (newest first)
// and returns it.
func (s *Store) Add(name, source string, settings Settings, now time.Time) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := Job{
		ID:        uuid.New().String()[:8],
		Name:      name,
		Source:    source,
		Status:    StatusPending,
		CreatedAt: now,
		Settings:  settings,
	}
	s.jobs = append([]Job{job}, s.jobs...)
	if err := s.save(); err != nil {
		return job, err
	}
	return job, nil
}

// Update applies fn to the job matching id and persists the result.
// Transitioning into a terminal status stamps CompletedAt automatically.
func (s *Store) Update(id string, now time.Time, fn func(j *Job)) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		before := s.jobs[i].Status
		fn(&s.jobs[i])
		after := s.jobs[i].Status
		if after != before && isTerminal(after) {
			s.jobs[i].CompletedAt = &now
		}
		if err := s.save(); err != nil {
			return s.jobs[i], true, err
		}
		return s.jobs[i], true, nil
	}
	return Job{}, false, nil
}

func isTerminal(st Status) bool {
	return st == StatusFinished || st == StatusFailed || st == StatusStopped
}

// NextPending returns the oldest still-pending job (the log is newest
// first, so this scans from the back), or ok=false if none remain.
func (s *Store) NextPending() (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.jobs) - 1; i >= 0; i-- {
		if s.jobs[i].Status == StatusPending {
			return s.jobs[i], true
		}
	}
	return Job{}, false
}

// All returns a snapshot copy of the full job log.
func (s *Store) All() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// Get returns the job matching id.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// SaveArtifact writes gcode to disk under id and records the artifact
// reference on the job.
func (s *Store) SaveArtifact(id, gcode string, now time.Time) error {
	filename := id + ".gcode"
	path := filepath.Join(s.gcodeDir, filename)
	if err := os.WriteFile(path, []byte(gcode), 0o644); err != nil {
		s.log.Warnw("failed to save gcode artifact", "job", id, "error", err)
		return fmt.Errorf("jobstore: write artifact: %w", err)
	}
	_, found, err := s.Update(id, now, func(j *Job) { j.ArtifactRef = filename })
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("jobstore: no such job %q", id)
	}
	return nil
}

// GetArtifact reads back a job's saved G-code, if any.
func (s *Store) GetArtifact(id string) (string, bool) {
	job, ok := s.Get(id)
	if !ok || job.ArtifactRef == "" {
		return "", false
	}
	path := filepath.Join(s.gcodeDir, job.ArtifactRef)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Redo creates a new pending job cloned from id's name and settings,
// reusing its compiled artifact directly when one exists — the fast
// path that skips recompilation entirely.
func (s *Store) Redo(id string, now time.Time) (Job, error) {
	old, ok := s.Get(id)
	if !ok {
		return Job{}, fmt.Errorf("jobstore: no such job %q", id)
	}

	newJob, err := s.Add(old.Name, old.Source+" (Redo)", old.Settings, now)
	if err != nil {
		return newJob, err
	}

	if gcode, ok := s.GetArtifact(id); ok {
		if err := s.SaveArtifact(newJob.ID, gcode, now); err != nil {
			return newJob, err
		}
		newJob, _ = s.Get(newJob.ID)
	}
	return newJob, nil
}
