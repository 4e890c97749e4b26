package orchestrator

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/daverdavids/nameengrave/internal/geom"
	"github.com/daverdavids/nameengrave/internal/glyph"
	"github.com/daverdavids/nameengrave/internal/jobstore"
	"github.com/daverdavids/nameengrave/internal/layout"
	"github.com/daverdavids/nameengrave/internal/stream"
	"github.com/daverdavids/nameengrave/internal/textprog"
)

// fakeTransport always answers "ok" to every write, simulating a
// healthy board that never back-pressures in tests.
type fakeTransport struct {
	mu      sync.Mutex
	written []string
}

func (f *fakeTransport) WriteLine(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, cmd)
	return nil
}
func (f *fakeTransport) ReadLine(timeout time.Duration) (string, bool, error) { return "ok", true, nil }
func (f *fakeTransport) Flush()                                              {}
func (f *fakeTransport) Close() error                                        { return nil }

func testOrchestrator(t *testing.T) (*Orchestrator, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	sc := stream.New(func() (stream.Transport, error) { return ft, nil }, stream.DefaultOptions(), nil)
	if err := sc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	area := layout.WorkArea{MachineWidthMM: 300, MachineHeightMM: 150, ActiveWidthMM: 300, ActiveHeightMM: 150}
	alloc, err := layout.New(filepath.Join(t.TempDir(), "placements.json"), area, rand.New(rand.NewPCG(1, 1)))
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}

	jobs, err := jobstore.New(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("jobstore.New: %v", err)
	}

	compiler := textprog.New(glyph.NewStrokeSource(), nil)
	params := func() textprog.MachineParams {
		return textprog.MachineParams{FeedRate: 1000, PowerPercent: 50, SpindleMax: 1000}
	}

	o := New(alloc, jobs, compiler, sc, params, nil)
	return o, ft
}

func TestProcessCompilesPlacesStreamsAndFinishes(t *testing.T) {
	o, ft := testOrchestrator(t)
	now := time.Now().UTC()

	job, err := o.Enqueue("ALICE", "test", jobstore.Settings{InitialHeightMM: 10, Passes: 1}, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := o.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, ok := o.Jobs.Get(job.ID)
	if !ok {
		t.Fatal("expected job to still exist")
	}
	if got.Status != jobstore.StatusFinished {
		t.Fatalf("expected status finished, got %q (error=%q)", got.Status, got.Error)
	}
	if got.ArtifactRef == "" {
		t.Fatal("expected an artifact to be saved")
	}
	if len(ft.written) == 0 {
		t.Fatal("expected G-code to have been streamed to the transport")
	}

	placements := o.Layout.Placements()
	if len(placements) != 1 || placements[0].Name != "ALICE" {
		t.Fatalf("expected one placement for ALICE, got %+v", placements)
	}
}

func TestProcessEmptyStringFailsWithoutStreaming(t *testing.T) {
	o, ft := testOrchestrator(t)
	now := time.Now().UTC()

	job, err := o.Enqueue("   ", "test", jobstore.Settings{InitialHeightMM: 10, Passes: 1}, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Connect already wrote the "$$" handshake; only writes made while
	// processing the job count.
	before := len(ft.written)
	if err := o.process(context.Background(), job); err == nil {
		t.Fatal("expected process to fail for a string with no visible geometry")
	}
	got, _ := o.Jobs.Get(job.ID)
	if got.Status != jobstore.StatusFailed {
		t.Fatalf("expected status failed, got %q", got.Status)
	}
	if len(ft.written) != before {
		t.Fatalf("expected no writes for a job that never reached the board, got %d", len(ft.written)-before)
	}
}

func TestProcessHonorsOverrideRectOrigin(t *testing.T) {
	o, _ := testOrchestrator(t)
	now := time.Now().UTC()

	override := geom.Rect{X: 42, Y: 7}
	job, err := o.Enqueue("CARL", "test", jobstore.Settings{
		InitialHeightMM: 10,
		Passes:          1,
		OverrideRect:    &override,
	}, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := o.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	placements := o.Layout.Placements()
	if len(placements) != 1 {
		t.Fatalf("expected exactly one placement, got %d", len(placements))
	}
	if placements[0].Rect.X != override.X || placements[0].Rect.Y != override.Y {
		t.Fatalf("expected placement origin to match the override rect, got %+v", placements[0].Rect)
	}
}

func TestRedoReplaysArtifactWithoutRecompiling(t *testing.T) {
	o, _ := testOrchestrator(t)
	now := time.Now().UTC()

	job, err := o.Enqueue("BOB", "test", jobstore.Settings{InitialHeightMM: 10, Passes: 1}, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := o.process(context.Background(), job); err != nil {
		t.Fatalf("process: %v", err)
	}

	redone, err := o.Redo(job.ID, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if err := o.process(context.Background(), redone); err != nil {
		t.Fatalf("process (redo): %v", err)
	}

	got, _ := o.Jobs.Get(redone.ID)
	if got.Status != jobstore.StatusFinished {
		t.Fatalf("expected redo to finish, got %q", got.Status)
	}

	// The redo fast path never re-places (same rect, same height as the
	// original run) but it does record a second placement with a fresh
	// timestamp, since the board genuinely re-engraved the name.
	placements := o.Layout.Placements()
	if len(placements) != 2 {
		t.Fatalf("expected redo to record a second placement, got %d placements: %+v", len(placements), placements)
	}
	if placements[0].Rect != placements[1].Rect || placements[0].TextHeightMM != placements[1].TextHeightMM {
		t.Fatalf("expected both placements to share the original rect/height, got %+v", placements)
	}
	if !placements[1].CreatedAt.After(placements[0].CreatedAt) {
		t.Fatalf("expected the redo's placement to have a later timestamp, got %+v", placements)
	}
}
