// Package orchestrator runs the dequeue-allocate-compile-stream-record
// loop that turns queued jobs into finished engravings, with a
// fast path that reuses a job's already-compiled artifact on redo.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/daverdavids/nameengrave/internal/geom"
	"github.com/daverdavids/nameengrave/internal/jobstore"
	"github.com/daverdavids/nameengrave/internal/layout"
	"github.com/daverdavids/nameengrave/internal/stream"
	"github.com/daverdavids/nameengrave/internal/textprog"
	"go.uber.org/zap"
)

// Hooks lets a caller (e.g. an on-screen overlay) observe job
// transitions without being wired into the loop's control flow.
type Hooks struct {
	OnEngraveStart  func(job jobstore.Job)
	OnEngraveFinish func(job jobstore.Job, err error)
}

// Orchestrator wires the layout allocator, the text compiler, the job
// store and the streaming controller into a single worker loop.
type Orchestrator struct {
	Layout   *layout.Allocator
	Jobs     *jobstore.Store
	Compiler *textprog.Compiler
	Stream   *stream.Controller
	Log      *zap.SugaredLogger
	Hooks    Hooks

	MachineParams func() textprog.MachineParams

	// Wake is an optional signal channel; a send on it short-circuits
	// the poll-interval sleep between dequeue attempts.
	Wake chan struct{}

	noSpaceRetryDelay time.Duration
	pollInterval      time.Duration
}

// New constructs an Orchestrator. machineParams is called fresh for
// every job, so a live configuration reload is picked up automatically.
func New(l *layout.Allocator, j *jobstore.Store, c *textprog.Compiler, s *stream.Controller, machineParams func() textprog.MachineParams, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		Layout:            l,
		Jobs:              j,
		Compiler:          c,
		Stream:            s,
		Log:               log,
		MachineParams:     machineParams,
		Wake:              make(chan struct{}, 1),
		noSpaceRetryDelay: 5 * time.Second,
		pollInterval:      time.Second,
	}
}

// Enqueue adds a new pending job to the store and nudges the loop.
func (o *Orchestrator) Enqueue(name, source string, settings jobstore.Settings, now time.Time) (jobstore.Job, error) {
	job, err := o.Jobs.Add(name, source, settings, now)
	if err != nil {
		return job, err
	}
	o.nudge()
	return job, nil
}

// Redo re-queues a completed job, reusing its artifact when present.
func (o *Orchestrator) Redo(id string, now time.Time) (jobstore.Job, error) {
	job, err := o.Jobs.Redo(id, now)
	if err != nil {
		return job, err
	}
	o.nudge()
	return job, nil
}

func (o *Orchestrator) nudge() {
	select {
	case o.Wake <- struct{}{}:
	default:
	}
}

// Run processes the queue until ctx is canceled. It is meant to run on
// its own goroutine as the sole writer to Layout/Jobs/Stream.
func (o *Orchestrator) Run(ctx context.Context) {
	for {
		job, ok := o.Jobs.NextPending()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-o.Wake:
				continue
			case <-time.After(o.pollInterval):
				continue
			}
		}

		if err := o.process(ctx, job); err != nil {
			o.Log.Warnw("job processing error", "job", job.ID, "name", job.Name, "error", err)
		}
	}
}

func (o *Orchestrator) process(ctx context.Context, job jobstore.Job) error {
	now := time.Now().UTC()
	if _, _, err := o.Jobs.Update(job.ID, now, func(j *jobstore.Job) { j.Status = jobstore.StatusActive }); err != nil {
		return err
	}
	if o.Hooks.OnEngraveStart != nil {
		o.Hooks.OnEngraveStart(job)
	}

	// The redo fast path: an artifact already exists (carried over
	// verbatim from the job being redone), so it is streamed exactly as
	// compiled — no re-placement, no re-compiling — matching the prior
	// run's position on the board. A placement is still recorded, since
	// the board has genuinely engraved the name again.
	if gcode, ok := o.Jobs.GetArtifact(job.ID); ok {
		if err := o.Stream.StreamProgram(ctx, strings.Split(gcode, "\n"), nil); err != nil {
			return o.fail(job, err)
		}
		finishedAt := time.Now().UTC()
		if prev, ok := o.lastPlacementFor(job.Name); ok {
			if err := o.Layout.Record(job.Name, prev.Rect, prev.TextHeightMM, finishedAt); err != nil {
				o.Log.Warnw("failed to record placement after a redo", "job", job.ID, "error", err)
			}
		} else {
			o.Log.Warnw("redo succeeded but no prior placement was found to duplicate", "job", job.ID, "name", job.Name)
		}
		updated, _, err := o.Jobs.Update(job.ID, finishedAt, func(j *jobstore.Job) { j.Status = jobstore.StatusFinished })
		if o.Hooks.OnEngraveFinish != nil {
			o.Hooks.OnEngraveFinish(updated, nil)
		}
		return err
	}

	heightMM := job.Settings.InitialHeightMM
	if heightMM <= 0 {
		heightMM = 5.0
	}

	width, height, err := o.Compiler.Estimate(job.Name, heightMM)
	if err != nil {
		return o.fail(job, err)
	}

	var local geom.Point
	var finalHeight float64
	if override := job.Settings.OverrideRect; override != nil {
		local = geom.Point{X: override.X, Y: override.Y}
		finalHeight = heightMM
		if override.H > 0 && override.H < finalHeight {
			finalHeight = override.H
		}
		if override.W > 0 {
			fitted, ferr := o.Compiler.FitHeightToBox(job.Name, override.W, finalHeight)
			if ferr != nil {
				return o.fail(job, ferr)
			}
			finalHeight = fitted
		}
	} else {
		var ok bool
		local, finalHeight, ok = o.Layout.FindEmptySpace(width, height, heightMM)
		if !ok {
			o.Log.Infow("no space available, requeueing", "job", job.ID, "name", job.Name)
			time.Sleep(o.noSpaceRetryDelay)
			_, _, err := o.Jobs.Update(job.ID, time.Now().UTC(), func(j *jobstore.Job) { j.Status = jobstore.StatusPending })
			return err
		}
	}

	machineOrigin := o.Layout.ToMachine(local)
	opts := textprog.CompileOptions{
		HeightMM: finalHeight,
		Passes:   job.Settings.Passes,
		MirrorY:  job.Settings.MirrorY,
		Bold: textprog.BoldOptions{
			Pattern:  textprog.BoldPattern(job.Settings.BoldPattern),
			Repeats:  job.Settings.BoldRepeats,
			OffsetMM: job.Settings.BoldOffsetMM,
		},
		Params: o.MachineParams(),
	}
	prog, err := o.Compiler.Compile(job.Name, machineOrigin, opts)
	if err != nil {
		return o.fail(job, err)
	}
	gcode := prog.String()
	if err := o.Jobs.SaveArtifact(job.ID, gcode, time.Now().UTC()); err != nil {
		return o.fail(job, err)
	}

	streamErr := o.Stream.StreamProgram(ctx, prog.Lines, nil)
	finishedAt := time.Now().UTC()
	if streamErr != nil {
		return o.fail(job, streamErr)
	}

	actualWidth, _, _ := o.Compiler.Estimate(job.Name, finalHeight)
	rect := geom.Rect{X: local.X, Y: local.Y, W: actualWidth, H: finalHeight}
	if err := o.Layout.Record(job.Name, rect, finalHeight, finishedAt); err != nil {
		o.Log.Warnw("failed to record placement after a successful engrave", "job", job.ID, "error", err)
	}

	updated, _, err := o.Jobs.Update(job.ID, finishedAt, func(j *jobstore.Job) { j.Status = jobstore.StatusFinished })
	if o.Hooks.OnEngraveFinish != nil {
		o.Hooks.OnEngraveFinish(updated, nil)
	}
	return err
}

// lastPlacementFor returns the most recently recorded placement for name,
// used by the redo fast path to duplicate a prior engrave's position.
func (o *Orchestrator) lastPlacementFor(name string) (layout.Placement, bool) {
	var best layout.Placement
	found := false
	for _, p := range o.Layout.Placements() {
		if p.Name != name {
			continue
		}
		if !found || p.CreatedAt.After(best.CreatedAt) {
			best = p
			found = true
		}
	}
	return best, found
}

func (o *Orchestrator) fail(job jobstore.Job, cause error) error {
	now := time.Now().UTC()
	updated, _, err := o.Jobs.Update(job.ID, now, func(j *jobstore.Job) {
		j.Status = jobstore.StatusFailed
		j.Error = cause.Error()
	})
	if o.Hooks.OnEngraveFinish != nil {
		o.Hooks.OnEngraveFinish(updated, cause)
	}
	if err != nil {
		return fmt.Errorf("orchestrator: %w (original cause: %v)", err, cause)
	}
	return cause
}
