// Package layout implements the 2-D rectangle packer that decides where
// each engraved name fits on the board: shrink-to-fit on overly wide
// requests, a shuffled grid scan for even fill, and padding-aware
// collision tests, persisted across restarts.
package layout

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/daverdavids/nameengrave/internal/geom"
)

// Contractual constants: bit-for-bit packing behavior depends on these.
const (
	PaddingMM   = 1.5
	GridSizeMM  = 2.0
	MinHeightMM = 2.0
	ShrinkRatio = 0.8
)

// Placement is a recorded, immutable occupied rectangle on the active
// area.
type Placement struct {
	Name         string    `json:"name"`
	Rect         geom.Rect `json:"rect"`
	TextHeightMM float64   `json:"text_height_mm"`
	CreatedAt    time.Time `json:"created_at"`
}

// document is the on-disk shape of placements.json.
type document struct {
	Placements        []Placement `json:"placements"`
	WidthMM           float64     `json:"width_mm"`
	HeightMM          float64     `json:"height_mm"`
	MachineWidthMM    float64     `json:"machine_width_mm"`
	MachineHeightMM   float64     `json:"machine_height_mm"`
	OffsetXMM         float64     `json:"offset_x_mm"`
	OffsetYMM         float64     `json:"offset_y_mm"`
}

// WorkArea describes the machine envelope and its usable active
// sub-rectangle, per the data model's WorkArea type.
type WorkArea struct {
	MachineWidthMM, MachineHeightMM float64
	ActiveWidthMM, ActiveHeightMM   float64
	OffsetXMM, OffsetYMM            float64
}

// Stats summarizes the current placement set.
type Stats struct {
	Count           int
	CoveragePercent float64
	MeanTextHeight  float64
}

// Allocator owns the placement set for one board. It must only be mutated
// from a single goroutine (the orchestrator); other goroutines may call
// Stats/Placements concurrently.
type Allocator struct {
	path string
	area WorkArea
	rng  *rand.Rand

	mu         sync.RWMutex
	placements []Placement
}

// New constructs an Allocator backed by path, loading any existing
// placements. rng may be nil, in which case a new PCG source with a random
// seed is used; tests may inject a seeded *rand.Rand for deterministic shuffling.
func New(path string, area WorkArea, rng *rand.Rand) (*Allocator, error) {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	a := &Allocator{path: path, area: area, rng: rng}
	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Allocator) load() error {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		a.placements = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("layout: read %s: %w", a.path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("layout: parse %s: %w", a.path, err)
	}
	a.placements = doc.Placements
	return nil
}

func (a *Allocator) save() error {
	doc := document{
		Placements:      a.placements,
		WidthMM:         a.area.ActiveWidthMM,
		HeightMM:        a.area.ActiveHeightMM,
		MachineWidthMM:  a.area.MachineWidthMM,
		MachineHeightMM: a.area.MachineHeightMM,
		OffsetXMM:       a.area.OffsetXMM,
		OffsetYMM:       a.area.OffsetYMM,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("layout: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("layout: mkdir: %w", err)
	}
	if err := os.WriteFile(a.path, data, 0o644); err != nil {
		return fmt.Errorf("layout: write %s: %w", a.path, err)
	}
	return nil
}

// FindEmptySpace finds a free origin for a rectangle of the given size,
// shrinking the text height when necessary. Returns the origin (in
// active-local coordinates) and the final text height actually used, or
// ok=false if no space could be found even at MinHeightMM.
func (a *Allocator) FindEmptySpace(w, h, textHeight float64) (origin geom.Point, finalHeight float64, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.findEmptySpace(w, h, textHeight)
}

func (a *Allocator) findEmptySpace(w, h, textHeight float64) (geom.Point, float64, bool) {
	for w > a.area.ActiveWidthMM && textHeight > MinHeightMM {
		newH := max(textHeight*ShrinkRatio, MinHeightMM)
		scale := newH / textHeight
		w *= scale
		h *= scale
		textHeight = newH
	}
	if w > a.area.ActiveWidthMM {
		return geom.Point{}, 0, false
	}

	maxX := a.area.ActiveWidthMM - w
	maxY := a.area.ActiveHeightMM - h
	if maxX >= 0 && maxY >= 0 {
		for _, x := range a.shuffledGrid(maxX, maxY) {
			candidate := geom.Rect{X: x.X, Y: x.Y, W: w, H: h}
			if a.isSpaceEmpty(candidate) {
				return geom.Point{X: x.X, Y: x.Y}, textHeight, true
			}
		}
	}

	if textHeight > MinHeightMM {
		newH := max(textHeight*ShrinkRatio, MinHeightMM)
		scale := newH / textHeight
		return a.findEmptySpace(w*scale, h*scale, newH)
	}
	return geom.Point{}, 0, false
}

// shuffledGrid builds the candidate origin grid over [0,maxX] x [0,maxY]
// at GridSizeMM steps and shuffles it — the shuffle is contractual: it is
// what spreads names across the board instead of clustering at (0,0).
func (a *Allocator) shuffledGrid(maxX, maxY float64) []geom.Point {
	var xs, ys []float64
	for x := 0.0; x <= maxX; x += GridSizeMM {
		xs = append(xs, x)
	}
	for y := 0.0; y <= maxY; y += GridSizeMM {
		ys = append(ys, y)
	}
	positions := make([]geom.Point, 0, len(xs)*len(ys))
	for _, x := range xs {
		for _, y := range ys {
			positions = append(positions, geom.Point{X: x, Y: y})
		}
	}
	a.rng.Shuffle(len(positions), func(i, j int) {
		positions[i], positions[j] = positions[j], positions[i]
	})
	return positions
}

func (a *Allocator) isSpaceEmpty(candidate geom.Rect) bool {
	padded := candidate.Inflate(PaddingMM)
	for _, p := range a.placements {
		if padded.Overlaps(p.Rect) {
			return false
		}
	}
	return true
}

// Record appends a new placement to the set and persists it. Must be
// called only from the owning (orchestrator) goroutine.
func (a *Allocator) Record(name string, rect geom.Rect, textHeightMM float64, now time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.placements = append(a.placements, Placement{
		Name:         name,
		Rect:         rect,
		TextHeightMM: textHeightMM,
		CreatedAt:    now,
	})
	return a.save()
}

// ClearAll removes every placement without archiving.
func (a *Allocator) ClearAll() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.placements = nil
	return a.save()
}

// ArchiveAndReset copies the current placements document to a timestamped
// backup file alongside path, then clears the live set. Returns the
// backup path, or "" if there was nothing to back up.
func (a *Allocator) ArchiveAndReset(now time.Time) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := os.Stat(a.path); os.IsNotExist(err) {
		a.placements = nil
		return "", nil
	}

	ext := filepath.Ext(a.path)
	base := a.path[:len(a.path)-len(ext)]
	backup := fmt.Sprintf("%s_archive_%s%s", base, now.Format("20060102_150405"), ext)

	data, err := os.ReadFile(a.path)
	if err != nil {
		return "", fmt.Errorf("layout: read for archive: %w", err)
	}
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return "", fmt.Errorf("layout: write archive: %w", err)
	}

	a.placements = nil
	if err := a.save(); err != nil {
		return backup, err
	}
	return backup, nil
}

// ToMachine converts a local (active-area-relative) point to absolute
// machine coordinates by applying the work area's offset.
func (a *Allocator) ToMachine(local geom.Point) geom.Point {
	return geom.Point{X: local.X + a.area.OffsetXMM, Y: local.Y + a.area.OffsetYMM}
}

// Placements returns a snapshot copy of the current placement set.
func (a *Allocator) Placements() []Placement {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Placement, len(a.placements))
	copy(out, a.placements)
	return out
}

// Stats computes aggregate coverage statistics.
func (a *Allocator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.placements) == 0 {
		return Stats{}
	}
	var totalArea, totalHeight float64
	for _, p := range a.placements {
		totalArea += p.Rect.W * p.Rect.H
		totalHeight += p.TextHeightMM
	}
	available := a.area.ActiveWidthMM * a.area.ActiveHeightMM
	return Stats{
		Count:           len(a.placements),
		CoveragePercent: totalArea / available * 100,
		MeanTextHeight:  totalHeight / float64(len(a.placements)),
	}
}
