// Package textprog compiles a string of text into a MotionProgram: G-code
// lines that engrave the string as vector strokes and circular arcs inside
// a target bounding height, anchored at a supplied machine-space origin.
package textprog

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/daverdavids/nameengrave/internal/arcfit"
	"github.com/daverdavids/nameengrave/internal/geom"
	"github.com/daverdavids/nameengrave/internal/glyph"
	"go.uber.org/zap"
)

// ErrNoPathsGenerated is returned by Compile when every character in the
// string produced no geometry (e.g. an entirely unmapped or whitespace
// string) — a distinct condition from an empty-but-successful Estimate.
var ErrNoPathsGenerated = errors.New("textprog: no paths generated")

// BoldPattern selects the repeat/offset strategy used for multi-pass bold
// or outline rendering.
type BoldPattern string

const (
	PatternNone       BoldPattern = ""
	PatternCross      BoldPattern = "cross"
	PatternGrid       BoldPattern = "grid"
	PatternCircle     BoldPattern = "circle"
	PatternConcentric BoldPattern = "concentric"
)

// BoldOptions configures the bold/outline repeat strategy.
type BoldOptions struct {
	Pattern  BoldPattern
	Repeats  int     // n repeats; 0 or 1 means "no bolding"
	OffsetMM float64 // per-step offset δ
}

// MachineParams are the fixed per-job motion parameters baked into the
// emitted G-code.
type MachineParams struct {
	FeedRate       float64 // mm/min, used for G1/G2/G3 F values
	PowerPercent   float64 // 0-100
	SpindleMax     float64 // S value at 100% power
	UseZHeight     bool
	ZHeightMM      float64
}

func (m MachineParams) sValue() int {
	return int(math.Round(m.PowerPercent / 100.0 * m.SpindleMax))
}

// MotionProgram is an ordered, immutable-once-returned sequence of G-code
// lines.
type MotionProgram struct {
	Lines []string
}

func (p *MotionProgram) append(format string, args ...any) {
	p.Lines = append(p.Lines, fmt.Sprintf(format, args...))
}

// String joins the program into newline-terminated G-code text, matching
// the on-disk artifact format byte-for-byte.
func (p *MotionProgram) String() string {
	return strings.Join(p.Lines, "\n") + "\n"
}

// Compiler turns text into geometry using a glyph.Source and emits motion
// programs in machine coordinates.
type Compiler struct {
	Source glyph.Source
	Log    *zap.SugaredLogger
}

func New(source glyph.Source, log *zap.SugaredLogger) *Compiler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Compiler{Source: source, Log: log}
}

// layoutResult is the output of the layout pass: a flat command list with
// per-character cursor advance already applied along X, plus the raw
// vertical extent and total advance, all in font units.
type layoutResult struct {
	commands   []glyph.Command
	minY, maxY float64
	totalAdv   float64
}

func (c *Compiler) layout(text string) layoutResult {
	if pen, total, ok := c.shapedPenPositions(text); ok {
		return c.layoutWithPen(text, pen, total)
	}
	return c.layoutUnshaped(text)
}

// shapedPenPositions asks the glyph source for HarfBuzz-shaped, kerning-aware
// pen positions when it implements KerningSource. ok is false when the
// source lacks shaping support or shaping failed, in which case the caller
// should fall back to summing unshaped per-glyph advances.
func (c *Compiler) shapedPenPositions(text string) (pen []float64, total float64, ok bool) {
	ks, isKerning := c.Source.(glyph.KerningSource)
	if !isKerning {
		return nil, 0, false
	}
	pen, total, ok = ks.ShapedAdvances(text, true)
	if !ok {
		c.Log.Debugw("shaping unavailable for string, falling back to unshaped advances", "text", text)
	}
	return pen, total, ok
}

func (c *Compiler) layoutWithPen(text string, pen []float64, total float64) layoutResult {
	var res layoutResult
	res.minY = math.Inf(1)
	res.maxY = math.Inf(-1)

	i := 0
	for _, r := range text {
		cursorX := pen[i]
		i++
		entry, ok := c.Source.Glyph(r)
		if !ok {
			c.Log.Debugw("no glyph lookup result, advancing only", "rune", string(r))
			continue
		}
		for _, cmd := range entry.Commands {
			shifted := shiftCommand(cmd, cursorX)
			res.trackY(shifted)
			res.commands = append(res.commands, shifted)
		}
	}
	res.totalAdv = total
	return res
}

func (c *Compiler) layoutUnshaped(text string) layoutResult {
	var res layoutResult
	res.minY = math.Inf(1)
	res.maxY = math.Inf(-1)

	cursorX := 0.0
	for _, r := range text {
		entry, ok := c.Source.Glyph(r)
		if !ok {
			c.Log.Debugw("no glyph lookup result, advancing only", "rune", string(r))
			continue
		}
		if len(entry.Commands) == 0 {
			c.Log.Debugw("character has no geometry, advancing only", "rune", string(r))
			cursorX += entry.Advance
			continue
		}
		for _, cmd := range entry.Commands {
			shifted := shiftCommand(cmd, cursorX)
			res.trackY(shifted)
			res.commands = append(res.commands, shifted)
		}
		cursorX += entry.Advance
	}
	res.totalAdv = cursorX
	return res
}

func shiftCommand(cmd glyph.Command, dx float64) glyph.Command {
	cmd.End.X += dx
	if cmd.Kind == glyph.QuadTo || cmd.Kind == glyph.CubicTo {
		cmd.Ctrl1.X += dx
	}
	if cmd.Kind == glyph.CubicTo {
		cmd.Ctrl2.X += dx
	}
	return cmd
}

func (r *layoutResult) trackY(cmd glyph.Command) {
	track := func(p geom.Point) {
		if p.Y < r.minY {
			r.minY = p.Y
		}
		if p.Y > r.maxY {
			r.maxY = p.Y
		}
	}
	track(cmd.End)
	if cmd.Kind == glyph.QuadTo || cmd.Kind == glyph.CubicTo {
		track(cmd.Ctrl1)
	}
	if cmd.Kind == glyph.CubicTo {
		track(cmd.Ctrl2)
	}
}

// Estimate runs the layout pass only and returns the bounding box a
// compiled program would occupy at the given target text height, without
// requiring a placement origin. A string with no visible geometry returns
// a zero-sized box and no error.
func (c *Compiler) Estimate(text string, heightMM float64) (widthMM, heightOut float64, err error) {
	lay := c.layout(text)
	rawHeight := lay.maxY - lay.minY
	if len(lay.commands) == 0 || rawHeight < 1e-9 {
		return 0, 0, nil
	}
	scale := heightMM / rawHeight
	return lay.totalAdv * scale, heightMM, nil
}

// FitHeightToBox proportionally shrinks initialHeightMM so the string's
// rendered width does not exceed boxWidthMM, matching the box-width
// constraint referenced in the layout pass (§4.3 step 2). If the string
// already fits, initialHeightMM is returned unchanged.
func (c *Compiler) FitHeightToBox(text string, boxWidthMM, initialHeightMM float64) (float64, error) {
	w, _, err := c.Estimate(text, initialHeightMM)
	if err != nil {
		return 0, err
	}
	if w <= boxWidthMM || w == 0 {
		return initialHeightMM, nil
	}
	return initialHeightMM * (boxWidthMM / w), nil
}

// CompileOptions carries everything Compile needs beyond the string and
// its anchor: target height, pass/bold repeat strategy, and mirror-Y.
type CompileOptions struct {
	HeightMM float64
	Passes   int
	Bold     BoldOptions
	MirrorY  bool
	Params   MachineParams
}

// Compile runs the full pipeline — layout, normalization, affine
// transform, arc fitting, bold/outline repetition, pass loop — and emits a
// complete MotionProgram anchored at origin, including the fixed
// preamble/postamble.
func (c *Compiler) Compile(text string, origin geom.Point, opts CompileOptions) (*MotionProgram, error) {
	lay := c.layout(text)
	rawHeight := lay.maxY - lay.minY
	if len(lay.commands) == 0 || rawHeight < 1e-9 {
		return nil, ErrNoPathsGenerated
	}

	passes := opts.Passes
	if passes < 1 {
		passes = 1
	}
	repeats := opts.Bold.Repeats
	if repeats < 1 {
		repeats = 1
	}

	scale := opts.HeightMM / rawHeight

	var normals []geom.Point
	var translateOffsets []geom.Point
	var concentricAmounts []float64
	if opts.Bold.Pattern == PatternConcentric {
		normals = computeNormals(lay.commands)
		concentricAmounts = concentricOffsetAmounts(repeats, opts.Bold.OffsetMM)
	} else {
		translateOffsets = translateOffsetTable(repeats, opts.Bold.OffsetMM, opts.Bold.Pattern)
	}

	prog := &MotionProgram{}
	emitPreamble(prog, opts.Params)

	for p := 0; p < passes; p++ {
		for b := 0; b < repeats; b++ {
			var bx, by, amt float64
			if opts.Bold.Pattern == PatternConcentric {
				amt = concentricAmounts[b]
			} else {
				bx, by = translateOffsets[b].X, translateOffsets[b].Y
			}
			emitBody(prog, lay.commands, normals, scale, lay.minY, origin, opts.MirrorY, rawHeight, bx, by, amt, opts.Params.FeedRate)
		}
	}

	emitPostamble(prog, opts.Params)
	return prog, nil
}

func emitPreamble(p *MotionProgram, m MachineParams) {
	p.append("G21")
	p.append("G10 L2 P1 X0 Y0 Z0")
	p.append("G54")
	p.append("G90")
	if m.UseZHeight {
		p.append("G0 Z0")
		p.append("G0 Z%.3f", m.ZHeightMM)
	}
	p.append("M4 S%d", m.sValue())
}

func emitPostamble(p *MotionProgram, m MachineParams) {
	p.append("M5")
	if m.UseZHeight {
		p.append("G0 Z0")
	}
	p.append("G0 X0 Y0")
	p.append("M2")
}

// transform maps one font-unit point into machine coordinates, applying
// scale, mirror-Y, a translate-mode offset (bx,by already in mm) and a
// concentric-mode normal offset (already direction-only; magnitude amt
// mm).
func transform(p, normal geom.Point, scale, minY float64, origin geom.Point, mirrorY bool, rawHeight, bx, by, amt float64) geom.Point {
	mx := p.X * scale
	my := (p.Y - minY) * scale
	if mirrorY {
		my = (rawHeight - (p.Y - minY)) * scale
	}
	nx, ny := normal.X*amt, normal.Y*amt
	if mirrorY {
		ny = -ny
	}
	return geom.Point{X: origin.X + mx + bx + nx, Y: origin.Y + my + by + ny}
}

func emitBody(p *MotionProgram, commands []glyph.Command, normals []geom.Point, scale, minY float64, origin geom.Point, mirrorY bool, rawHeight, bx, by, amt, feed float64) {
	var current geom.Point
	haveCurrent := false

	normalAt := func(i int) geom.Point {
		if normals == nil {
			return geom.Point{}
		}
		return normals[i]
	}

	pointIdx := 0
	for _, cmd := range commands {
		switch cmd.Kind {
		case glyph.MoveTo:
			m := transform(cmd.End, normalAt(pointIdx), scale, minY, origin, mirrorY, rawHeight, bx, by, amt)
			pointIdx++
			p.append("G0 X%.3f Y%.3f", m.X, m.Y)
			current, haveCurrent = m, true
		case glyph.LineTo:
			m := transform(cmd.End, normalAt(pointIdx), scale, minY, origin, mirrorY, rawHeight, bx, by, amt)
			pointIdx++
			p.append("G1 X%.3f Y%.3f F%g", m.X, m.Y, feed)
			current, haveCurrent = m, true
		case glyph.QuadTo:
			ctrl := transform(cmd.Ctrl1, normalAt(pointIdx), scale, minY, origin, mirrorY, rawHeight, bx, by, amt)
			pointIdx++
			end := transform(cmd.End, normalAt(pointIdx), scale, minY, origin, mirrorY, rawHeight, bx, by, amt)
			pointIdx++
			if haveCurrent {
				emitArcInstructions(p, arcfit.FitQuadratic(current, ctrl, end), current, feed)
			}
			current, haveCurrent = end, true
		case glyph.CubicTo:
			c1 := transform(cmd.Ctrl1, normalAt(pointIdx), scale, minY, origin, mirrorY, rawHeight, bx, by, amt)
			pointIdx++
			c2 := transform(cmd.Ctrl2, normalAt(pointIdx), scale, minY, origin, mirrorY, rawHeight, bx, by, amt)
			pointIdx++
			end := transform(cmd.End, normalAt(pointIdx), scale, minY, origin, mirrorY, rawHeight, bx, by, amt)
			pointIdx++
			if haveCurrent {
				emitArcInstructions(p, arcfit.FitCubic(current, c1, c2, end), current, feed)
			}
			current, haveCurrent = end, true
		}
	}
}

func emitArcInstructions(p *MotionProgram, instrs []arcfit.Instruction, from geom.Point, feed float64) {
	cur := from
	for _, in := range instrs {
		switch in.Kind {
		case arcfit.Line:
			p.append("G1 X%.3f Y%.3f F%g", in.End.X, in.End.Y, feed)
		case arcfit.Arc:
			i := in.Center.X - cur.X
			j := in.Center.Y - cur.Y
			cmd := "G2"
			if in.CCW {
				cmd = "G3"
			}
			p.append("%s X%.3f Y%.3f I%.3f J%.3f F%g", cmd, in.End.X, in.End.Y, i, j, feed)
		}
		cur = in.End
	}
}
