package textprog

import (
	"math"
	"regexp"
	"strconv"
	"testing"

	"github.com/daverdavids/nameengrave/internal/geom"
	"github.com/daverdavids/nameengrave/internal/glyph"
)

func testParams() MachineParams {
	return MachineParams{FeedRate: 1000, PowerPercent: 50, SpindleMax: 1000}
}

var coordRe = regexp.MustCompile(`X(-?[0-9.]+) Y(-?[0-9.]+)`)

func extractCoords(t *testing.T, prog *MotionProgram) []geom.Point {
	t.Helper()
	var pts []geom.Point
	for _, line := range prog.Lines {
		m := coordRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		x, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			t.Fatalf("bad X in line %q: %v", line, err)
		}
		y, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			t.Fatalf("bad Y in line %q: %v", line, err)
		}
		pts = append(pts, geom.Point{X: x, Y: y})
	}
	return pts
}

func TestCompileTranslationByOrigin(t *testing.T) {
	c := New(glyph.NewStrokeSource(), nil)

	base, err := c.Compile("ABC", geom.Point{}, CompileOptions{HeightMM: 10, Passes: 1, Params: testParams()})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	shifted, err := c.Compile("ABC", geom.Point{X: 20, Y: 15}, CompileOptions{HeightMM: 10, Passes: 1, Params: testParams()})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	basePts := extractCoords(t, base)
	shiftedPts := extractCoords(t, shifted)
	if len(basePts) != len(shiftedPts) {
		t.Fatalf("point count mismatch: %d vs %d", len(basePts), len(shiftedPts))
	}
	// The first and last coordinate pairs come from the fixed
	// "G10 L2 P1 X0 Y0 Z0" preamble line and the "G0 X0 Y0" postamble move,
	// which are anchor-independent by design (work offset reset and return
	// to machine home).
	for i := 1; i < len(basePts)-1; i++ {
		gotDX := shiftedPts[i].X - basePts[i].X
		gotDY := shiftedPts[i].Y - basePts[i].Y
		if math.Abs(gotDX-20) > 1e-6 || math.Abs(gotDY-15) > 1e-6 {
			t.Fatalf("point %d: expected translation (20,15), got (%.6f,%.6f)", i, gotDX, gotDY)
		}
	}
}

func TestEstimateHeightMatchesTarget(t *testing.T) {
	c := New(glyph.NewStrokeSource(), nil)
	_, h, err := c.Estimate("HELLO", 10)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if math.Abs(h-10) > 1e-4 {
		t.Fatalf("expected height ~=10, got %v", h)
	}
}

func TestCompileEmptyStringFails(t *testing.T) {
	c := New(glyph.NewStrokeSource(), nil)
	_, err := c.Compile("   ", geom.Point{}, CompileOptions{HeightMM: 10, Passes: 1, Params: testParams()})
	if err == nil {
		t.Fatal("expected an error for a string with no visible geometry")
	}
}

func TestCompileEmitsExactlyOneM2AndM5(t *testing.T) {
	c := New(glyph.NewStrokeSource(), nil)
	prog, err := c.Compile("ABC", geom.Point{}, CompileOptions{HeightMM: 10, Passes: 2, Params: testParams()})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	m2, m5, m4 := 0, 0, 0
	for _, l := range prog.Lines {
		switch l {
		case "M2":
			m2++
		case "M5":
			m5++
		}
		if len(l) >= 2 && l[:2] == "M4" {
			m4++
		}
	}
	if m2 != 1 {
		t.Fatalf("expected exactly one M2, got %d", m2)
	}
	if m5 != 1 {
		t.Fatalf("expected exactly one M5, got %d", m5)
	}
	if m4 != 1 {
		t.Fatalf("expected exactly one M4 (preamble only), got %d", m4)
	}
}

// fakeKerningSource wraps a stroke source but reports shaped pen positions
// that differ from summed per-glyph advances, so tests can tell which path
// layout() actually took.
type fakeKerningSource struct {
	*glyph.StrokeSource
	shapedPenX []float64
	shapedOK   bool
}

func (f *fakeKerningSource) ShapedAdvances(text string, kerning bool) ([]float64, float64, bool) {
	if !f.shapedOK {
		return nil, 0, false
	}
	total := 0.0
	if n := len(f.shapedPenX); n > 0 {
		total = f.shapedPenX[n-1]
	}
	return f.shapedPenX, total, true
}

func TestCompileUsesShapedAdvancesWhenSourceSupportsKerning(t *testing.T) {
	base := New(glyph.NewStrokeSource(), nil)
	plain, err := base.Compile("AB", geom.Point{}, CompileOptions{HeightMM: 10, Passes: 1, Params: testParams()})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	// Force a pen position for 'B' far to the right of what unshaped
	// advances would produce, so the shaped path is unambiguously exercised.
	fake := &fakeKerningSource{StrokeSource: glyph.NewStrokeSource(), shapedPenX: []float64{0, 500}, shapedOK: true}
	c := New(fake, nil)
	shaped, err := c.Compile("AB", geom.Point{}, CompileOptions{HeightMM: 10, Passes: 1, Params: testParams()})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	plainPts := extractCoords(t, plain)
	shapedPts := extractCoords(t, shaped)
	if len(plainPts) != len(shapedPts) {
		t.Fatalf("point count mismatch: %d vs %d", len(plainPts), len(shapedPts))
	}
	same := true
	for i := range plainPts {
		if math.Abs(plainPts[i].X-shapedPts[i].X) > 1e-6 {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected shaped pen positions to change geometry versus unshaped advances")
	}
}

func TestCompileFallsBackWhenShapingFails(t *testing.T) {
	fake := &fakeKerningSource{StrokeSource: glyph.NewStrokeSource(), shapedOK: false}
	c := New(fake, nil)
	_, err := c.Compile("AB", geom.Point{}, CompileOptions{HeightMM: 10, Passes: 1, Params: testParams()})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
}

func TestCompileHonorsSpindlePower(t *testing.T) {
	c := New(glyph.NewStrokeSource(), nil)
	prog, err := c.Compile("A", geom.Point{}, CompileOptions{HeightMM: 10, Passes: 1, Params: MachineParams{FeedRate: 1000, PowerPercent: 50, SpindleMax: 1000}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	found := false
	for _, l := range prog.Lines {
		if l == "M4 S500" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected M4 S500 in program, got lines: %v", prog.Lines)
	}
}
