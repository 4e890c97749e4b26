// Package glyph supplies drawing commands for individual characters, either
// from a parsed outline font or from a built-in single-stroke font.
package glyph

import "github.com/daverdavids/nameengrave/internal/geom"

// CommandKind tags the variant held by a Command.
type CommandKind int

const (
	MoveTo CommandKind = iota
	LineTo
	QuadTo
	CubicTo
)

// Command is one drawing instruction in font units. For MoveTo/LineTo only
// End is meaningful. For QuadTo, Ctrl1 is the single quadratic control
// point. For CubicTo, Ctrl1 and Ctrl2 are the two cubic control points.
type Command struct {
	Kind  CommandKind
	Ctrl1 geom.Point
	Ctrl2 geom.Point
	End   geom.Point
}

func Move(p geom.Point) Command { return Command{Kind: MoveTo, End: p} }
func Line(p geom.Point) Command { return Command{Kind: LineTo, End: p} }
func Quad(c, p geom.Point) Command {
	return Command{Kind: QuadTo, Ctrl1: c, End: p}
}
func Cubic(c1, c2, p geom.Point) Command {
	return Command{Kind: CubicTo, Ctrl1: c1, Ctrl2: c2, End: p}
}

// Entry is the cached outline for one character: an ordered sequence of
// drawing commands plus its horizontal advance width, both in font units.
type Entry struct {
	Commands []Command
	Advance  float64
}

// Source supplies glyph entries for a font. Implementations must be safe
// to call concurrently for read-only lookups once warm; first-touch
// compilation of a given rune may be serialized internally.
type Source interface {
	// Glyph returns the cached outline for r, extracting and caching it on
	// first use. ok is false only when the lookup itself failed outright
	// (never simply "no geometry" — a missing glyph still returns an Entry
	// with zero Commands and a fallback Advance).
	Glyph(r rune) (Entry, bool)

	// Key identifies the font (file path, or a built-in name); changing
	// fonts means constructing a new Source rather than mutating one.
	Key() string
}

// KerningSource is implemented by Source backends that can additionally
// shape a whole string at once, producing pen positions that account for
// kerning pairs rather than summing independent per-glyph advances.
type KerningSource interface {
	Source

	// ShapedAdvances returns the pen X offset of each rune in text (in font
	// units) plus the total advance, honoring kerning pairs when kerning is
	// true. ok is false when shaping could not be performed (no HarfBuzz
	// face, or a ligature/reorder broke the 1:1 rune-to-glyph assumption),
	// in which case the caller should fall back to per-glyph advances.
	ShapedAdvances(text string, kerning bool) (penX []float64, total float64, ok bool)
}
