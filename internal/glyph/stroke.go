package glyph

import (
	"strings"

	"github.com/daverdavids/nameengrave/internal/geom"
)

// StrokeSource is the built-in single-stroke ("engraving") font: a literal
// table of pen-down vertex sequences per character, rendering uppercase
// letters and digits only. Lowercase input is upcased before lookup.
// Characters with no entry advance a fixed width and contribute no
// geometry.
type StrokeSource struct{}

func NewStrokeSource() *StrokeSource { return &StrokeSource{} }

func (s *StrokeSource) Key() string { return "builtin:simplex" }

// Glyph coordinates live on a 0..6 (width) by 0..10 (cap-height) grid in
// font units, except Q's tail, which dips to y=-1; advance width is 7.5 for all glyphs, giving even letter
// spacing for a monospaced stroke font.
const strokeAdvance = 7.5

func (s *StrokeSource) Glyph(r rune) (Entry, bool) {
	ur := []rune(strings.ToUpper(string(r)))
	if len(ur) != 1 {
		return Entry{Advance: strokeAdvance}, true
	}
	strokes, ok := strokeTable[ur[0]]
	if !ok {
		return Entry{Advance: strokeAdvance}, true
	}
	return Entry{Commands: strokesToCommands(strokes), Advance: strokeAdvance}, true
}

// strokesToCommands converts pen-down vertex sequences into Move/Line
// commands: the first point of each stroke is a pen-up MoveTo, subsequent
// points within the stroke are pen-down LineTo.
func strokesToCommands(strokes [][]geom.Point) []Command {
	var out []Command
	for _, stroke := range strokes {
		if len(stroke) == 0 {
			continue
		}
		out = append(out, Move(stroke[0]))
		for _, p := range stroke[1:] {
			out = append(out, Line(p))
		}
	}
	return out
}

func pt(x, y float64) geom.Point { return geom.Point{X: x, Y: y} }

func line(pts ...geom.Point) []geom.Point { return pts }

// strokeTable is the hard-coded vector alphabet: uppercase A-Z and 0-9,
// each a list of independent pen-down strokes on the 0..6 x 0..10 grid.
var strokeTable = map[rune][][]geom.Point{
	'A': {
		line(pt(0, 0), pt(3, 10), pt(6, 0)),
		line(pt(1.2, 4), pt(4.8, 4)),
	},
	'B': {
		line(pt(0, 0), pt(0, 10), pt(4, 10), pt(5, 8.5), pt(4, 7), pt(0, 6.5)),
		line(pt(0, 6.5), pt(4.5, 6), pt(5.5, 4), pt(4.5, 1), pt(0, 0)),
	},
	'C': {
		line(pt(6, 8), pt(4, 10), pt(1, 10), pt(0, 7), pt(0, 3), pt(1, 0), pt(4, 0), pt(6, 2)),
	},
	'D': {
		line(pt(0, 0), pt(0, 10), pt(3, 10), pt(6, 7), pt(6, 3), pt(3, 0), pt(0, 0)),
	},
	'E': {
		line(pt(6, 0), pt(0, 0), pt(0, 10), pt(6, 10)),
		line(pt(0, 5), pt(4, 5)),
	},
	'F': {
		line(pt(0, 0), pt(0, 10), pt(6, 10)),
		line(pt(0, 5), pt(4, 5)),
	},
	'G': {
		line(pt(6, 8), pt(4, 10), pt(1, 10), pt(0, 7), pt(0, 3), pt(1, 0), pt(4, 0), pt(6, 2), pt(6, 5), pt(3.5, 5)),
	},
	'H': {
		line(pt(0, 0), pt(0, 10)),
		line(pt(6, 0), pt(6, 10)),
		line(pt(0, 5), pt(6, 5)),
	},
	'I': {
		line(pt(3, 0), pt(3, 10)),
	},
	'J': {
		line(pt(5, 10), pt(5, 2), pt(3, 0), pt(1, 0), pt(0, 2)),
	},
	'K': {
		line(pt(0, 0), pt(0, 10)),
		line(pt(6, 10), pt(0, 5), pt(6, 0)),
	},
	'L': {
		line(pt(0, 10), pt(0, 0), pt(6, 0)),
	},
	'M': {
		line(pt(0, 0), pt(0, 10), pt(3, 5), pt(6, 10), pt(6, 0)),
	},
	'N': {
		line(pt(0, 0), pt(0, 10), pt(6, 0), pt(6, 10)),
	},
	'O': {
		line(pt(0, 3), pt(0, 7), pt(2, 10), pt(4, 10), pt(6, 7), pt(6, 3), pt(4, 0), pt(2, 0), pt(0, 3)),
	},
	'P': {
		line(pt(0, 0), pt(0, 10), pt(4, 10), pt(5.5, 8), pt(4, 6), pt(0, 6)),
	},
	'Q': {
		line(pt(0, 3), pt(0, 7), pt(2, 10), pt(4, 10), pt(6, 7), pt(6, 3), pt(4, 0), pt(2, 0), pt(0, 3)),
		line(pt(3, 3), pt(6, -1)),
	},
	'R': {
		line(pt(0, 0), pt(0, 10), pt(4, 10), pt(5.5, 8), pt(4, 6), pt(0, 6)),
		line(pt(2.5, 6), pt(6, 0)),
	},
	'S': {
		line(pt(6, 8), pt(4.5, 10), pt(1.5, 10), pt(0, 8.5), pt(1.5, 6.5), pt(4.5, 5.5), pt(6, 3.5), pt(4.5, 0), pt(1.5, 0), pt(0, 2)),
	},
	'T': {
		line(pt(0, 10), pt(6, 10)),
		line(pt(3, 10), pt(3, 0)),
	},
	'U': {
		line(pt(0, 10), pt(0, 3), pt(2, 0), pt(4, 0), pt(6, 3), pt(6, 10)),
	},
	'V': {
		line(pt(0, 10), pt(3, 0), pt(6, 10)),
	},
	'W': {
		line(pt(0, 10), pt(1.5, 0), pt(3, 6), pt(4.5, 0), pt(6, 10)),
	},
	'X': {
		line(pt(0, 0), pt(6, 10)),
		line(pt(0, 10), pt(6, 0)),
	},
	'Y': {
		line(pt(0, 10), pt(3, 5), pt(3, 0)),
		line(pt(3, 5), pt(6, 10)),
	},
	'Z': {
		line(pt(0, 10), pt(6, 10), pt(0, 0), pt(6, 0)),
	},
	'0': {
		line(pt(0, 3), pt(0, 7), pt(2, 10), pt(4, 10), pt(6, 7), pt(6, 3), pt(4, 0), pt(2, 0), pt(0, 3)),
		line(pt(1, 2), pt(5, 8)),
	},
	'1': {
		line(pt(1, 8), pt(3, 10), pt(3, 0)),
		line(pt(1, 0), pt(5, 0)),
	},
	'2': {
		line(pt(0, 7), pt(0, 9), pt(2, 10), pt(4, 10), pt(6, 8), pt(6, 6), pt(0, 0), pt(6, 0)),
	},
	'3': {
		line(pt(0, 9), pt(2, 10), pt(4, 10), pt(6, 8.5), pt(4, 5.5), pt(6, 3), pt(4, 0), pt(1, 0), pt(0, 1.5)),
	},
	'4': {
		line(pt(4, 0), pt(4, 10), pt(0, 2.5), pt(6, 2.5)),
	},
	'5': {
		line(pt(6, 10), pt(0, 10), pt(0, 5.5), pt(4, 6), pt(6, 4), pt(4, 0), pt(1, 0), pt(0, 1.5)),
	},
	'6': {
		line(pt(5.5, 9), pt(3.5, 10), pt(1, 8), pt(0, 4), pt(1, 0.5), pt(4, 0), pt(6, 2.5), pt(5, 5.5), pt(1.5, 5.5)),
	},
	'7': {
		line(pt(0, 10), pt(6, 10), pt(2, 0)),
	},
	'8': {
		line(pt(2, 5), pt(0, 7), pt(1, 10), pt(5, 10), pt(6, 7), pt(2, 5), pt(6, 3), pt(5, 0), pt(1, 0), pt(0, 3), pt(2, 5)),
	},
	'9': {
		line(pt(0.5, 1), pt(2.5, 0), pt(5, 2), pt(6, 6), pt(5, 9.5), pt(2, 10), pt(0, 7.5), pt(1, 4.5), pt(4.5, 4.5)),
	},
}
