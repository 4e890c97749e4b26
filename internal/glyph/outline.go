package glyph

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-text/typesetting/di"
	gotextfont "github.com/go-text/typesetting/font"
	ot "github.com/go-text/typesetting/font/opentype"
	"github.com/go-text/typesetting/shaping"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"

	"github.com/daverdavids/nameengrave/internal/geom"
)

var kernFeatureTag = ot.MustNewTag("kern")

// OutlineSource extracts glyph geometry from a parsed TrueType/OpenType
// font file. Quadratic (glyf) outlines are read directly from the font's
// glyf table via ttFont. Fonts with no glyf table (CFF/PostScript-flavored
// OpenType) have no ttFont at all; their genuinely cubic outlines are read
// instead from hbFace's go-text/typesetting GlyphOutline segments, which is
// also kept alongside a glyf-backed font purely to supply HarfBuzz-quality
// shaping and advances.
type OutlineSource struct {
	path   string
	ttFont *truetype.Font
	hbFace *gotextfont.Face
	upem   float64

	mu    sync.Mutex
	cache map[rune]Entry
}

// NewOutlineSource parses ttfBytes and returns a Source backed by it.
// TrueType and glyf-flavored OpenType fonts extract outlines via the glyf
// table; CFF-flavored OpenType fonts (no glyf table) fall back entirely to
// go-text/typesetting's CFF-aware outline path. path is retained only as
// the cache key.
func NewOutlineSource(path string, ttfBytes []byte) (*OutlineSource, error) {
	hbFace, hbErr := gotextfont.ParseTTF(bytes.NewReader(ttfBytes))

	ttFont, ttErr := truetype.Parse(ttfBytes)
	if ttErr != nil {
		if hbErr != nil {
			return nil, fmt.Errorf("glyph: parse outline font %q: %w", path, ttErr)
		}
		return &OutlineSource{
			path:   path,
			hbFace: hbFace,
			upem:   float64(hbFace.Upem()),
			cache:  make(map[rune]Entry),
		}, nil
	}

	src := &OutlineSource{
		path:   path,
		ttFont: ttFont,
		upem:   float64(ttFont.FUnitsPerEm()),
		cache:  make(map[rune]Entry),
	}
	if hbErr == nil {
		src.hbFace = hbFace
	}
	return src, nil
}

func (s *OutlineSource) Key() string { return s.path }

func (s *OutlineSource) Glyph(r rune) (Entry, bool) {
	s.mu.Lock()
	if e, ok := s.cache[r]; ok {
		s.mu.Unlock()
		return e, true
	}
	s.mu.Unlock()

	entry := s.extract(r)

	s.mu.Lock()
	s.cache[r] = entry
	s.mu.Unlock()
	return entry, true
}

// fixedScale makes one font unit equal to 64 GlyphBuf units, so extracted
// coordinates come out directly in font units after dividing by 64.
func (s *OutlineSource) fixedScale() fixed.Int26_6 {
	return fixed.Int26_6(int32(s.upem * 64))
}

func (s *OutlineSource) extract(r rune) Entry {
	if s.ttFont == nil {
		return s.extractCFF(r)
	}
	return s.extractGlyf(r)
}

func (s *OutlineSource) extractGlyf(r rune) Entry {
	idx := s.ttFont.Index(r)
	scale := s.fixedScale()

	var gb truetype.GlyphBuf
	if err := gb.Load(s.ttFont, scale, idx, font.HintingNone); err != nil {
		// No outline (space, unsupported glyph, etc): advance only.
		adv := s.ttFont.HMetric(scale, idx).AdvanceWidth
		return Entry{Advance: float64(adv) / 64.0}
	}

	commands := contourCommands(&gb)
	adv := s.ttFont.HMetric(scale, idx).AdvanceWidth
	return Entry{Commands: commands, Advance: float64(adv) / 64.0}
}

// extractCFF reads a glyph's outline through go-text/typesetting's
// GlyphData API, the path used when the font has no glyf table to walk
// directly. It shapes the single rune to resolve a glyph ID, then asks
// hbFace for that glyph's segments, which — unlike the glyf table's
// quadratic-only contours — may be genuinely cubic.
func (s *OutlineSource) extractCFF(r rune) Entry {
	gid, adv, ok := s.shapeSingleRune(r)
	if !ok {
		return Entry{}
	}

	data := s.hbFace.GlyphData(gid)
	outline, isOutline := data.(gotextfont.GlyphOutline)
	if !isOutline {
		// Bitmap or SVG glyph data (color emoji fonts, etc): advance only.
		return Entry{Advance: adv}
	}

	commands := make([]Command, 0, len(outline.Segments))
	for _, seg := range outline.Segments {
		p0 := geom.Point{X: float64(seg.Args[0].X), Y: float64(seg.Args[0].Y)}
		switch seg.Op {
		case ot.SegmentOpMoveTo:
			commands = append(commands, Move(p0))
		case ot.SegmentOpLineTo:
			commands = append(commands, Line(p0))
		case ot.SegmentOpQuadTo:
			p1 := geom.Point{X: float64(seg.Args[1].X), Y: float64(seg.Args[1].Y)}
			commands = append(commands, Quad(p0, p1))
		case ot.SegmentOpCubeTo:
			p1 := geom.Point{X: float64(seg.Args[1].X), Y: float64(seg.Args[1].Y)}
			p2 := geom.Point{X: float64(seg.Args[2].X), Y: float64(seg.Args[2].Y)}
			commands = append(commands, Cubic(p0, p1, p2))
		}
	}
	return Entry{Commands: commands, Advance: adv}
}

// shapeSingleRune shapes r in isolation to recover its glyph ID and
// advance width from hbFace, since CFF fonts carry no standalone cmap
// lookup in this package's dependency set.
func (s *OutlineSource) shapeSingleRune(r rune) (gid gotextfont.GID, advance float64, ok bool) {
	shaper := shaping.HarfbuzzShaper{}
	out := shaper.Shape(shaping.Input{
		Text:      []rune{r},
		RunStart:  0,
		RunEnd:    1,
		Direction: di.DirectionLTR,
		Face:      s.hbFace,
		Size:      fixed.I(int(s.upem)),
	})
	if len(out.Glyphs) != 1 {
		return 0, 0, false
	}
	g := out.Glyphs[0]
	return g.GlyphID, float64(out.ToFontUnit(g.XAdvance)), true
}

// contourCommands walks a truetype.GlyphBuf and emits MoveTo/LineTo/QuadTo
// per the TrueType mid-rule: two consecutive off-curve points imply an
// on-curve point at their midpoint. Each contour is closed by an explicit
// LineTo back to its start.
func contourCommands(gb *truetype.GlyphBuf) []Command {
	pts := gb.Points
	var out []Command
	start := 0
	for _, end := range gb.Ends {
		out = append(out, contourToCommands(pts[start:end])...)
		start = end
	}
	return out
}

func toPoint(p truetype.Point) geom.Point {
	return geom.Point{X: float64(p.X) / 64.0, Y: float64(p.Y) / 64.0}
}

func onCurve(p truetype.Point) bool { return p.Flags&0x01 != 0 }

func contourToCommands(pts []truetype.Point) []Command {
	n := len(pts)
	if n == 0 {
		return nil
	}

	var start geom.Point
	startIdx := 0
	switch {
	case onCurve(pts[0]):
		start = toPoint(pts[0])
		startIdx = 0
	case onCurve(pts[n-1]):
		start = toPoint(pts[n-1])
		startIdx = n - 1
	default:
		start = midpoint(toPoint(pts[n-1]), toPoint(pts[0]))
		startIdx = n - 1
	}

	out := make([]Command, 0, n+2)
	out = append(out, Move(start))

	prevOn := start
	var haveCtrl bool
	var ctrl geom.Point

	i := (startIdx + 1) % n
	for steps := 0; steps < n; steps++ {
		p := pts[i]
		if onCurve(p) {
			on := toPoint(p)
			if haveCtrl {
				out = append(out, Quad(ctrl, on))
				haveCtrl = false
			} else {
				out = append(out, Line(on))
			}
			prevOn = on
			i = (i + 1) % n
			continue
		}

		c := toPoint(p)
		if haveCtrl {
			implied := midpoint(ctrl, c)
			out = append(out, Quad(ctrl, implied))
			prevOn = implied
			ctrl = c
		} else {
			ctrl = c
			haveCtrl = true
		}
		i = (i + 1) % n
	}

	if haveCtrl {
		out = append(out, Quad(ctrl, start))
	} else if prevOn != start {
		out = append(out, Line(start))
	}

	return out
}

func midpoint(a, b geom.Point) geom.Point {
	return geom.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// ShapedAdvances runs the string through HarfBuzz shaping to get
// kerning-aware pen positions, assuming a single glyph per rune — true for
// the plain Latin uppercase names this system engraves, not for scripts
// needing ligature substitution. ok is false when no HarfBuzz face was
// parsed (malformed or CFF-only font), in which case the caller should
// fall back to unshaped per-glyph advances.
func (s *OutlineSource) ShapedAdvances(text string, kerning bool) (penX []float64, total float64, ok bool) {
	if s.hbFace == nil {
		return nil, 0, false
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, 0, true
	}

	var features []shaping.FontFeature
	if !kerning {
		features = append(features, shaping.FontFeature{Tag: kernFeatureTag, Value: 0})
	}

	shaper := shaping.HarfbuzzShaper{}
	out := shaper.Shape(shaping.Input{
		Text:         runes,
		RunStart:     0,
		RunEnd:       len(runes),
		Direction:    di.DirectionLTR,
		Face:         s.hbFace,
		FontFeatures: features,
		Size:         fixed.I(int(s.upem)),
	})
	if len(out.Glyphs) != len(runes) {
		// A ligature or reorder happened; the 1:1 rune-to-glyph
		// assumption this API relies on no longer holds.
		return nil, 0, false
	}

	penX = make([]float64, len(runes))
	pen := 0.0
	for i, g := range out.Glyphs {
		penX[i] = pen + float64(out.ToFontUnit(g.XOffset))
		pen += float64(out.ToFontUnit(g.XAdvance))
	}
	return penX, pen, true
}
