package textprog

import (
	"math"

	"github.com/daverdavids/nameengrave/internal/geom"
	"github.com/daverdavids/nameengrave/internal/glyph"
)

// translateOffsetTable returns the (dx, dy) translation used for each of
// repeats passes of translate-mode bolding, in millimetres. Index 0 is
// always the identity (0,0).
func translateOffsetTable(repeats int, offsetMM float64, pattern BoldPattern) []geom.Point {
	offsets := make([]geom.Point, repeats)
	if repeats <= 1 {
		return offsets
	}

	if pattern == PatternCircle {
		for i := 1; i < repeats; i++ {
			angle := float64(i-1) * (2 * math.Pi / float64(repeats-1))
			offsets[i] = geom.Point{X: math.Cos(angle) * offsetMM, Y: math.Sin(angle) * offsetMM}
		}
		return offsets
	}

	// Grid and cross both walk the same 8-point compass sequence, so for
	// equal repeats and offsetMM the two patterns produce identical
	// offsets; there is no separate grid arrangement. This matches the
	// source's single cross_sequence table reused for every non-circle
	// pattern.
	compass := []geom.Point{
		{X: 1, Y: 0}, {X: 0, Y: 1}, {X: -1, Y: 0}, {X: 0, Y: -1},
		{X: 1, Y: 1}, {X: -1, Y: 1}, {X: -1, Y: -1}, {X: 1, Y: -1},
	}
	for i := 1; i < repeats; i++ {
		idx := (i - 1) % len(compass)
		mult := float64(1 + (i-1)/len(compass))
		d := compass[idx]
		offsets[i] = geom.Point{X: d.X * offsetMM * mult, Y: d.Y * offsetMM * mult}
	}
	return offsets
}

// concentricOffsetAmounts returns the morphological inset/outset magnitude
// for each of repeats concentric passes: 0, +1·δ, -1·δ, +2·δ, -2·δ, …
func concentricOffsetAmounts(repeats int, offsetMM float64) []float64 {
	amounts := make([]float64, repeats)
	for i := 1; i < repeats; i++ {
		sign := 1.0
		if i%2 == 0 {
			sign = -1.0
		}
		step := float64((i + 1) / 2)
		amounts[i] = sign * step * offsetMM
	}
	return amounts
}

// pointsOf enumerates the geometric points of a command in the same order
// emitBody visits them, for normal computation.
func pointsOf(cmd glyph.Command) []geom.Point {
	switch cmd.Kind {
	case glyph.MoveTo, glyph.LineTo:
		return []geom.Point{cmd.End}
	case glyph.QuadTo:
		return []geom.Point{cmd.Ctrl1, cmd.End}
	case glyph.CubicTo:
		return []geom.Point{cmd.Ctrl1, cmd.Ctrl2, cmd.End}
	}
	return nil
}

// computeNormals computes one vertex normal per point (in the same flat
// enumeration order emitBody walks), the unit bisector of the two adjacent
// non-degenerate edges at that point, scaled by a miter factor clamped to
// 2.0. Used for concentric bold/outline offsetting.
func computeNormals(commands []glyph.Command) []geom.Point {
	var pts []geom.Point
	var contourStart []int // index into pts where each moveTo begins
	for _, cmd := range commands {
		if cmd.Kind == glyph.MoveTo {
			contourStart = append(contourStart, len(pts))
		}
		pts = append(pts, pointsOf(cmd)...)
	}
	contourStart = append(contourStart, len(pts))

	normals := make([]geom.Point, len(pts))
	const eps = 1e-5

	for c := 0; c < len(contourStart)-1; c++ {
		lo, hi := contourStart[c], contourStart[c+1]
		n := hi - lo
		if n < 2 {
			continue
		}
		closed := dist(pts[lo], pts[hi-1]) < eps

		at := func(i int) geom.Point { return pts[lo+((i%n)+n)%n] }

		for i := 0; i < n; i++ {
			cur := at(i)

			var prev geom.Point
			foundPrev := false
			for step := 1; step < n; step++ {
				var idx int
				if closed {
					idx = i - step
				} else {
					idx = max(0, i-step)
				}
				cand := at(idx)
				if dist(cand, cur) > eps {
					prev = cand
					foundPrev = true
					break
				}
			}
			if !foundPrev {
				prev = cur
			}

			var next geom.Point
			foundNext := false
			for step := 1; step < n; step++ {
				var idx int
				if closed {
					idx = i + step
				} else {
					idx = min(n-1, i+step)
				}
				cand := at(idx)
				if dist(cand, cur) > eps {
					next = cand
					foundNext = true
					break
				}
			}
			if !foundNext {
				next = cur
			}

			d1 := sub(cur, prev)
			l1 := length(d1)
			var n1 geom.Point
			if l1 > 0 {
				n1 = geom.Point{X: d1.X / l1, Y: d1.Y / l1}
			}

			d2 := sub(next, cur)
			l2 := length(d2)
			var n2 geom.Point
			if l2 > 0 {
				n2 = geom.Point{X: d2.X / l2, Y: d2.Y / l2}
			}

			tx, ty := n1.X+n2.X, n1.Y+n2.Y
			lt := math.Hypot(tx, ty)
			if lt > eps {
				tx, ty = tx/lt, ty/lt
			} else {
				tx, ty = -n1.Y, n1.X
			}

			nx, ny := -ty, tx
			dot := n1.X*n2.X + n1.Y*n2.Y
			denom := math.Sqrt(math.Max(0.001, (1.0+dot)/2.0))
			miter := math.Min(1.0/denom, 2.0)

			normals[lo+i] = geom.Point{X: nx * miter, Y: ny * miter}
		}
	}

	return normals
}

func dist(a, b geom.Point) float64   { return math.Hypot(a.X-b.X, a.Y-b.Y) }
func sub(a, b geom.Point) geom.Point { return geom.Point{X: a.X - b.X, Y: a.Y - b.Y} }
func length(a geom.Point) float64    { return math.Hypot(a.X, a.Y) }
