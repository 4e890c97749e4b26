// Package geom holds the small set of 2-D primitives shared by the arc
// fitter, the text compiler, and the layout allocator.
package geom

import "github.com/unixpickle/model3d/model2d"

// Point is a 2-D coordinate in either font units, model-local millimetres,
// or machine millimetres depending on context.
type Point = model2d.Coord

// Rect is an axis-aligned rectangle with its origin at the bottom-left
// corner, matching the Placement and WorkArea data model.
type Rect struct {
	X, Y, W, H float64
}

// Max returns the top-right corner of r.
func (r Rect) Max() Point {
	return Point{X: r.X + r.W, Y: r.Y + r.H}
}

// Inflate grows r by d on every side, used for the padded collision test.
func (r Rect) Inflate(d float64) Rect {
	return Rect{X: r.X - d, Y: r.Y - d, W: r.W + 2*d, H: r.H + 2*d}
}

// Overlaps reports whether r and o intersect as axis-aligned rectangles.
func (r Rect) Overlaps(o Rect) bool {
	rMax, oMax := r.Max(), o.Max()
	if r.X >= oMax.X || o.X >= rMax.X {
		return false
	}
	if r.Y >= oMax.Y || o.Y >= rMax.Y {
		return false
	}
	return true
}

// FitsWithin reports whether r lies entirely inside [0,w] x [0,h].
func (r Rect) FitsWithin(w, h float64) bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= w && r.Y+r.H <= h
}
