// Package arcfit reduces cubic and quadratic Bézier segments to circular
// arcs or straight lines within a fixed chordal error tolerance, the way
// a CAM post-processor turns font curves into G2/G3 motion.
package arcfit

import (
	"math"

	"github.com/daverdavids/nameengrave/internal/geom"
)

// Tolerances are contractual: bit-compatible output depends on using
// exactly these values.
const (
	MinRadius = 0.05 // mm — circles smaller than this degenerate to a line
	MaxArcErr = 0.08 // mm — max allowed chordal error before subdividing

	degenerateLen = 1e-6
	collinearDet  = 1e-10
)

// Kind distinguishes a straight feed move from a circular arc.
type Kind int

const (
	Line Kind = iota
	Arc
)

// Instruction is one emitted motion primitive, endpoint-relative. Center is
// only meaningful when Kind == Arc, and is expressed as an absolute point;
// callers emit it as an (I, J) offset from the current point.
type Instruction struct {
	Kind   Kind
	End    geom.Point
	Center geom.Point
	CCW    bool // true => G3 (counter-clockwise), false => G2
}

// FitQuadratic reduces a quadratic Bézier p0-c-p3 to a sequence of
// Instructions. p0 is the current point and is not itself emitted.
func FitQuadratic(p0, c, p3 geom.Point) []Instruction {
	return fitQuad(p0, c, p3, 0)
}

// FitCubic reduces a cubic Bézier p0-p1-p2-p3 to a sequence of
// Instructions. p0 is the current point and is not itself emitted.
func FitCubic(p0, p1, p2, p3 geom.Point) []Instruction {
	return fitCubic(p0, p1, p2, p3, 0)
}

func quadMidpoint(p0, c, p3 geom.Point) geom.Point {
	const t = 0.5
	mt := 1 - t
	return geom.Point{
		X: mt*mt*p0.X + 2*mt*t*c.X + t*t*p3.X,
		Y: mt*mt*p0.Y + 2*mt*t*c.Y + t*t*p3.Y,
	}
}

func cubicMidpoint(p0, p1, p2, p3 geom.Point) geom.Point {
	const t = 0.5
	mt := 1 - t
	mt2, mt3 := mt*mt, mt*mt*mt
	t2, t3 := t*t, t*t*t
	return geom.Point{
		X: mt3*p0.X + 3*mt2*t*p1.X + 3*mt*t2*p2.X + t3*p3.X,
		Y: mt3*p0.Y + 3*mt2*t*p1.Y + 3*mt*t2*p2.Y + t3*p3.Y,
	}
}

// circumcenter returns the circumcentre of the triangle (p0, p1, p2), or
// ok=false if the points are collinear.
func circumcenter(p0, p1, p2 geom.Point) (center geom.Point, ok bool) {
	d := 2.0 * (p0.X*(p1.Y-p2.Y) + p1.X*(p2.Y-p0.Y) + p2.X*(p0.Y-p1.Y))
	if math.Abs(d) < collinearDet {
		return geom.Point{}, false
	}
	p0sq := p0.X*p0.X + p0.Y*p0.Y
	p1sq := p1.X*p1.X + p1.Y*p1.Y
	p2sq := p2.X*p2.X + p2.Y*p2.Y
	ux := (p0sq*(p1.Y-p2.Y) + p1sq*(p2.Y-p0.Y) + p2sq*(p0.Y-p1.Y)) / d
	uy := (p0sq*(p2.X-p1.X) + p1sq*(p0.X-p2.X) + p2sq*(p1.X-p0.X)) / d
	return geom.Point{X: ux, Y: uy}, true
}

// cross2d is the 2-D cross product of (o->a) and (o->b).
func cross2d(o, a, b geom.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func dist(a, b geom.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func lineTo(p3 geom.Point) []Instruction {
	return []Instruction{{Kind: Line, End: p3}}
}

func arcOrSplit(p0, mid, p3 geom.Point, subdivide func() []Instruction) []Instruction {
	if dist(p0, p3) < degenerateLen {
		return nil
	}
	center, ok := circumcenter(p0, mid, p3)
	if !ok {
		return lineTo(p3)
	}
	radius := dist(p0, center)
	if radius < MinRadius {
		return lineTo(p3)
	}
	if math.Abs(dist(mid, center)-radius) > MaxArcErr {
		return subdivide()
	}
	ccw := cross2d(p0, mid, p3) > 0
	return []Instruction{{Kind: Arc, End: p3, Center: center, CCW: ccw}}
}

func fitQuad(p0, c, p3 geom.Point, depth int) []Instruction {
	mid := quadMidpoint(p0, c, p3)
	return arcOrSplit(p0, mid, p3, func() []Instruction {
		// De Casteljau split at t=0.5.
		q1 := midpoint(p0, c)
		q2 := midpoint(c, p3)
		split := midpoint(q1, q2)
		left := fitQuad(p0, q1, split, depth+1)
		right := fitQuad(split, q2, p3, depth+1)
		return append(left, right...)
	})
}

func fitCubic(p0, p1, p2, p3 geom.Point, depth int) []Instruction {
	mid := cubicMidpoint(p0, p1, p2, p3)
	return arcOrSplit(p0, mid, p3, func() []Instruction {
		// De Casteljau split at t=0.5.
		q1 := midpoint(p0, p1)
		r1 := midpoint(p1, p2)
		r2 := midpoint(p2, p3)
		q2 := midpoint(q1, r1)
		r0 := midpoint(r1, r2)
		split := midpoint(q2, r0)
		left := fitCubic(p0, q1, q2, split, depth+1)
		right := fitCubic(split, r0, r2, p3, depth+1)
		return append(left, right...)
	})
}

func midpoint(a, b geom.Point) geom.Point {
	return geom.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}
