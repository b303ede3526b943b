// Package geom provides the 2D vector and segment primitives shared by the
// track model, physics step, and raycaster.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Vec is a 2D vector. It aliases the gonum r2 type so callers can use the
// r2 operations (Add, Sub, Scale, Dot) directly.
type Vec = r2.Vec

// V is shorthand for constructing a Vec.
func V(x, y float64) Vec {
	return Vec{X: x, Y: y}
}

// Mag returns the length of v.
func Mag(v Vec) float64 {
	return math.Hypot(v.X, v.Y)
}

// Unit returns v scaled to length 1, or the zero vector if v is zero.
// gonum's r2.Unit returns NaN components for the zero vector, which would
// poison every downstream computation in the physics step.
func Unit(v Vec) Vec {
	m := Mag(v)
	if m == 0 {
		return Vec{}
	}
	return r2.Scale(1/m, v)
}

// FromHeading returns the unit vector pointing along the given heading,
// measured in radians from the +X axis.
func FromHeading(heading float64) Vec {
	return Vec{X: math.Cos(heading), Y: math.Sin(heading)}
}

// Heading returns the angle of v in radians from the +X axis.
func Heading(v Vec) float64 {
	return math.Atan2(v.Y, v.X)
}

// NormalizeAngle wraps a into (-pi, pi].
func NormalizeAngle(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Perpendicular returns v rotated 90 degrees counterclockwise.
func Perpendicular(v Vec) Vec {
	return Vec{X: -v.Y, Y: v.X}
}

// ClosestPointOnSegment returns the point on segment [a,b] nearest to p.
func ClosestPointOnSegment(p, a, b Vec) Vec {
	ab := r2.Sub(b, a)
	lenSq := ab.X*ab.X + ab.Y*ab.Y
	if lenSq == 0 {
		return a
	}
	t := r2.Dot(r2.Sub(p, a), ab) / lenSq
	t = math.Max(0, math.Min(1, t))
	return r2.Add(a, r2.Scale(t, ab))
}

// DistanceToSegment returns the distance from p to segment [a,b].
func DistanceToSegment(p, a, b Vec) float64 {
	return Mag(r2.Sub(p, ClosestPointOnSegment(p, a, b)))
}

func ccw(a, b, c Vec) bool {
	return (c.Y-a.Y)*(b.X-a.X) > (b.Y-a.Y)*(c.X-a.X)
}

// SegmentsIntersect reports whether segments [a,b] and [c,d] cross. It uses
// the counterclockwise orientation test, which treats exactly-collinear
// overlap as a non-crossing; at 60Hz a car never sits exactly on a line for
// two consecutive ticks, so that case does not matter in practice.
func SegmentsIntersect(a, b, c, d Vec) bool {
	return ccw(a, c, d) != ccw(b, c, d) && ccw(a, b, c) != ccw(a, b, d)
}

// BezierPoint evaluates a cubic bezier at parameter t in [0,1] with
// endpoints p0, p3 and control points p1, p2.
func BezierPoint(t float64, p0, p1, p2, p3 Vec) Vec {
	u := 1 - t
	b0 := u * u * u
	b1 := 3 * u * u * t
	b2 := 3 * u * t * t
	b3 := t * t * t
	return Vec{
		X: b0*p0.X + b1*p1.X + b2*p2.X + b3*p3.X,
		Y: b0*p0.Y + b1*p1.Y + b2*p2.Y + b3*p3.Y,
	}
}
