// Package track defines the rally stage model: centerline segments with
// surfaces and widths, ordered checkpoints, containment walls, and off-road
// obstacles. Stages are point-to-point, never loops.
package track

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/geom"
)

// Surface identifies the grip class of a stretch of track.
type Surface string

const (
	SurfaceAsphalt Surface = "asphalt"
	SurfaceWet     Surface = "wet"
	SurfaceGravel  Surface = "gravel"
	SurfaceIce     Surface = "ice"
)

// Difficulty selects how winding a generated stage is.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty maps a user-supplied string onto a Difficulty, defaulting
// to medium for anything unrecognized.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return Difficulty(s)
	default:
		return DifficultyMedium
	}
}

// Point is a position on the track centerline with the track width there.
type Point struct {
	Position geom.Vec
	Width    float64
}

// Segment is one stretch of centerline between two points. Curved segments
// carry two cubic bezier control points; straight segments carry none.
type Segment struct {
	Start    Point
	End      Point
	Surface  Surface
	Control1 *geom.Vec
	Control2 *geom.Vec

	samples []geom.Vec
}

// IsStraight reports whether the segment is a straight line.
func (s *Segment) IsStraight() bool {
	return s.Control1 == nil && s.Control2 == nil
}

// PointAt evaluates the segment centerline at parameter t in [0,1].
func (s *Segment) PointAt(t float64) geom.Vec {
	if s.IsStraight() {
		return r2.Add(s.Start.Position, r2.Scale(t, r2.Sub(s.End.Position, s.Start.Position)))
	}
	return geom.BezierPoint(t, s.Start.Position, *s.Control1, *s.Control2, s.End.Position)
}

// TangentAt estimates the centerline direction at parameter t.
func (s *Segment) TangentAt(t float64) float64 {
	if s.IsStraight() {
		return geom.Heading(r2.Sub(s.End.Position, s.Start.Position))
	}
	lo := math.Max(0, t-0.01)
	hi := math.Min(1, t+0.01)
	return geom.Heading(r2.Sub(s.PointAt(hi), s.PointAt(lo)))
}

// Straight segments need few samples; bezier segments need more to keep the
// polyline approximation close to the curve.
const (
	straightSamples = 5
	curveSamples    = 20
)

// Samples returns the segment's cached centerline polyline.
func (s *Segment) Samples() []geom.Vec {
	if s.samples == nil {
		n := straightSamples
		if !s.IsStraight() {
			n = curveSamples
		}
		s.samples = make([]geom.Vec, n+1)
		for i := 0; i <= n; i++ {
			s.samples[i] = s.PointAt(float64(i) / float64(n))
		}
	}
	return s.samples
}

// Length returns the approximate centerline length of the segment.
func (s *Segment) Length() float64 {
	samples := s.Samples()
	total := 0.0
	for i := 1; i < len(samples); i++ {
		total += geom.Mag(r2.Sub(samples[i], samples[i-1]))
	}
	return total
}

// Checkpoint is a gate across the track that cars must cross in order. The
// gate line runs perpendicular to Angle, centered on Position, spanning
// Width. The last checkpoint of a stage is the finish line.
type Checkpoint struct {
	Index    int
	Position geom.Vec
	Angle    float64 // track tangent at the gate, radians
	Width    float64
}

// Line returns the two endpoints of the gate line.
func (c Checkpoint) Line() (geom.Vec, geom.Vec) {
	perp := geom.Perpendicular(geom.FromHeading(c.Angle))
	half := r2.Scale(c.Width/2, perp)
	return r2.Add(c.Position, half), r2.Sub(c.Position, half)
}

// Crossed reports whether a car moving from one position to the next passed
// through the gate in the forward direction. Reverse crossings do not count.
func (c Checkpoint) Crossed(from, to geom.Vec) bool {
	a, b := c.Line()
	if !geom.SegmentsIntersect(from, to, a, b) {
		return false
	}
	movement := r2.Sub(to, from)
	forward := geom.FromHeading(c.Angle)
	return r2.Dot(movement, forward) > 0
}

// Obstacle is a circular collider placed in the off-road area.
type Obstacle struct {
	Position geom.Vec
	Radius   float64
	Kind     string // rock, tree, or building
}

// Containment holds the outer walls cars bounce off, as two open polylines
// running alongside the stage.
type Containment struct {
	Left  []geom.Vec
	Right []geom.Vec
}

// Track is a complete generated rally stage.
type Track struct {
	Seed        int64
	Difficulty  Difficulty
	Segments    []Segment
	Checkpoints []Checkpoint
	Obstacles   []Obstacle
	Containment *Containment

	StartPosition  geom.Vec
	StartHeading   float64
	FinishPosition geom.Vec
	FinishHeading  float64
	TotalLength    float64
}

// nearestSegment returns the segment whose sampled centerline is closest to
// p, along with the distance to it.
func (t *Track) nearestSegment(p geom.Vec) (*Segment, float64) {
	var nearest *Segment
	best := math.Inf(1)
	for i := range t.Segments {
		seg := &t.Segments[i]
		samples := seg.Samples()
		for j := 1; j < len(samples); j++ {
			d := geom.DistanceToSegment(p, samples[j-1], samples[j])
			if d < best {
				best = d
				nearest = seg
			}
		}
	}
	return nearest, best
}

// SurfaceAt returns the surface under p. Positions off the track report the
// surface of the nearest segment; callers combine this with IsOffTrack.
func (t *Track) SurfaceAt(p geom.Vec) Surface {
	seg, _ := t.nearestSegment(p)
	if seg == nil {
		return SurfaceAsphalt
	}
	return seg.Surface
}

// IsOffTrack reports whether p lies outside the drivable width of the stage.
func (t *Track) IsOffTrack(p geom.Vec) bool {
	seg, dist := t.nearestSegment(p)
	if seg == nil {
		return true
	}
	return dist > seg.Start.Width/2
}

// DistanceToCenterline returns the distance from p to the nearest point of
// the sampled centerline.
func (t *Track) DistanceToCenterline(p geom.Vec) float64 {
	_, dist := t.nearestSegment(p)
	return dist
}

// FinishLine returns the final checkpoint.
func (t *Track) FinishLine() Checkpoint {
	return t.Checkpoints[len(t.Checkpoints)-1]
}
