// Package raycast implements the seven-ray distance sensor bots use to see
// walls, obstacles, and other cars.
package raycast

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/track"
)

// Hit classifications reported to bots.
const (
	HitNone     = ""
	HitBoundary = "boundary"
	HitObstacle = "obstacle"
	HitCar      = "car"
)

// Angles holds the ray directions relative to the car heading:
// forward, 30/60/90 degrees right, then 60/30/90 degrees left. The order is
// part of the bot API and must not change.
var Angles = [7]float64{
	0,
	-math.Pi / 6,
	-math.Pi / 3,
	-math.Pi / 2,
	math.Pi / 3,
	math.Pi / 6,
	math.Pi / 2,
}

// Result is a single ray's outcome. Distance equals the caster's max range
// when nothing was hit.
type Result struct {
	Distance    float64     `json:"distance"`
	HitType     string      `json:"hit_type"`
	HitPosition *[2]float64 `json:"hit_position"`
}

// Target is a circular collider for the ray test (another car).
type Target struct {
	Position geom.Vec
	Radius   float64
}

// Caster casts rays against one track's static geometry.
type Caster struct {
	maxRange float64
	track    *track.Track
}

// NewCaster returns a caster bound to the given track.
func NewCaster(trk *track.Track, maxRange float64) *Caster {
	return &Caster{maxRange: maxRange, track: trk}
}

// CastAll casts all seven rays from origin at the given heading. Targets are
// the other cars; the caller excludes the casting car itself.
func (c *Caster) CastAll(origin geom.Vec, heading float64, targets []Target) [7]Result {
	var results [7]Result
	for i, offset := range Angles {
		results[i] = c.cast(origin, geom.FromHeading(heading+offset), targets)
	}
	return results
}

func (c *Caster) cast(origin, dir geom.Vec, targets []Target) Result {
	best := Result{Distance: c.maxRange, HitType: HitNone}

	if cont := c.track.Containment; cont != nil {
		for _, wall := range [][]geom.Vec{cont.Left, cont.Right} {
			for i := 1; i < len(wall); i++ {
				if d, ok := raySegment(origin, dir, wall[i-1], wall[i], c.maxRange); ok && d < best.Distance {
					best = c.hit(origin, dir, d, HitBoundary)
				}
			}
		}
	}

	for i := range c.track.Obstacles {
		obs := &c.track.Obstacles[i]
		if d, ok := rayCircle(origin, dir, obs.Position, obs.Radius, c.maxRange); ok && d < best.Distance {
			best = c.hit(origin, dir, d, HitObstacle)
		}
	}

	for _, target := range targets {
		if d, ok := rayCircle(origin, dir, target.Position, target.Radius, c.maxRange); ok && d < best.Distance {
			best = c.hit(origin, dir, d, HitCar)
		}
	}

	return best
}

func (c *Caster) hit(origin, dir geom.Vec, distance float64, hitType string) Result {
	p := r2.Add(origin, r2.Scale(distance, dir))
	pos := [2]float64{p.X, p.Y}
	return Result{Distance: distance, HitType: hitType, HitPosition: &pos}
}

// raySegment solves origin + t*dir = a + s*(b-a) with the 2D cross product.
// Parallel rays never hit.
func raySegment(origin, dir, a, b geom.Vec, maxRange float64) (float64, bool) {
	segDir := r2.Sub(b, a)
	diff := r2.Sub(a, origin)

	denom := dir.X*segDir.Y - dir.Y*segDir.X
	if math.Abs(denom) < 1e-10 {
		return 0, false
	}

	t := (diff.X*segDir.Y - diff.Y*segDir.X) / denom
	s := (diff.X*dir.Y - diff.Y*dir.X) / denom

	if t >= 0 && s >= 0 && s <= 1 && t <= maxRange {
		return t, true
	}
	return 0, false
}

// rayCircle finds the near intersection of a ray with a circle via
// projection plus half-chord length.
func rayCircle(origin, dir, center geom.Vec, radius, maxRange float64) (float64, bool) {
	toCenter := r2.Sub(center, origin)
	proj := r2.Dot(toCenter, dir)
	if proj < 0 {
		return 0, false
	}

	closest := r2.Add(origin, r2.Scale(proj, dir))
	distToRay := geom.Mag(r2.Sub(center, closest))
	if distToRay > radius {
		return 0, false
	}

	halfChord := math.Sqrt(radius*radius - distToRay*distToRay)
	d := proj - halfChord
	if d < 0 || d > maxRange {
		return 0, false
	}
	return d, true
}
