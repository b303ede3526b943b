package physics

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/track"
)

// ResolveCarCollision checks one car pair and, if they overlap, applies an
// impulse along the contact normal plus a mass-weighted separation so cars
// never interpenetrate. Returns true when the pair touched this tick.
//
// The impulse only fires above the minimum impact speed; gentle rubbing
// while racing side by side separates without a bounce.
func (e *Engine) ResolveCarCollision(a, b *CarState) bool {
	p := e.cfg

	delta := r2.Sub(b.Position, a.Position)
	distance := geom.Mag(delta)
	contact := 2 * p.CarRadius
	if distance >= contact {
		return false
	}

	normal := geom.V(1, 0)
	if distance > 0.001 {
		normal = r2.Scale(1/distance, delta)
	}
	penetration := contact - distance

	relative := r2.Sub(a.Velocity, b.Velocity)
	approach := r2.Dot(relative, normal)

	if approach > p.CollisionMinSpeed {
		// j = -(1+e) * v_rel·n / (1/m1 + 1/m2)
		impulse := (-(1 + p.CollisionElasticity) * approach) / (1/a.Weight + 1/b.Weight)
		a.Velocity = r2.Add(a.Velocity, r2.Scale(impulse/a.Weight, normal))
		b.Velocity = r2.Sub(b.Velocity, r2.Scale(impulse/b.Weight, normal))
	}

	// Lighter car gets pushed further.
	totalMass := a.Weight + b.Weight
	a.Position = r2.Sub(a.Position, r2.Scale(penetration*b.Weight/totalMass, normal))
	b.Position = r2.Add(b.Position, r2.Scale(penetration*a.Weight/totalMass, normal))
	return true
}

// collideCircle bounces the car off a circular collider and pushes it out of
// penetration. The bounce only applies while moving into the collider.
func (e *Engine) collideCircle(s *CarState, center geom.Vec, radius float64) bool {
	delta := r2.Sub(s.Position, center)
	distance := geom.Mag(delta)
	contact := e.cfg.CarRadius + radius
	if distance >= contact {
		return false
	}

	normal := geom.V(1, 0)
	if distance > 0 {
		normal = r2.Scale(1/distance, delta)
	}

	if vn := r2.Dot(s.Velocity, normal); vn < 0 {
		s.Velocity = r2.Add(s.Velocity, r2.Scale(-(1+e.cfg.CollisionElasticity)*vn, normal))
	}
	s.Position = r2.Add(s.Position, r2.Scale(contact-distance, normal))
	return true
}

// ResolveObstacleCollisions bounces the car off any overlapping obstacle.
func (e *Engine) ResolveObstacleCollisions(s *CarState, obstacles []track.Obstacle) bool {
	hit := false
	for i := range obstacles {
		if e.collideCircle(s, obstacles[i].Position, obstacles[i].Radius) {
			hit = true
		}
	}
	return hit
}

// ResolveBoundaryCollisions bounces the car off the containment walls.
func (e *Engine) ResolveBoundaryCollisions(s *CarState, c *track.Containment) bool {
	if c == nil {
		return false
	}
	hit := false
	for _, wall := range [][]geom.Vec{c.Left, c.Right} {
		for i := 1; i < len(wall); i++ {
			if e.collideWallSegment(s, wall[i-1], wall[i]) {
				hit = true
			}
		}
	}
	return hit
}

func (e *Engine) collideWallSegment(s *CarState, a, b geom.Vec) bool {
	closest := geom.ClosestPointOnSegment(s.Position, a, b)
	delta := r2.Sub(s.Position, closest)
	distance := geom.Mag(delta)
	if distance >= e.cfg.CarRadius {
		return false
	}

	var normal geom.Vec
	if distance > 0 {
		normal = r2.Scale(1/distance, delta)
	} else {
		// Exactly on the wall; fall back to the segment perpendicular.
		seg := r2.Sub(b, a)
		normal = geom.Unit(geom.Perpendicular(seg))
		if normal == (geom.Vec{}) {
			normal = geom.V(1, 0)
		}
	}

	if vn := r2.Dot(s.Velocity, normal); vn < 0 {
		s.Velocity = r2.Add(s.Velocity, r2.Scale(-(1+e.cfg.CollisionElasticity)*vn, normal))
	}
	s.Position = r2.Add(s.Position, r2.Scale(e.cfg.CarRadius-distance, normal))
	return true
}
