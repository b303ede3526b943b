// Package physics implements the car model: acceleration, braking, turning,
// grip-limited lateral slip, drag, nitro, and collision response. Every
// function here is pure; the session loop owns all mutable state.
package physics

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/track"
)

// Input is one tick's worth of driver intent.
type Input struct {
	Accelerate bool `json:"accelerate"`
	Brake      bool `json:"brake"`
	TurnLeft   bool `json:"turn_left"`
	TurnRight  bool `json:"turn_right"`
	Nitro      bool `json:"nitro"`
}

// CarState is the full physical state of one car.
type CarState struct {
	Position        geom.Vec
	Velocity        geom.Vec
	Heading         float64 // radians, 0 = +X
	AngularVelocity float64

	IsDrifting bool
	DriftAngle float64 // signed angle between velocity and heading

	NitroCharges        int
	NitroActive         bool
	NitroRemainingTicks int

	Weight float64
}

// Speed returns the magnitude of the car's velocity.
func (s *CarState) Speed() float64 {
	return geom.Mag(s.Velocity)
}

// NewCar returns a stationary car at the given pose with full nitro.
func NewCar(cfg *config.PhysicsConfig, position geom.Vec, heading float64) CarState {
	return CarState{
		Position:     position,
		Heading:      heading,
		NitroCharges: cfg.DefaultNitroCharges,
		Weight:       cfg.DefaultCarWeight,
	}
}

// Engine evaluates the car model against one physics configuration.
type Engine struct {
	cfg *config.PhysicsConfig
}

func NewEngine(cfg *config.PhysicsConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Grip returns the grip coefficient for a surface.
func (e *Engine) Grip(s track.Surface) float64 {
	switch s {
	case track.SurfaceWet:
		return e.cfg.GripWet
	case track.SurfaceGravel:
		return e.cfg.GripGravel
	case track.SurfaceIce:
		return e.cfg.GripIce
	default:
		return e.cfg.GripAsphalt
	}
}

// OffTrackGrip applies the off-track penalty to a grip coefficient.
func (e *Engine) OffTrackGrip(grip float64) float64 {
	return grip * e.cfg.OffTrackGripMultiplier
}

// Below this speed the car is considered stopped; drag snaps it to zero so
// cars do not creep forever on residual velocity.
const stopSpeed = 0.1

// Step advances one car by dt seconds under the given input and grip.
func (e *Engine) Step(s CarState, in Input, grip, dt float64) CarState {
	p := e.cfg

	if in.Accelerate {
		s.Velocity = r2.Add(s.Velocity, r2.Scale(p.Acceleration*dt, geom.FromHeading(s.Heading)))
		maxSpeed := p.MaxSpeed
		if s.NitroActive {
			maxSpeed *= p.NitroSpeedMultiplier
		}
		if s.Speed() > maxSpeed {
			s.Velocity = r2.Scale(maxSpeed, geom.Unit(s.Velocity))
		}
	}

	if in.Brake {
		if speed := s.Speed(); speed > 0 {
			braked := math.Max(0, speed-p.BrakeForce*dt)
			s.Velocity = r2.Scale(braked, geom.Unit(s.Velocity))
		}
	}

	turnDir := 0.0
	switch {
	case in.TurnRight:
		turnDir = 1
	case in.TurnLeft:
		turnDir = -1
	}
	if turnDir != 0 {
		speed := s.Speed()
		speedFactor := 1.0
		if speed < p.MinTurnSpeed {
			speedFactor = speed / p.MinTurnSpeed
		}
		rate := p.TurnRate * turnDir * speedFactor
		s.Heading = geom.NormalizeAngle(s.Heading + rate*dt)
		s.AngularVelocity = rate
	} else {
		s.AngularVelocity = 0
	}

	s = e.applyGrip(s, grip, dt)
	s = e.applyDrag(s, dt)
	s = e.updateNitro(s, in.Nitro)

	s.Position = r2.Add(s.Position, r2.Scale(dt, s.Velocity))
	return s
}

// applyGrip splits velocity into forward and lateral components relative to
// the heading, decays the lateral part at the grip-scaled recovery rate, and
// flags a drift while the lateral share exceeds what the surface can hold.
// Drifting cars recover slip much slower, which is what lets a drift carry
// through a corner.
func (e *Engine) applyGrip(s CarState, grip, dt float64) CarState {
	p := e.cfg

	forward := geom.FromHeading(s.Heading)
	lateral := geom.Perpendicular(forward)

	vForward := r2.Dot(s.Velocity, forward)
	vLateral := r2.Dot(s.Velocity, lateral)
	speed := s.Speed()

	s.IsDrifting = speed > stopSpeed && math.Abs(vLateral) > grip*p.DriftThreshold*speed

	recovery := 1.0
	if s.IsDrifting {
		recovery = 0.3
	}
	decay := math.Max(0, 1-grip*recovery*p.DriftRecoveryRate*dt)
	vLateral *= decay

	s.Velocity = r2.Add(r2.Scale(vForward, forward), r2.Scale(vLateral, lateral))

	if s.Speed() > stopSpeed {
		s.DriftAngle = geom.NormalizeAngle(geom.Heading(s.Velocity) - s.Heading)
	} else {
		s.DriftAngle = 0
	}
	return s
}

func (e *Engine) applyDrag(s CarState, dt float64) CarState {
	speed := s.Speed()
	if speed < stopSpeed {
		s.Velocity = geom.Vec{}
		return s
	}

	dragged := speed - e.cfg.DragCoefficient*speed*dt
	if dragged < 0 {
		dragged = 0
	}
	s.Velocity = r2.Scale(dragged, geom.Unit(s.Velocity))
	return s
}

func (e *Engine) updateNitro(s CarState, requested bool) CarState {
	switch {
	case requested && !s.NitroActive && s.NitroCharges > 0:
		s.NitroCharges--
		s.NitroActive = true
		s.NitroRemainingTicks = e.cfg.NitroDurationTicks
	case s.NitroActive:
		s.NitroRemainingTicks--
		if s.NitroRemainingTicks <= 0 {
			s.NitroActive = false
			s.NitroRemainingTicks = 0
		}
	}
	return s
}
