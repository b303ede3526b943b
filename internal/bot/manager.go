// Package bot bridges the session engine and the sandbox: it decides when
// bots run, assembles their fog-of-war view of the world, and translates
// their actions back into player input.
package bot

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/monitoring"
	"github.com/coderally/coderally/internal/physics"
	"github.com/coderally/coderally/internal/raycast"
	"github.com/coderally/coderally/internal/sandbox"
	"github.com/coderally/coderally/internal/track"
)

// PlayerView is the slice of authoritative player state the manager needs.
// The session constructs these; bots never see the underlying player.
type PlayerView struct {
	ID                string
	Car               physics.CarState
	CurrentCheckpoint int
	Rank              int // 1-based race position, 0 if not yet ranked
	IsOffTrack        bool
	IsFinished        bool
	DNF               bool
}

// World is one bot tick's read-only view of a session.
type World struct {
	Track       *track.Track
	Caster      *raycast.Caster
	Players     []PlayerView
	ElapsedTime float64
}

// CollisionEvent describes an impact for the on_collision hook.
type CollisionEvent struct {
	OtherKind   string // car, boundary, or obstacle
	ImpactSpeed float64
	Direction   float64 // impact angle relative to the bot's heading
	OtherID     string  // other car's player id, empty otherwise
}

// Handle is one loaded bot program.
type Handle struct {
	inst *sandbox.Instance
}

// Manager runs bots at the configured cadence.
type Manager struct {
	cfg       *config.BotConfig
	carRadius float64
	cadence   uint64
}

// NewManager returns a manager. cadence is the number of physics ticks per
// bot tick.
func NewManager(cfg *config.BotConfig, phys *config.PhysicsConfig, cadence int) *Manager {
	return &Manager{cfg: cfg, carRadius: phys.CarRadius, cadence: uint64(cadence)}
}

// ShouldRun reports whether bots execute on this physics tick.
func (m *Manager) ShouldRun(tick uint64) bool {
	return tick%m.cadence == 0
}

// Load compiles and constructs a bot program under the configured limits.
func (m *Manager) Load(code, className string) (*Handle, error) {
	inst, err := sandbox.Load(code, className, sandbox.Limits{
		MaxCodeBytes: m.cfg.MaxCodeBytes,
		Timeout:      m.cfg.ExecutionTimeout,
		MaxSteps:     m.cfg.MaxSteps,
	})
	if err != nil {
		return nil, err
	}
	return &Handle{inst: inst}, nil
}

// Tick runs the bot's on_tick hook against a fresh world view and returns
// the input to apply next tick. A returned error is fatal to the bot: the
// caller marks it DNF. The bot's own runtime bugs are not fatal; they log
// and return the safe all-false input.
func (m *Manager) Tick(h *Handle, w *World, selfID string) (physics.Input, error) {
	state := m.buildGameState(w, selfID)

	actions, err := h.inst.OnTick(state)
	if err != nil {
		if sandbox.IsFatal(err) {
			return physics.Input{}, err
		}
		monitoring.Logf("bot %s on_tick error (continuing): %v", selfID, err)
		return physics.Input{}, nil
	}

	return physics.Input{
		Accelerate: actions.Accelerate,
		Brake:      actions.Brake,
		TurnLeft:   actions.TurnLeft,
		TurnRight:  actions.TurnRight,
		Nitro:      actions.UseNitro,
	}, nil
}

// NotifyCollision delivers an impact to the bot. Never fatal.
func (m *Manager) NotifyCollision(h *Handle, selfID string, ev CollisionEvent) {
	if err := h.inst.OnCollision(collisionValue(ev)); err != nil {
		monitoring.Logf("bot %s on_collision error (ignored): %v", selfID, err)
	}
}

// NotifyCheckpoint delivers a gate crossing to the bot. Never fatal.
func (m *Manager) NotifyCheckpoint(h *Handle, selfID string, index int, splitTime float64) {
	if err := h.inst.OnCheckpoint(index, splitTime); err != nil {
		monitoring.Logf("bot %s on_checkpoint error (ignored): %v", selfID, err)
	}
}

// NotifyFinish delivers the stage result to the bot. Never fatal.
func (m *Manager) NotifyFinish(h *Handle, selfID string, finishTime float64, finalPosition int) {
	if err := h.inst.OnFinish(finishTime, finalPosition); err != nil {
		monitoring.Logf("bot %s on_finish error (ignored): %v", selfID, err)
	}
}

// visibleOpponents applies fog of war: only opponents within the visibility
// radius are projected, and only their public motion state crosses the
// boundary.
func (m *Manager) visibleOpponents(w *World, self *PlayerView) []opponentView {
	var visible []opponentView
	for i := range w.Players {
		other := &w.Players[i]
		if other.ID == self.ID {
			continue
		}

		delta := r2.Sub(other.Car.Position, self.Car.Position)
		distance := geom.Mag(delta)
		if distance > m.cfg.VisibilityRadius {
			continue
		}

		visible = append(visible, opponentView{
			Position:      other.Car.Position,
			Velocity:      other.Car.Velocity,
			Heading:       other.Car.Heading,
			Distance:      distance,
			RelativeAngle: geom.NormalizeAngle(geom.Heading(delta) - self.Car.Heading),
		})
	}
	return visible
}

// opponentView is the full extent of what one car may learn about another.
type opponentView struct {
	Position      geom.Vec
	Velocity      geom.Vec
	Heading       float64
	Distance      float64
	RelativeAngle float64
}

// distanceToFinish estimates remaining distance: direct distance to the next
// gate plus a flat allowance per gate after that.
func distanceToFinish(w *World, self *PlayerView) float64 {
	total := len(w.Track.Checkpoints)
	if self.CurrentCheckpoint >= total {
		return 0
	}

	next := w.Track.Checkpoints[self.CurrentCheckpoint]
	distance := geom.Mag(r2.Sub(next.Position, self.Car.Position))
	distance += float64(total-self.CurrentCheckpoint-1) * 100.0
	return distance
}

func (m *Manager) castRays(w *World, self *PlayerView) [7]raycast.Result {
	targets := make([]raycast.Target, 0, len(w.Players)-1)
	for i := range w.Players {
		if w.Players[i].ID == self.ID {
			continue
		}
		targets = append(targets, raycast.Target{
			Position: w.Players[i].Car.Position,
			Radius:   m.carRadius,
		})
	}
	return w.Caster.CastAll(self.Car.Position, self.Car.Heading, targets)
}
