package bot

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/raycast"
	"github.com/coderally/coderally/internal/track"
)

// This file projects the authoritative world into Starlark values. The
// projection is the security boundary: everything a bot can observe is
// constructed here, field by field, and nothing else leaks across.

func makeStruct(fields starlark.StringDict) *starlarkstruct.Struct {
	return starlarkstruct.FromStringDict(starlarkstruct.Default, fields)
}

func pair(v geom.Vec) starlark.Tuple {
	return starlark.Tuple{starlark.Float(v.X), starlark.Float(v.Y)}
}

// buildGameState assembles the full on_tick argument for one bot.
func (m *Manager) buildGameState(w *World, selfID string) starlark.Value {
	var self *PlayerView
	for i := range w.Players {
		if w.Players[i].ID == selfID {
			self = &w.Players[i]
			break
		}
	}
	if self == nil {
		// Unknown caster: an empty state keeps the sandbox call total.
		return makeStruct(starlark.StringDict{})
	}

	rays := m.castRays(w, self)
	rayList := make([]starlark.Value, 0, len(rays))
	for _, r := range rays {
		hitType := starlark.Value(starlark.None)
		if r.HitType != raycast.HitNone {
			hitType = starlark.String(r.HitType)
		}
		rayList = append(rayList, makeStruct(starlark.StringDict{
			"distance": starlark.Float(r.Distance),
			"hit_type": hitType,
		}))
	}

	opponents := m.visibleOpponents(w, self)
	oppList := make([]starlark.Value, 0, len(opponents))
	for _, o := range opponents {
		oppList = append(oppList, makeStruct(starlark.StringDict{
			"position":       pair(o.Position),
			"velocity":       pair(o.Velocity),
			"heading":        starlark.Float(o.Heading),
			"distance":       starlark.Float(o.Distance),
			"relative_angle": starlark.Float(o.RelativeAngle),
		}))
	}

	checkpoints := make([]starlark.Value, 0, len(w.Track.Checkpoints))
	for _, cp := range w.Track.Checkpoints {
		checkpoints = append(checkpoints, pair(cp.Position))
	}

	car := makeStruct(starlark.StringDict{
		"position":         pair(self.Car.Position),
		"heading":          starlark.Float(self.Car.Heading),
		"speed":            starlark.Float(self.Car.Speed()),
		"velocity":         pair(self.Car.Velocity),
		"angular_velocity": starlark.Float(self.Car.AngularVelocity),
		"health":           starlark.Float(100.0),
		"nitro_charges":    starlark.MakeInt(self.Car.NitroCharges),
		"nitro_active":     starlark.Bool(self.Car.NitroActive),
		"current_surface":  starlark.String(string(w.Track.SurfaceAt(self.Car.Position))),
		"off_track":        starlark.Bool(self.IsOffTrack),
	})

	// Boundary distances and turn lookahead are fixed placeholders until the
	// sensors behind them exist.
	trackState := makeStruct(starlark.StringDict{
		"checkpoints":                starlark.NewList(checkpoints),
		"next_checkpoint":            starlark.MakeInt(self.CurrentCheckpoint),
		"distance_to_boundary_left":  starlark.Float(100.0),
		"distance_to_boundary_right": starlark.Float(100.0),
		"upcoming_surface":           starlark.String(string(track.SurfaceAsphalt)),
		"upcoming_turn":              starlark.String("straight"),
		"turn_sharpness":             starlark.Float(0.0),
	})

	rank := self.Rank
	if rank == 0 {
		rank = len(w.Players)
	}
	race := makeStruct(starlark.StringDict{
		"current_checkpoint": starlark.MakeInt(self.CurrentCheckpoint),
		"total_checkpoints":  starlark.MakeInt(len(w.Track.Checkpoints)),
		"position":           starlark.MakeInt(rank),
		"total_cars":         starlark.MakeInt(len(w.Players)),
		"elapsed_time":       starlark.Float(w.ElapsedTime),
		"distance_to_finish": starlark.Float(distanceToFinish(w, self)),
	})

	return makeStruct(starlark.StringDict{
		"car":       car,
		"track":     trackState,
		"rays":      starlark.NewList(rayList),
		"opponents": starlark.NewList(oppList),
		"race":      race,
	})
}

func collisionValue(ev CollisionEvent) starlark.Value {
	otherID := starlark.Value(starlark.None)
	if ev.OtherID != "" {
		otherID = starlark.String(ev.OtherID)
	}
	return makeStruct(starlark.StringDict{
		"other_type":   starlark.String(ev.OtherKind),
		"impact_speed": starlark.Float(ev.ImpactSpeed),
		"direction":    starlark.Float(ev.Direction),
		"other_id":     otherID,
	})
}
