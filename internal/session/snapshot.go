package session

// Snapshot is the immutable per-tick game state published by the engine
// and broadcast to clients. The JSON shape is the wire format.
type Snapshot struct {
	Tick     uint64                    `json:"tick"`
	RaceInfo RaceInfo                  `json:"race_info"`
	Players  map[string]PlayerSnapshot `json:"players"`
}

// RaceInfo is the race-level portion of a snapshot. Times other than
// StartTime are seconds since the race began.
type RaceInfo struct {
	Status               Status   `json:"status"`
	StartTime            *float64 `json:"start_time"` // unix seconds
	CountdownRemaining   float64  `json:"countdown_remaining"`
	FinishTime           *float64 `json:"finish_time"`
	FirstFinisherTime    *float64 `json:"first_finisher_time"`
	GracePeriodRemaining float64  `json:"grace_period_remaining"`
}

// XY is a point or vector on the wire.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CarSnapshot is one car's physical state on the wire.
type CarSnapshot struct {
	Position            XY      `json:"position"`
	Velocity            XY      `json:"velocity"`
	Heading             float64 `json:"heading"`
	AngularVelocity     float64 `json:"angular_velocity"`
	IsDrifting          bool    `json:"is_drifting"`
	DriftAngle          float64 `json:"drift_angle"`
	NitroCharges        int     `json:"nitro_charges"`
	NitroActive         bool    `json:"nitro_active"`
	NitroRemainingTicks int     `json:"nitro_remaining_ticks"`
}

// PlayerSnapshot is one participant's race state on the wire.
type PlayerSnapshot struct {
	PlayerID          string      `json:"player_id"`
	Username          string      `json:"username"`
	Car               CarSnapshot `json:"car"`
	CurrentCheckpoint int         `json:"current_checkpoint"`
	SplitTimes        []float64   `json:"split_times"`
	IsFinished        bool        `json:"is_finished"`
	FinishTime        *float64    `json:"finish_time"`
	IsOffTrack        bool        `json:"is_off_track"`
	Position          *int        `json:"position"`
	Points            int         `json:"points"`
	DNF               bool        `json:"dnf"`
	IsBot             bool        `json:"is_bot"`
	BotError          string      `json:"bot_error,omitempty"`
}

// Snapshot returns the most recently published state. Never nil.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// publishSnapshot captures the current state into a fresh immutable value.
// Called with e.mu held at the end of every mutation.
func (e *Engine) publishSnapshot() {
	snap := &Snapshot{
		Tick: e.tick,
		RaceInfo: RaceInfo{
			Status:               e.status,
			StartTime:            copyFloat(e.startTime),
			CountdownRemaining:   e.countdownRemaining,
			FinishTime:           copyFloat(e.finishTime),
			FirstFinisherTime:    copyFloat(e.firstFinisherTime),
			GracePeriodRemaining: e.graceRemaining,
		},
		Players: make(map[string]PlayerSnapshot, len(e.players)),
	}

	for id, p := range e.players {
		ps := PlayerSnapshot{
			PlayerID: p.ID,
			Username: p.Username,
			Car: CarSnapshot{
				Position:            XY{p.Car.Position.X, p.Car.Position.Y},
				Velocity:            XY{p.Car.Velocity.X, p.Car.Velocity.Y},
				Heading:             p.Car.Heading,
				AngularVelocity:     p.Car.AngularVelocity,
				IsDrifting:          p.Car.IsDrifting,
				DriftAngle:          p.Car.DriftAngle,
				NitroCharges:        p.Car.NitroCharges,
				NitroActive:         p.Car.NitroActive,
				NitroRemainingTicks: p.Car.NitroRemainingTicks,
			},
			CurrentCheckpoint: p.CurrentCheckpoint,
			SplitTimes:        append([]float64(nil), p.SplitTimes...),
			IsFinished:        p.IsFinished,
			FinishTime:        copyFloat(p.FinishTime),
			IsOffTrack:        p.IsOffTrack,
			Points:            p.Points,
			DNF:               p.DNF,
			IsBot:             p.IsBot,
			BotError:          p.BotError,
		}
		if p.Rank > 0 && !p.DNF {
			rank := p.Rank
			ps.Position = &rank
		}
		snap.Players[id] = ps
	}

	e.snapshot.Store(snap)
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
