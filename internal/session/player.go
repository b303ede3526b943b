package session

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/bot"
	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/physics"
	"github.com/coderally/coderally/internal/track"
)

// Player is one participant's full race state. Owned by the engine; all
// access goes through the engine's lock.
type Player struct {
	ID       string
	Username string

	Car   physics.CarState
	Input physics.Input

	// Position at the start of the current tick, for checkpoint line
	// crossing tests.
	prevPosition geom.Vec

	CurrentCheckpoint int
	CheckpointsPassed map[int]struct{}
	SplitTimes        []float64

	IsFinished bool
	FinishTime *float64 // seconds since race start
	IsOffTrack bool

	// Rank is the 1-based race position, 0 while unranked or DNF.
	Rank   int
	Points int
	DNF    bool

	IsBot    bool
	BotError string
	handle   *bot.Handle
}

func newPlayer(id, username string, car physics.CarState) *Player {
	return &Player{
		ID:                id,
		Username:          username,
		Car:               car,
		CheckpointsPassed: make(map[int]struct{}),
	}
}

// resetForRace puts the player back on the start line with a fresh race
// record. Bot errors deliberately survive a restart: a program that broke
// once is not trusted again within the session.
func (p *Player) resetForRace(car physics.CarState) {
	p.Car = car
	p.Input = physics.Input{}
	p.CurrentCheckpoint = 0
	p.CheckpointsPassed = make(map[int]struct{})
	p.SplitTimes = nil
	p.IsFinished = false
	p.FinishTime = nil
	p.IsOffTrack = false
	p.Rank = 0
	p.Points = 0
	p.DNF = false
}

// progress is the continuous ranking metric for players still racing:
// gates passed dominate, distance to the next gate breaks ties.
func (p *Player) progress(trk *track.Track) float64 {
	metric := 1000 * float64(p.CurrentCheckpoint)
	if p.CurrentCheckpoint < len(trk.Checkpoints) {
		next := trk.Checkpoints[p.CurrentCheckpoint]
		metric -= geom.Mag(r2.Sub(next.Position, p.Car.Position))
	}
	return metric
}
