// Package session implements the authoritative race loop: one engine per
// session advances physics at a fixed tick rate, runs bots at their slower
// cadence, resolves collisions and checkpoints, and publishes an immutable
// snapshot after every tick. The registry and broadcaster fan those
// snapshots out to connected clients.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/coderally/coderally/internal/bot"
	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/monitoring"
	"github.com/coderally/coderally/internal/physics"
	"github.com/coderally/coderally/internal/raycast"
	"github.com/coderally/coderally/internal/track"
)

// Status is the race state machine.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusRacing    Status = "racing"
	StatusFinished  Status = "finished"
)

// Engine owns all mutable state for one session. Every mutation happens
// under mu; readers get consistent state through the published snapshot.
type Engine struct {
	cfg    *config.Config
	track  *track.Track
	phys   *physics.Engine
	bots   *bot.Manager
	caster *raycast.Caster

	mu      sync.Mutex
	players map[string]*Player
	order   []string // join order, for stable iteration

	tick    uint64
	status  Status
	elapsed float64 // seconds of racing so far, accumulated per tick

	countdownRemaining float64
	graceRemaining     float64
	startTime          *float64 // unix seconds, stamped when racing begins
	finishTime         *float64 // elapsed seconds at finalization
	firstFinisherTime  *float64 // elapsed seconds of the first finisher

	snapshot atomic.Pointer[Snapshot]
}

// NewEngine returns a waiting engine for the given stage.
func NewEngine(cfg *config.Config, trk *track.Track, bots *bot.Manager) *Engine {
	e := &Engine{
		cfg:     cfg,
		track:   trk,
		phys:    physics.NewEngine(&cfg.Physics),
		bots:    bots,
		caster:  raycast.NewCaster(trk, cfg.Bot.RaycastRange),
		players: make(map[string]*Player),
		status:  StatusWaiting,
	}
	e.publishSnapshot()
	return e
}

// Track returns the stage this session races on. The track is immutable
// after generation.
func (e *Engine) Track() *track.Track {
	return e.track
}

// AddPlayer adds a human participant on the start line.
func (e *Engine) AddPlayer(id, username string) error {
	return e.addPlayer(newPlayer(id, username, e.startCar()))
}

// AddBot adds a sandboxed participant driving the given loaded program.
func (e *Engine) AddBot(id, username string, h *bot.Handle) error {
	p := newPlayer(id, username, e.startCar())
	p.IsBot = true
	p.handle = h
	return e.addPlayer(p)
}

func (e *Engine) addPlayer(p *Player) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.players[p.ID]; ok {
		return fmt.Errorf("player %q already in session", p.ID)
	}
	if len(e.players) >= e.cfg.Game.MaxCars {
		return fmt.Errorf("session full (%d cars)", e.cfg.Game.MaxCars)
	}

	e.players[p.ID] = p
	e.order = append(e.order, p.ID)
	e.publishSnapshot()
	return nil
}

// RemovePlayer drops a participant. Safe to call with an unknown id.
func (e *Engine) RemovePlayer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.players[id]; !ok {
		return
	}
	delete(e.players, id)
	for i, other := range e.order {
		if other == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.publishSnapshot()
}

// SetInput replaces a player's input slot. The new input is observed no
// later than the next tick.
func (e *Engine) SetInput(id string, in physics.Input) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.players[id]; ok && !p.DNF {
		p.Input = in
	}
}

// PlayerCount reports the current number of participants.
func (e *Engine) PlayerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

// StartRace begins the countdown. Valid from Waiting or Finished with at
// least one participant; reports whether the transition happened. On a
// restart every player is reset to the start line.
func (e *Engine) StartRace() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == StatusCountdown || e.status == StatusRacing {
		return false
	}
	if len(e.players) == 0 {
		return false
	}

	e.status = StatusCountdown
	e.countdownRemaining = e.cfg.Game.CountdownSeconds
	e.graceRemaining = 0
	e.elapsed = 0
	e.startTime = nil
	e.finishTime = nil
	e.firstFinisherTime = nil

	for _, p := range e.players {
		p.resetForRace(e.startCar())
	}

	e.publishSnapshot()
	return true
}

// Run drives the tick loop until the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick advances the simulation by one fixed step.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick++
	dt := 1.0 / float64(e.cfg.Game.TickRate)

	e.advanceStatus(dt)

	if e.status == StatusRacing {
		e.elapsed += dt

		if e.bots.ShouldRun(e.tick) {
			e.runBots()
		}
		e.stepPhysics(dt)
		e.resolveObstacleCollisions()
		e.resolveBoundaryCollisions()
		e.resolveCarCollisions()
		e.crossCheckpoints()
		e.detectFinishes()
		e.recomputeRanks()
	}

	e.publishSnapshot()
}

func (e *Engine) startCar() physics.CarState {
	return physics.NewCar(&e.cfg.Physics, e.track.StartPosition, e.track.StartHeading)
}

func (e *Engine) advanceStatus(dt float64) {
	switch e.status {
	case StatusCountdown:
		e.countdownRemaining -= dt
		if e.countdownRemaining <= 0 {
			e.countdownRemaining = 0
			e.status = StatusRacing
			now := float64(time.Now().UnixNano()) / float64(time.Second)
			e.startTime = &now
		}

	case StatusRacing:
		if e.firstFinisherTime == nil {
			return
		}
		e.graceRemaining -= dt
		if e.graceRemaining <= 0 {
			e.graceRemaining = 0
			for _, p := range e.players {
				if !p.IsFinished {
					p.DNF = true
				}
			}
			e.finalize()
		}
	}
}

// runBots asks every live bot for its next input. A fatal sandbox error
// disqualifies the bot; its own logic errors were already absorbed by the
// manager.
func (e *Engine) runBots() {
	world := e.buildWorld()

	for _, id := range e.order {
		p := e.players[id]
		if !p.IsBot || p.IsFinished || p.DNF || p.BotError != "" {
			continue
		}

		input, err := e.bots.Tick(p.handle, world, p.ID)
		if err != nil {
			monitoring.Logf("bot %s disqualified: %v", p.ID, err)
			p.BotError = err.Error()
			p.DNF = true
			p.Input = physics.Input{}
			continue
		}
		p.Input = input
	}
}

// buildWorld projects the players into the read-only view bots tick
// against. Built once per bot tick and shared by every bot.
func (e *Engine) buildWorld() *bot.World {
	views := make([]bot.PlayerView, 0, len(e.players))
	for _, id := range e.order {
		p := e.players[id]
		views = append(views, bot.PlayerView{
			ID:                p.ID,
			Car:               p.Car,
			CurrentCheckpoint: p.CurrentCheckpoint,
			Rank:              p.Rank,
			IsOffTrack:        p.IsOffTrack,
			IsFinished:        p.IsFinished,
			DNF:               p.DNF,
		})
	}
	return &bot.World{
		Track:       e.track,
		Caster:      e.caster,
		Players:     views,
		ElapsedTime: e.elapsed,
	}
}

func (e *Engine) stepPhysics(dt float64) {
	for _, id := range e.order {
		p := e.players[id]
		if p.IsFinished {
			continue
		}

		p.prevPosition = p.Car.Position

		grip := e.phys.Grip(e.track.SurfaceAt(p.Car.Position))
		p.IsOffTrack = e.track.IsOffTrack(p.Car.Position)
		if p.IsOffTrack {
			grip = e.phys.OffTrackGrip(grip)
		}

		p.Car = e.phys.Step(p.Car, p.Input, grip, dt)
	}
}

func (e *Engine) resolveObstacleCollisions() {
	for _, id := range e.order {
		p := e.players[id]
		if p.IsFinished {
			continue
		}
		speed := p.Car.Speed()
		if e.phys.ResolveObstacleCollisions(&p.Car, e.track.Obstacles) && p.IsBot && p.BotError == "" {
			e.bots.NotifyCollision(p.handle, p.ID, bot.CollisionEvent{
				OtherKind:   "obstacle",
				ImpactSpeed: speed,
			})
		}
	}
}

func (e *Engine) resolveBoundaryCollisions() {
	for _, id := range e.order {
		p := e.players[id]
		if p.IsFinished {
			continue
		}
		speed := p.Car.Speed()
		if e.phys.ResolveBoundaryCollisions(&p.Car, e.track.Containment) && p.IsBot && p.BotError == "" {
			e.bots.NotifyCollision(p.handle, p.ID, bot.CollisionEvent{
				OtherKind:   "boundary",
				ImpactSpeed: speed,
			})
		}
	}
}

func (e *Engine) resolveCarCollisions() {
	for i := 0; i < len(e.order); i++ {
		a := e.players[e.order[i]]
		if a.IsFinished || a.DNF {
			continue
		}
		for j := i + 1; j < len(e.order); j++ {
			b := e.players[e.order[j]]
			if b.IsFinished || b.DNF {
				continue
			}

			relative := r2.Sub(a.Car.Velocity, b.Car.Velocity)
			impact := geom.Mag(relative)
			if !e.phys.ResolveCarCollision(&a.Car, &b.Car) {
				continue
			}

			e.notifyCarContact(a, b, impact)
			e.notifyCarContact(b, a, impact)
		}
	}
}

func (e *Engine) notifyCarContact(self, other *Player, impact float64) {
	if !self.IsBot || self.BotError != "" {
		return
	}
	delta := r2.Sub(other.Car.Position, self.Car.Position)
	e.bots.NotifyCollision(self.handle, self.ID, bot.CollisionEvent{
		OtherKind:   "car",
		ImpactSpeed: impact,
		Direction:   geom.NormalizeAngle(geom.Heading(delta) - self.Car.Heading),
		OtherID:     other.ID,
	})
}

// crossCheckpoints tests each player's tick movement against the next gate
// line. Gates only count in order and only when crossed forward.
func (e *Engine) crossCheckpoints() {
	for _, id := range e.order {
		p := e.players[id]
		if p.IsFinished || p.CurrentCheckpoint >= len(e.track.Checkpoints) {
			continue
		}

		gate := e.track.Checkpoints[p.CurrentCheckpoint]
		if !gate.Crossed(p.prevPosition, p.Car.Position) {
			continue
		}

		p.CheckpointsPassed[gate.Index] = struct{}{}
		p.CurrentCheckpoint++
		p.SplitTimes = append(p.SplitTimes, e.elapsed)

		if p.IsBot && p.BotError == "" {
			e.bots.NotifyCheckpoint(p.handle, p.ID, gate.Index, e.elapsed)
		}
	}
}

func (e *Engine) detectFinishes() {
	var finishers []*Player
	for _, id := range e.order {
		p := e.players[id]
		if p.IsFinished || p.CurrentCheckpoint < len(e.track.Checkpoints) {
			continue
		}

		p.IsFinished = true
		ft := e.elapsed
		p.FinishTime = &ft

		if e.firstFinisherTime == nil {
			e.firstFinisherTime = &ft
			e.graceRemaining = e.cfg.Game.FinishGracePeriod
		}
		finishers = append(finishers, p)
	}

	if len(finishers) > 0 {
		// Rank before the on_finish callbacks so they see a position.
		e.recomputeRanks()
		for _, p := range finishers {
			if p.IsBot && p.BotError == "" {
				e.bots.NotifyFinish(p.handle, p.ID, *p.FinishTime, p.Rank)
			}
		}
	}

	if e.allDone() {
		e.finalize()
	}
}

func (e *Engine) allDone() bool {
	for _, p := range e.players {
		if !p.IsFinished && !p.DNF {
			return false
		}
	}
	return len(e.players) > 0
}

// recomputeRanks orders finishers by finish time, then the field by race
// progress. DNF players hold no position.
func (e *Engine) recomputeRanks() {
	var finished, racing []*Player
	for _, id := range e.order {
		p := e.players[id]
		switch {
		case p.IsFinished:
			finished = append(finished, p)
		case p.DNF:
			p.Rank = 0
		default:
			racing = append(racing, p)
		}
	}

	sort.SliceStable(finished, func(i, j int) bool {
		return *finished[i].FinishTime < *finished[j].FinishTime
	})
	sort.SliceStable(racing, func(i, j int) bool {
		return racing[i].progress(e.track) > racing[j].progress(e.track)
	})

	rank := 1
	for _, p := range finished {
		p.Rank = rank
		rank++
	}
	for _, p := range racing {
		p.Rank = rank
		rank++
	}
}

// finalize closes out the race: final ranks, points from the scoring
// table, status Finished.
func (e *Engine) finalize() {
	e.recomputeRanks()

	table := e.cfg.Race.PointsByPosition
	for _, p := range e.players {
		if p.DNF || p.Rank == 0 || p.Rank > len(table) {
			p.Points = 0
			continue
		}
		p.Points = table[p.Rank-1]
	}

	ft := e.elapsed
	e.finishTime = &ft
	e.status = StatusFinished
}
