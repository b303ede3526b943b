package bot

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderally/coderally/internal/config"
	"github.com/coderally/coderally/internal/geom"
	"github.com/coderally/coderally/internal/physics"
	"github.com/coderally/coderally/internal/raycast"
	"github.com/coderally/coderally/internal/track"
)

func testManager(t *testing.T) (*Manager, *config.Config) {
	t.Helper()
	cfg := config.Default()
	return NewManager(&cfg.Bot, &cfg.Physics, cfg.BotCadence()), cfg
}

func testWorld(cfg *config.Config, players ...PlayerView) *World {
	trk := track.Generate(&cfg.Game, 1, track.DifficultyEasy)
	return &World{
		Track:   trk,
		Caster:  raycast.NewCaster(trk, cfg.Bot.RaycastRange),
		Players: players,
	}
}

func carAt(cfg *config.Config, x, y float64) physics.CarState {
	return physics.NewCar(&cfg.Physics, geom.V(x, y), 0)
}

func TestShouldRunCadence(t *testing.T) {
	m, _ := testManager(t)

	// 60Hz physics, 20Hz bots: every third tick
	assert.True(t, m.ShouldRun(0))
	assert.False(t, m.ShouldRun(1))
	assert.False(t, m.ShouldRun(2))
	assert.True(t, m.ShouldRun(3))
	assert.True(t, m.ShouldRun(60))
}

func TestFogOfWar(t *testing.T) {
	m, cfg := testManager(t)

	w := testWorld(cfg,
		PlayerView{ID: "a", Car: carAt(cfg, 0, 0)},
		PlayerView{ID: "b", Car: carAt(cfg, 100, 0)},
		PlayerView{ID: "c", Car: carAt(cfg, 400, 0)},
	)

	// a at x=0 sees b at 100, not c at 400 (radius 300)
	visible := m.visibleOpponents(w, &w.Players[0])
	require.Len(t, visible, 1)
	assert.Equal(t, 100.0, visible[0].Distance)
	assert.Equal(t, geom.V(100, 0), visible[0].Position)

	// b at x=100 sees both: a at 100, c at 300 (inclusive boundary)
	visible = m.visibleOpponents(w, &w.Players[1])
	assert.Len(t, visible, 2)

	// c at x=400 sees only b
	visible = m.visibleOpponents(w, &w.Players[2])
	require.Len(t, visible, 1)
	assert.Equal(t, geom.V(100, 0), visible[0].Position)
}

func TestFogOfWarRelativeAngle(t *testing.T) {
	m, cfg := testManager(t)

	self := PlayerView{ID: "a", Car: carAt(cfg, 0, 0)}
	self.Car.Heading = math.Pi / 2 // facing north
	w := testWorld(cfg,
		self,
		PlayerView{ID: "b", Car: carAt(cfg, 100, 0)}, // due east
	)

	visible := m.visibleOpponents(w, &w.Players[0])
	require.Len(t, visible, 1)
	// east is 90 degrees clockwise of north
	assert.InDelta(t, -math.Pi/2, visible[0].RelativeAngle, 1e-9)
}

func TestTickRunsTemplateBot(t *testing.T) {
	m, cfg := testManager(t)

	var navigator *Template
	for _, tpl := range Templates() {
		if tpl.Name == "checkpoint_navigator" {
			tpl := tpl
			navigator = &tpl
		}
	}
	require.NotNil(t, navigator)

	h, err := m.Load(navigator.Code, navigator.ClassName)
	require.NoError(t, err)

	w := testWorld(cfg, PlayerView{ID: "a", Car: carAt(cfg, 0, 0)})
	w.Players[0].Car.Position = w.Track.StartPosition
	w.Players[0].Car.Heading = w.Track.StartHeading

	input, err := m.Tick(h, w, "a")
	require.NoError(t, err)

	// pointed down the track at the first gate: it should floor it
	assert.True(t, input.Accelerate)
}

func TestTickFatalErrorPropagates(t *testing.T) {
	m, cfg := testManager(t)

	h, err := m.Load(`
def Spinner():
    def on_tick(state):
        while True:
            pass
    return struct(on_tick = on_tick)
`, "Spinner")
	require.NoError(t, err)

	w := testWorld(cfg, PlayerView{ID: "a", Car: carAt(cfg, 0, 0)})
	_, err = m.Tick(h, w, "a")
	assert.Error(t, err)
}

func TestTickBotBugYieldsSafeDefault(t *testing.T) {
	m, cfg := testManager(t)

	h, err := m.Load(`
def Buggy():
    def on_tick(state):
        fail("oops")
    return struct(on_tick = on_tick)
`, "Buggy")
	require.NoError(t, err)

	w := testWorld(cfg, PlayerView{ID: "a", Car: carAt(cfg, 0, 0)})
	input, err := m.Tick(h, w, "a")

	require.NoError(t, err)
	assert.Equal(t, physics.Input{}, input)
}

func TestNotifyCallbacksNeverFatal(t *testing.T) {
	m, _ := testManager(t)

	h, err := m.Load(`
def Fragile():
    def on_tick(state):
        return {}
    def on_collision(event):
        fail("collision handler bug")
    def on_finish(finish_time, final_position):
        fail("finish handler bug")
    return struct(on_tick = on_tick, on_collision = on_collision, on_finish = on_finish)
`, "Fragile")
	require.NoError(t, err)

	// neither callback error panics or propagates
	m.NotifyCollision(h, "a", CollisionEvent{OtherKind: "car", ImpactSpeed: 50, OtherID: "b"})
	m.NotifyCheckpoint(h, "a", 2, 13.5)
	m.NotifyFinish(h, "a", 61.2, 3)
}

func TestDistanceToFinish(t *testing.T) {
	_, cfg := testManager(t)
	w := testWorld(cfg, PlayerView{ID: "a", Car: carAt(cfg, 0, 0)})

	self := &w.Players[0]
	total := len(w.Track.Checkpoints)

	// finished player has nothing left
	self.CurrentCheckpoint = total
	assert.Zero(t, distanceToFinish(w, self))

	// one gate left: the direct distance only
	self.CurrentCheckpoint = total - 1
	last := w.Track.Checkpoints[total-1]
	direct := geom.Mag(geom.V(last.Position.X-self.Car.Position.X, last.Position.Y-self.Car.Position.Y))
	assert.InDelta(t, direct, distanceToFinish(w, self), 1e-9)

	// earlier gates add the flat per-gate allowance
	self.CurrentCheckpoint = total - 2
	assert.Greater(t, distanceToFinish(w, self), 100.0)
}

func TestTemplatesAreLoadable(t *testing.T) {
	m, _ := testManager(t)

	templates := Templates()
	require.NotEmpty(t, templates)

	for _, tpl := range templates {
		t.Run(tpl.Name, func(t *testing.T) {
			_, err := m.Load(tpl.Code, tpl.ClassName)
			assert.NoError(t, err)
		})
	}
}
