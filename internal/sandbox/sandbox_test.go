package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.starlark.net/starlark"
)

func testLimits() Limits {
	return Limits{
		MaxCodeBytes: 100 * 1024,
		Timeout:      50 * time.Millisecond,
		MaxSteps:     500_000,
	}
}

const structBot = `
def Racer():
    def on_tick(state):
        return {"accelerate": True, "turn_left": state["turn"]}

    def on_checkpoint(index, split_time):
        memory["last_checkpoint"] = index

    return struct(on_tick = on_tick, on_checkpoint = on_checkpoint)
`

func tickState(turn bool) starlark.Value {
	d := starlark.NewDict(1)
	_ = d.SetKey(starlark.String("turn"), starlark.Bool(turn))
	return d
}

func TestLoadAndTick(t *testing.T) {
	inst, err := Load(structBot, "Racer", testLimits())
	require.NoError(t, err)

	actions, err := inst.OnTick(tickState(true))
	require.NoError(t, err)
	assert.True(t, actions.Accelerate)
	assert.True(t, actions.TurnLeft)
	assert.False(t, actions.Brake)
	assert.False(t, actions.UseNitro)
}

func TestDictBot(t *testing.T) {
	code := `
def Racer():
    return {"on_tick": lambda state: {"brake": True}}
`
	inst, err := Load(code, "Racer", testLimits())
	require.NoError(t, err)

	actions, err := inst.OnTick(starlark.None)
	require.NoError(t, err)
	assert.True(t, actions.Brake)
}

func TestMemoryPersistsAcrossCalls(t *testing.T) {
	code := `
def Racer():
    def on_tick(state):
        memory["ticks"] = memory.get("ticks", 0) + 1
        return {"accelerate": memory["ticks"] > 1}

    return struct(on_tick = on_tick)
`
	inst, err := Load(code, "Racer", testLimits())
	require.NoError(t, err)

	first, err := inst.OnTick(starlark.None)
	require.NoError(t, err)
	assert.False(t, first.Accelerate)

	second, err := inst.OnTick(starlark.None)
	require.NoError(t, err)
	assert.True(t, second.Accelerate)
}

func TestOptionalHooks(t *testing.T) {
	inst, err := Load(structBot, "Racer", testLimits())
	require.NoError(t, err)

	// on_collision and on_finish are absent: both are no-ops
	assert.NoError(t, inst.OnCollision(starlark.None))
	assert.NoError(t, inst.OnFinish(42.5, 1))

	// on_checkpoint exists and writes to memory
	require.NoError(t, inst.OnCheckpoint(3, 12.25))
	v, found, err := inst.memory.Get(starlark.String("last_checkpoint"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, starlark.MakeInt(3), v)
}

func TestMathModuleAvailable(t *testing.T) {
	code := `
def Racer():
    def on_tick(state):
        return {"accelerate": math.atan2(1, 1) < math.pi}

    return struct(on_tick = on_tick)
`
	inst, err := Load(code, "Racer", testLimits())
	require.NoError(t, err)

	actions, err := inst.OnTick(starlark.None)
	require.NoError(t, err)
	assert.True(t, actions.Accelerate)
}

func TestLoadRejections(t *testing.T) {
	tests := []struct {
		name string
		code string
		cls  string
	}{
		{"syntax error", "def Racer(:\n    pass", "Racer"},
		{"missing class", "x = 1", "Racer"},
		{"class not callable", "Racer = 42", "Racer"},
		{"no on_tick", "def Racer():\n    return struct()", "Racer"},
		{"empty class name", structBot, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.code, tt.cls, testLimits())
			require.Error(t, err)

			var serr *Error
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, ErrValidation, serr.Kind)
		})
	}
}

func TestLoadRejectsOversizedProgram(t *testing.T) {
	limits := testLimits()
	limits.MaxCodeBytes = 16

	_, err := Load(structBot, "Racer", limits)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrValidation, serr.Kind)
	assert.False(t, IsFatal(err))
}

func TestInfiniteLoopIsFatal(t *testing.T) {
	code := `
def Racer():
    def on_tick(state):
        while True:
            pass

    return struct(on_tick = on_tick)
`
	inst, err := Load(code, "Racer", testLimits())
	require.NoError(t, err)

	_, err = inst.OnTick(starlark.None)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestStepBudgetIsFatal(t *testing.T) {
	code := `
def Racer():
    def on_tick(state):
        total = 0
        for i in range(1000000):
            total += i
        return {"accelerate": True}

    return struct(on_tick = on_tick)
`
	limits := testLimits()
	limits.MaxSteps = 10_000
	limits.Timeout = 10 * time.Second // only the step budget should trip

	inst, err := Load(code, "Racer", limits)
	require.NoError(t, err)

	_, err = inst.OnTick(starlark.None)
	require.Error(t, err)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrMemory, serr.Kind)
	assert.True(t, IsFatal(err))
}

func TestBotRuntimeErrorIsNotFatal(t *testing.T) {
	code := `
def Racer():
    def on_tick(state):
        fail("my bot has a bug")

    return struct(on_tick = on_tick)
`
	inst, err := Load(code, "Racer", testLimits())
	require.NoError(t, err)

	actions, err := inst.OnTick(starlark.None)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Equal(t, Actions{}, actions)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrRuntime, serr.Kind)
}

func TestNonMappingReturnYieldsSafeDefault(t *testing.T) {
	code := `
def Racer():
    def on_tick(state):
        return 7

    return struct(on_tick = on_tick)
`
	inst, err := Load(code, "Racer", testLimits())
	require.NoError(t, err)

	actions, err := inst.OnTick(starlark.None)
	require.NoError(t, err)
	assert.Equal(t, Actions{}, actions)
}

func TestConstructorErrorIsValidation(t *testing.T) {
	code := `
def Racer():
    fail("boom")
`
	_, err := Load(code, "Racer", testLimits())
	require.Error(t, err)

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, ErrValidation, serr.Kind)
	assert.NotNil(t, serr.Err)
}

func TestInfiniteLoopAtTopLevelFailsLoad(t *testing.T) {
	code := `
while True:
    pass
`
	limits := testLimits()
	limits.Timeout = 20 * time.Millisecond
	limits.MaxSteps = 1 << 40

	start := time.Now()
	_, err := Load(code, "Racer", limits)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Less(t, elapsed, 5*time.Second)
}
