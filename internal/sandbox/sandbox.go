// Package sandbox executes untrusted bot programs under hard CPU and time
// bounds.
//
// Bot programs are Starlark. A program defines a top-level constructor
// function named after the requested class; calling it returns the bot
// instance, a struct or dict exposing the hook functions on_tick,
// on_collision, on_checkpoint, and on_finish. The environment exposes only a
// math module, the struct constructor, and a per-bot `memory` dict that
// persists across calls; there is no load(), no I/O, and no access to host
// state.
//
// Every evaluation runs under a wall-clock watchdog that cancels the
// interpreter, plus an execution-step budget. The step budget doubles as the
// memory bound: Starlark cannot allocate without executing, so capping steps
// caps allocation growth. That makes the memory limit best-effort rather
// than a byte-exact cap.
package sandbox

import (
	"fmt"
	"strings"
	"time"

	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/coderally/coderally/internal/monitoring"
)

// Limits bounds a single bot program.
type Limits struct {
	MaxCodeBytes int
	Timeout      time.Duration
	MaxSteps     uint64
}

// Actions is the decoded result of an on_tick call.
type Actions struct {
	Accelerate bool
	Brake      bool
	TurnLeft   bool
	TurnRight  bool
	UseNitro   bool
}

const timeoutReason = "execution timeout"

// Instance is one loaded, constructed bot. Instances are not safe for
// concurrent use; the session loop serializes all calls to a bot.
type Instance struct {
	limits      Limits
	memory      *starlark.Dict
	predeclared starlark.StringDict

	onTick       starlark.Callable
	onCollision  starlark.Callable
	onCheckpoint starlark.Callable
	onFinish     starlark.Callable
}

// Starlark dialect for bot code: loops, set literals, and top-level control
// flow are all allowed; the sandbox bounds them by steps and wall clock.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Load compiles a bot program, runs its top level, and constructs the named
// class, all under the configured bounds.
func Load(code, className string, limits Limits) (*Instance, error) {
	if len(code) > limits.MaxCodeBytes {
		return nil, newError(ErrValidation, fmt.Sprintf("program is %d bytes, limit %d", len(code), limits.MaxCodeBytes), nil)
	}
	if className == "" {
		return nil, newError(ErrValidation, "class name is empty", nil)
	}

	inst := &Instance{
		limits: limits,
		memory: starlark.NewDict(8),
	}
	inst.predeclared = starlark.StringDict{
		"math":   math.Module,
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"memory": inst.memory,
	}

	thread := inst.newThread()
	stop := inst.watchdog(thread)
	globals, err := starlark.ExecFileOptions(fileOptions, thread, "bot.star", code, inst.predeclared)
	stop()
	if err != nil {
		return nil, classifyLoad(err)
	}

	ctor, ok := globals[className]
	if !ok {
		return nil, newError(ErrValidation, fmt.Sprintf("program does not define %q", className), nil)
	}
	callable, ok := ctor.(starlark.Callable)
	if !ok {
		return nil, newError(ErrValidation, fmt.Sprintf("%q is not callable", className), nil)
	}

	bot, err := inst.call(callable, nil)
	if err != nil {
		if IsFatal(err) {
			return nil, err
		}
		return nil, newError(ErrValidation, fmt.Sprintf("constructing %q failed", className), err)
	}

	inst.onTick = hookOf(bot, "on_tick")
	inst.onCollision = hookOf(bot, "on_collision")
	inst.onCheckpoint = hookOf(bot, "on_checkpoint")
	inst.onFinish = hookOf(bot, "on_finish")

	if inst.onTick == nil {
		return nil, newError(ErrValidation, fmt.Sprintf("%q does not provide an on_tick hook", className), nil)
	}
	return inst, nil
}

// OnTick invokes the bot's driving hook. A fatal error means the bot must be
// retired; any other error is the bot's own bug and comes back alongside the
// safe all-false actions.
func (in *Instance) OnTick(state starlark.Value) (Actions, error) {
	result, err := in.call(in.onTick, starlark.Tuple{state})
	if err != nil {
		return Actions{}, err
	}
	return decodeActions(result), nil
}

// OnCollision notifies the bot of an impact. Optional hook.
func (in *Instance) OnCollision(event starlark.Value) error {
	if in.onCollision == nil {
		return nil
	}
	_, err := in.call(in.onCollision, starlark.Tuple{event})
	return err
}

// OnCheckpoint notifies the bot it crossed a gate. Optional hook.
func (in *Instance) OnCheckpoint(index int, splitTime float64) error {
	if in.onCheckpoint == nil {
		return nil
	}
	_, err := in.call(in.onCheckpoint, starlark.Tuple{
		starlark.MakeInt(index),
		starlark.Float(splitTime),
	})
	return err
}

// OnFinish notifies the bot it finished the stage. Optional hook.
func (in *Instance) OnFinish(finishTime float64, finalPosition int) error {
	if in.onFinish == nil {
		return nil
	}
	_, err := in.call(in.onFinish, starlark.Tuple{
		starlark.Float(finishTime),
		starlark.MakeInt(finalPosition),
	})
	return err
}

func (in *Instance) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Name: "bot",
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load(%q): module loading is disabled", module)
		},
		Print: func(_ *starlark.Thread, msg string) {
			monitoring.Logf("bot: %s", msg)
		},
	}
	thread.SetMaxExecutionSteps(in.limits.MaxSteps)
	return thread
}

// watchdog arms a wall-clock cancel on the thread and returns the disarm
// function.
func (in *Instance) watchdog(thread *starlark.Thread) func() {
	timer := time.AfterFunc(in.limits.Timeout, func() {
		thread.Cancel(timeoutReason)
	})
	return func() { timer.Stop() }
}

func (in *Instance) call(fn starlark.Callable, args starlark.Tuple) (starlark.Value, error) {
	thread := in.newThread()
	stop := in.watchdog(thread)
	defer stop()

	result, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, classifyCall(err)
	}
	return result, nil
}

// hookOf pulls a named callable off the constructed bot, whether the bot is
// a struct or a plain dict. Missing or non-callable hooks are simply absent.
func hookOf(bot starlark.Value, name string) starlark.Callable {
	switch obj := bot.(type) {
	case *starlark.Dict:
		v, found, err := obj.Get(starlark.String(name))
		if err != nil || !found {
			return nil
		}
		if c, ok := v.(starlark.Callable); ok {
			return c
		}
	case starlark.HasAttrs:
		v, err := obj.Attr(name)
		if err != nil || v == nil {
			return nil
		}
		if c, ok := v.(starlark.Callable); ok {
			return c
		}
	}
	return nil
}

// decodeActions converts whatever on_tick returned into action flags. A
// return value that is not a mapping yields the safe default.
func decodeActions(v starlark.Value) Actions {
	flag := func(name string) bool {
		switch obj := v.(type) {
		case *starlark.Dict:
			val, found, err := obj.Get(starlark.String(name))
			if err != nil || !found {
				return false
			}
			return bool(val.Truth())
		case starlark.HasAttrs:
			val, err := obj.Attr(name)
			if err != nil || val == nil {
				return false
			}
			return bool(val.Truth())
		default:
			return false
		}
	}

	return Actions{
		Accelerate: flag("accelerate"),
		Brake:      flag("brake"),
		TurnLeft:   flag("turn_left"),
		TurnRight:  flag("turn_right"),
		UseNitro:   flag("use_nitro"),
	}
}

func classifyLoad(err error) error {
	if classified := classifyCancellation(err); classified != nil {
		return classified
	}
	return newError(ErrValidation, "program failed to load", err)
}

func classifyCall(err error) error {
	if classified := classifyCancellation(err); classified != nil {
		return classified
	}
	if strings.Contains(err.Error(), "module loading is disabled") {
		return newError(ErrSecurity, "bot attempted to load a module", err)
	}
	return newError(ErrRuntime, "bot raised an error", err)
}

// classifyCancellation maps interpreter cancellation onto the bound that
// tripped it: the wall-clock watchdog or the step budget.
func classifyCancellation(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, timeoutReason):
		return newError(ErrTimeout, "bot exceeded its time budget", err)
	case strings.Contains(msg, "too many steps"):
		return newError(ErrMemory, "bot exceeded its execution budget", err)
	}
	return nil
}
