package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robofit/arcor2-sub003/internal/control"
	"github.com/robofit/arcor2-sub003/internal/events"
)

// ExecutorOptions configures action instrumentation for one run.
type ExecutorOptions struct {
	// Emitter receives ActionStateBefore/After events. Nil disables them.
	Emitter Emitter
	// State receives pause/resume transitions. Nil disables pausing.
	State *StateMachine
	// Control yields pause, resume and step commands.
	Control control.Source
	// ActionIDs maps action names to project action ids.
	ActionIDs   map[string]string
	Breakpoints []string
	StartPaused bool
	Logger      *slog.Logger
}

// Executor instruments action calls of one run: it reports outermost
// calls, suppresses calls made from composite actions and pauses at
// action boundaries.
type Executor struct {
	emitter     Emitter
	state       *StateMachine
	commands    <-chan control.Command
	actionIDs   map[string]string
	breakpoints map[string]struct{}
	logger      *slog.Logger

	mu          sync.Mutex
	pauseOnNext bool
	instances   map[string]*Instance
}

func NewExecutor(opts ExecutorOptions) *Executor {
	e := &Executor{
		emitter:     opts.Emitter,
		state:       opts.State,
		actionIDs:   opts.ActionIDs,
		breakpoints: make(map[string]struct{}, len(opts.Breakpoints)),
		logger:      opts.Logger,
		pauseOnNext: opts.StartPaused,
		instances:   make(map[string]*Instance),
	}
	if opts.Control != nil {
		e.commands = opts.Control.Commands()
	}
	for _, id := range opts.Breakpoints {
		e.breakpoints[id] = struct{}{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Instance is a runtime object bound to its type descriptor. All action
// calls go through Invoke.
type Instance struct {
	obj  Object
	name string
	desc *Descriptor
	exec *Executor
}

// NewInstance binds obj to desc and registers it with the executor.
func (e *Executor) NewInstance(obj Object, name string, desc *Descriptor) *Instance {
	inst := &Instance{obj: obj, name: name, desc: desc, exec: e}
	e.mu.Lock()
	e.instances[obj.ID()] = inst
	e.mu.Unlock()
	return inst
}

func (e *Executor) instance(id string) (*Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.instances[id]
	return inst, ok
}

func (i *Instance) ID() string { return i.obj.ID() }
func (i *Instance) Name() string { return i.name }
func (i *Instance) Type() string { return i.desc.Name }
func (i *Instance) Object() Object { return i.obj }
func (i *Instance) Capability() Capability { return i.desc.Capability }

// Invocation is one action call.
type Invocation struct {
	Method string
	// ActionName is the project action name; it selects the action id
	// reported in events. Nested calls must leave it empty.
	ActionName string
	Args       Args
}

// Call invokes method with call-site arguments.
func (i *Instance) Call(ctx context.Context, method string, args ...any) (any, error) {
	return i.Invoke(ctx, Invocation{Method: method, Args: NewArgs(args...)})
}

type frameKey struct{}

// frame is the outermost action being executed. It lives in the context
// of the call, so concurrent scripts do not share it.
type frame struct {
	inst      *Instance
	method    string
	composite bool
}

func outerFrame(ctx context.Context) (*frame, bool) {
	f, ok := ctx.Value(frameKey{}).(*frame)
	return f, ok
}

// Invoke runs one action. The outermost call emits ActionStateBefore,
// waits at the pause checkpoint, runs the action and, on success, emits
// ActionStateAfter. Calls made from inside a composite action run
// directly without events or pausing.
func (i *Instance) Invoke(ctx context.Context, inv Invocation) (any, error) {
	def, ok := i.desc.Action(inv.Method)
	if !ok {
		return nil, fmt.Errorf("object %s (%s) has no action %s", i.ID(), i.Type(), inv.Method)
	}

	if outer, nested := outerFrame(ctx); nested {
		if inv.ActionName != "" {
			return nil, fmt.Errorf("inner action %s/%s must not have a name", i.ID(), inv.Method)
		}
		if !outer.composite {
			i.exec.logger.Warn("nested action called from an action not marked composite",
				"action", i.ID()+"/"+inv.Method, "outer", outer.inst.ID()+"/"+outer.method)
		}
		return def.Fn(ctx, i.obj, inv.Args)
	}

	var actionID string
	if inv.ActionName != "" {
		id, ok := i.exec.actionIDs[inv.ActionName]
		if !ok {
			return nil, fmt.Errorf("mapping from action name to id is missing key %s", inv.ActionName)
		}
		actionID = id
	}

	i.exec.before(i, inv, def, actionID)
	if err := i.exec.checkpoint(ctx, inv.Args); err != nil {
		return nil, err
	}

	res, err := def.Fn(context.WithValue(ctx, frameKey{}, &frame{inst: i, method: inv.Method, composite: def.Composite}), i.obj, inv.Args)
	if err != nil {
		return res, err
	}
	i.exec.after(i, inv, actionID, res)
	return res, nil
}

// Call invokes method on the object whose action is currently running.
// It is meant for composite actions calling their own sub-actions.
func Call(ctx context.Context, method string, args ...any) (any, error) {
	f, ok := outerFrame(ctx)
	if !ok {
		return nil, fmt.Errorf("runtime.Call %s outside of an action", method)
	}
	return f.inst.Call(ctx, method, args...)
}

// CallObject invokes method on another object of the same run from
// inside a composite action.
func CallObject(ctx context.Context, objectID, method string, args ...any) (any, error) {
	f, ok := outerFrame(ctx)
	if !ok {
		return nil, fmt.Errorf("runtime.CallObject %s/%s outside of an action", objectID, method)
	}
	inst, ok := f.inst.exec.instance(objectID)
	if !ok {
		return nil, fmt.Errorf("unknown object %s", objectID)
	}
	return inst.Call(ctx, method, args...)
}

// before and after report an action. Telemetry problems are logged and
// never change the outcome of the action.
func (e *Executor) before(i *Instance, inv Invocation, def ActionDef, actionID string) {
	if e.emitter == nil {
		return
	}
	params, named, err := inv.Args.encode()
	if err != nil {
		e.logger.Warn("parameters encoded lossily", "action", i.ID()+"/"+inv.Method, "error", err)
	}
	if err := e.emitter.Emit(events.ActionStateBefore, events.ActionStateBeforeData{
		ActionID:        actionID,
		ObjectID:        i.ID(),
		ActionName:      inv.Method,
		Parameters:      params,
		NamedParameters: named,
		Blocking:        def.Blocking,
	}); err != nil {
		e.logger.Error("failed to emit action start", "action", i.ID()+"/"+inv.Method, "error", err)
	}
}

func (e *Executor) after(i *Instance, inv Invocation, actionID string, res any) {
	if e.emitter == nil {
		return
	}
	results, err := encodeResults(res)
	if err != nil {
		e.logger.Warn("results encoded lossily", "action", i.ID()+"/"+inv.Method, "error", err)
	}
	if err := e.emitter.Emit(events.ActionStateAfter, events.ActionStateAfterData{
		ActionID:   actionID,
		ObjectID:   i.ID(),
		ActionName: inv.Method,
		Results:    results,
	}); err != nil {
		e.logger.Error("failed to emit action end", "action", i.ID()+"/"+inv.Method, "error", err)
	}
}

// checkpoint pauses before an action when a pause was requested, a step
// is pending or the action uses a breakpointed action point. It returns
// when resumed or when ctx is done.
func (e *Executor) checkpoint(ctx context.Context, args Args) error {
	if e.state == nil {
		return nil
	}

	e.mu.Lock()
	pause := e.pauseOnNext
	e.pauseOnNext = false
	e.mu.Unlock()

	if !pause {
		pause = e.hitsBreakpoint(args)
	}
	if !pause {
		select {
		case cmd := <-e.commands:
			pause = cmd == control.Pause
		default:
		}
	}
	if !pause {
		return nil
	}

	if err := e.state.Transition(StatePausing); err != nil {
		return err
	}
	if err := e.state.Transition(StatePaused); err != nil {
		return err
	}
	e.logger.Info("package paused")

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case cmd := <-e.commands:
			if cmd != control.Resume && cmd != control.Step {
				continue
			}
			e.mu.Lock()
			e.pauseOnNext = cmd == control.Step
			e.mu.Unlock()

			if err := e.state.Transition(StateResuming); err != nil {
				return err
			}
			if err := e.state.Transition(StateRunning); err != nil {
				return err
			}
			e.logger.Info("package resumed", "step", cmd == control.Step)
			return nil
		}
	}
}

func (e *Executor) hitsBreakpoint(args Args) bool {
	if len(e.breakpoints) == 0 {
		return false
	}
	for _, id := range args.ActionPoints() {
		if _, ok := e.breakpoints[id]; ok {
			return true
		}
	}
	return false
}
