package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

type recordedEvent struct {
	Name string
	Data any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) Emit(name string, data any) error {
	if err := events.Validate(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{Name: name, Data: data})
	return nil
}

func (r *recordingEmitter) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

func (r *recordingEmitter) named(name string) []recordedEvent {
	var out []recordedEvent
	for _, e := range r.all() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingEmitter) states() []string {
	var out []string
	for _, e := range r.named(events.PackageState) {
		out = append(out, e.Data.(events.PackageStateData).State)
	}
	return out
}

// actionEvents returns "BEFORE obj/action" and "AFTER obj/action" entries.
func (r *recordingEmitter) actionEvents() []string {
	var out []string
	for _, e := range r.all() {
		switch d := e.Data.(type) {
		case events.ActionStateBeforeData:
			out = append(out, "BEFORE "+d.ObjectID+"/"+d.ActionName)
		case events.ActionStateAfterData:
			out = append(out, "AFTER "+d.ObjectID+"/"+d.ActionName)
		}
	}
	return out
}

type fakeObject struct {
	id       string
	args     ConstructArgs
	cleanups atomic.Int32
	cleanErr error
	calls    []string
	mu       sync.Mutex
}

func (f *fakeObject) ID() string { return f.id }

func (f *fakeObject) Cleanup(ctx context.Context) error {
	f.cleanups.Add(1)
	return f.cleanErr
}

func (f *fakeObject) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeObject) record(method string) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()
}

// fakeFactory builds fakeObjects and remembers them by id. Objects whose
// id is in fail fail to construct.
type fakeFactory struct {
	mu      sync.Mutex
	built   map[string]*fakeObject
	fail    map[string]bool
	calls   atomic.Int32
	cleaner func(id string) error
}

func newFakeFactory(fail ...string) *fakeFactory {
	f := &fakeFactory{built: make(map[string]*fakeObject), fail: make(map[string]bool)}
	for _, id := range fail {
		f.fail[id] = true
	}
	return f
}

func (f *fakeFactory) New(ctx context.Context, args ConstructArgs) (Object, error) {
	f.calls.Add(1)
	if f.fail[args.ID] {
		return nil, errors.New("driver not responding")
	}
	obj := &fakeObject{id: args.ID, args: args}
	if f.cleaner != nil {
		obj.cleanErr = f.cleaner(args.ID)
	}
	f.mu.Lock()
	f.built[args.ID] = obj
	f.mu.Unlock()
	return obj, nil
}

func (f *fakeFactory) object(id string) *fakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.built[id]
}

func (f *fakeFactory) totalCleanups() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, o := range f.built {
		n += int(o.cleanups.Load())
	}
	return n
}

func recordingAction(result any) ActionDef {
	return ActionDef{Fn: func(ctx context.Context, obj Object, args Args) (any, error) {
		obj.(*fakeObject).record("called")
		return result, nil
	}}
}

// testTypes registers FakeDevice (plain), FakeBox (with pose) and
// FakeRobot (robot) built by f.
func testCatalog(f *fakeFactory) *Catalog {
	c := NewCatalog()
	actions := map[string]ActionDef{
		"ping": recordingAction("pong"),
		"fail": {Fn: func(ctx context.Context, obj Object, args Args) (any, error) {
			return nil, errors.New("gripper jammed")
		}},
		"move": {Fn: func(ctx context.Context, obj Object, args Args) (any, error) {
			obj.(*fakeObject).record("move")
			return nil, nil
		}},
		"pick": {Composite: true, Fn: func(ctx context.Context, obj Object, args Args) (any, error) {
			if _, err := Call(ctx, "move"); err != nil {
				return nil, err
			}
			if _, err := Call(ctx, "ping"); err != nil {
				return nil, err
			}
			return true, nil
		}},
		"plain_outer": {Fn: func(ctx context.Context, obj Object, args Args) (any, error) {
			return Call(ctx, "move")
		}},
		"measure": {Blocking: true, Fn: func(ctx context.Context, obj Object, args Args) (any, error) {
			obj.(*fakeObject).record("measure")
			return []any{math.NaN(), 2.5}, nil
		}},
	}
	c.RegisterBuiltIn(TypeDef{Name: "FakeDevice", Capability: Plain, Factory: f.New, Actions: actions})
	c.RegisterBuiltIn(TypeDef{Name: "FakeBox", Capability: WithPose, Factory: f.New, Actions: actions})
	c.RegisterBuiltIn(TypeDef{Name: "FakeRobot", Capability: Robot, Factory: f.New, Actions: actions})
	c.RegisterBuiltIn(TypeDef{Name: "FakeBall", Capability: WithPose, Factory: f.New, Actions: actions})
	c.RegisterBuiltIn(TypeDef{Name: "FakeTube", Capability: WithPose, Factory: f.New, Actions: actions})
	return c
}

type fakeCollisionScene struct {
	mu         sync.Mutex
	started    bool
	calls      []string
	collisions map[string]scene.Model
	stopErr    error
}

func newFakeCollisionScene() *fakeCollisionScene {
	return &fakeCollisionScene{collisions: make(map[string]scene.Model)}
}

func (f *fakeCollisionScene) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeCollisionScene) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	f.started = true
	return nil
}

func (f *fakeCollisionScene) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("stop")
	f.started = false
	return f.stopErr
}

func (f *fakeCollisionScene) Started(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("started")
	return f.started, nil
}

func (f *fakeCollisionScene) UpsertCollision(ctx context.Context, m scene.Model, pose scene.Pose) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("upsert " + m.ModelID())
	f.collisions[m.ModelID()] = m
	return nil
}

func (f *fakeCollisionScene) DeleteAllCollisions(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clear")
	f.collisions = make(map[string]scene.Model)
	return nil
}

func (f *fakeCollisionScene) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func origin() *scene.Pose {
	return &scene.Pose{Orientation: scene.IdentityOrientation()}
}

func testScene(objs ...scene.SceneObject) *scene.Scene {
	return &scene.Scene{ID: "scn", Name: "cell", Objects: objs}
}

func param(name, typ string, v any) scene.Parameter {
	b, _ := json.Marshal(v)
	return scene.Parameter{Name: name, Type: typ, Value: string(b)}
}

type failingEmitter struct{}

func (failingEmitter) Emit(name string, data any) error {
	return errors.New("telemetry sink closed")
}
