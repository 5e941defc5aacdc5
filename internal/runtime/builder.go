package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

// Graph is the set of constructed objects of one run, keyed by object id.
type Graph struct {
	instances map[string]*Instance
	order     []string
}

// Get returns the instance with the given id.
func (g *Graph) Get(id string) (*Instance, bool) {
	inst, ok := g.instances[id]
	return inst, ok
}

// Len returns the number of objects.
func (g *Graph) Len() int {
	return len(g.instances)
}

// IDs returns object ids in scene order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Instances returns all instances in scene order.
func (g *Graph) Instances() []*Instance {
	out := make([]*Instance, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.instances[id])
	}
	return out
}

// Builder constructs the object graph of a scene.
type Builder struct {
	Registry *Registry
	Executor *Executor
	Emitter  Emitter
	// Workers caps construction parallelism; zero means one worker per
	// object.
	Workers int
	Logger  *slog.Logger
}

type buildResult struct {
	decl *scene.SceneObject
	desc *Descriptor
	obj  Object
	err  error
}

// Build constructs one object per scene object. Configuration problems
// are detected before anything is constructed. When any construction
// fails, every constructed object is cleaned up and a ConstructionError
// naming the failures is returned.
func (b *Builder) Build(ctx context.Context, s *scene.Scene, p *scene.Project) (*Graph, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[string]bool, len(s.Objects))
	for _, obj := range s.Objects {
		if seen[obj.ID] {
			return nil, &ConfigurationError{Reason: "duplicate object id", ObjectID: obj.ID, Type: obj.Type}
		}
		seen[obj.ID] = true
	}

	descs := make(map[string]*Descriptor)
	for _, typeName := range s.ObjectTypes() {
		d, err := b.Registry.Resolve(typeName)
		if err != nil {
			return nil, &ConfigurationError{Reason: err.Error(), Type: typeName, Err: err}
		}
		descs[typeName] = d
	}

	args := make([]ConstructArgs, len(s.Objects))
	for i := range s.Objects {
		obj := &s.Objects[i]
		a, err := constructArgs(obj, descs[obj.Type], p)
		if err != nil {
			return nil, err
		}
		args[i] = a
	}

	results := make([]buildResult, len(s.Objects))
	g, gctx := errgroup.WithContext(ctx)
	workers := b.Workers
	if workers <= 0 {
		workers = len(s.Objects)
	}
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i := range s.Objects {
		i := i
		obj := &s.Objects[i]
		desc := descs[obj.Type]
		g.Go(func() error {
			// Failures are collected per object, not returned, so that one
			// failing constructor does not cancel its siblings.
			o, err := construct(gctx, desc, args[i])
			results[i] = buildResult{decl: obj, desc: desc, obj: o, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		built    []Object
		failures []ObjectFailure
	)
	for _, r := range results {
		if r.err != nil {
			failures = append(failures, ObjectFailure{ObjectID: r.decl.ID, Type: r.decl.Type, Err: r.err})
			continue
		}
		built = append(built, r.obj)
	}

	if len(failures) > 0 {
		for _, f := range failures {
			logger.Error("object construction failed", "object", f.ObjectID, "type", f.Type, "error", f.Err)
			if b.Emitter != nil {
				b.Emitter.Emit(events.ProjectException, events.ProjectExceptionData{
					Message: f.Error(),
					Type:    ErrorType(f),
					Handled: true,
				})
			}
		}
		if err := CleanupAll(context.WithoutCancel(ctx), built); err != nil {
			logger.Warn("cleanup after failed construction", "error", err)
		}
		return nil, &ConstructionError{Failures: failures}
	}

	graph := &Graph{instances: make(map[string]*Instance, len(results))}
	for _, r := range results {
		graph.instances[r.decl.ID] = b.Executor.NewInstance(r.obj, r.decl.Name, r.desc)
		graph.order = append(graph.order, r.decl.ID)
	}
	logger.Info("object graph built", "objects", graph.Len())
	return graph, nil
}

func constructArgs(obj *scene.SceneObject, desc *Descriptor, p *scene.Project) (ConstructArgs, error) {
	var overrides []scene.Parameter
	if p != nil {
		overrides = p.OverridesFor(obj.ID)
	}
	params, err := scene.MergeParameters(obj.Parameters, overrides)
	if err != nil {
		return ConstructArgs{}, &ConfigurationError{Reason: err.Error(), ObjectID: obj.ID, Type: obj.Type}
	}
	settings, err := scene.DecodeSettings(params)
	if err != nil {
		return ConstructArgs{}, &ConfigurationError{Reason: err.Error(), ObjectID: obj.ID, Type: obj.Type}
	}

	a := ConstructArgs{ID: obj.ID, Name: obj.Name, Settings: settings}
	switch desc.Capability {
	case Robot:
		if obj.Pose == nil {
			return ConstructArgs{}, &ConfigurationError{Reason: "robot requires a pose", ObjectID: obj.ID, Type: obj.Type}
		}
		pose := *obj.Pose
		a.Pose = &pose
	case WithPose:
		if obj.Pose == nil {
			return ConstructArgs{}, &ConfigurationError{Reason: "object requires a pose", ObjectID: obj.ID, Type: obj.Type}
		}
		pose := *obj.Pose
		a.Pose = &pose
		a.Model = desc.Model
	}
	return a, nil
}

func construct(ctx context.Context, desc *Descriptor, args ConstructArgs) (obj Object, err error) {
	defer func() {
		if r := recover(); r != nil {
			obj, err = nil, fmt.Errorf("constructor panicked: %v", r)
		}
	}()
	obj, err = desc.Factory(ctx, args)
	if err == nil && obj == nil {
		err = errors.New("constructor returned no object")
	}
	return obj, err
}

// CleanupAll calls Cleanup on every object in parallel. All cleanups run
// even if some fail; failures are returned as a CleanupError.
func CleanupAll(ctx context.Context, objs []Object) error {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	for _, o := range objs {
		o := o
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("cleanup panicked: %v", r)
				}
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("object %s: %w", o.ID(), err))
					mu.Unlock()
				}
			}()
			return o.Cleanup(ctx)
		})
	}
	_ = g.Wait()

	if len(errs) == 0 {
		return nil
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return &CleanupError{Errors: errs}
}
