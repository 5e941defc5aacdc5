package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robofit/arcor2-sub003/internal/control"
	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

// CollisionScene is the remote service tracking collision geometry of the
// cell.
type CollisionScene interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Started(ctx context.Context) (bool, error)
	UpsertCollision(ctx context.Context, model scene.Model, pose scene.Pose) error
	DeleteAllCollisions(ctx context.Context) error
}

// Config is the input of one run.
type Config struct {
	PackageID   string
	PackageName string
	// RunID identifies the run in events; a UUIDv7 is generated when empty.
	RunID string

	Scene   *scene.Scene
	Project *scene.Project
	// Models maps object type names to collision models.
	Models map[string]scene.Model

	Catalog        *Catalog
	CollisionScene CollisionScene
	Emitter        Emitter
	Control        control.Source
	// State is shared with observers such as the API; one is created when
	// nil.
	State *StateMachine

	Workers         int
	StreamingPeriod time.Duration
	StartPaused     bool
	Breakpoints     []string
	Logger          *slog.Logger
}

// Resources owns the object graph of one run. It is created by Open and
// released by Close.
type Resources struct {
	cfg      Config
	logger   *slog.Logger
	state    *StateMachine
	executor *Executor
	graph    *Graph
	models   scene.CollisionModels
	streams  []*Streamer

	closeOnce sync.Once
	closeErr  error
}

// Open validates the configuration, resets the collision scene, builds the
// object graph, registers collision models, emits PackageInfo and converts
// relative action points to world coordinates. On failure everything
// acquired so far is released and the package ends in the stopped state.
func Open(ctx context.Context, cfg Config) (*Resources, error) {
	if err := validate(&cfg); err != nil {
		if cfg.Emitter != nil {
			cfg.Emitter.Emit(events.ProjectException, events.ProjectExceptionData{
				Message: err.Error(),
				Type:    ErrorType(err),
			})
		}
		return nil, err
	}
	if cfg.RunID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate run id: %w", err)
		}
		cfg.RunID = id.String()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("package", cfg.PackageID, "run", cfg.RunID)

	state := cfg.State
	if state == nil {
		state = NewStateMachine(cfg.Emitter, cfg.PackageID)
	}
	if !state.CanStart() {
		return nil, fmt.Errorf("package cannot start from state %s", state.State())
	}

	r := &Resources{
		cfg:    cfg,
		logger: logger,
		state:  state,
		executor: NewExecutor(ExecutorOptions{
			Emitter:     cfg.Emitter,
			State:       state,
			Control:     cfg.Control,
			ActionIDs:   actionIDs(cfg.Project),
			Breakpoints: cfg.Breakpoints,
			StartPaused: cfg.StartPaused,
			Logger:      logger,
		}),
	}

	if err := state.Transition(StateRunning); err != nil {
		return nil, err
	}

	if err := r.open(ctx); err != nil {
		r.report(err)
		if cerr := r.teardown(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("teardown after failed start", "error", cerr)
		}
		return nil, err
	}
	return r, nil
}

func (r *Resources) open(ctx context.Context) error {
	cs := r.cfg.CollisionScene

	started, err := cs.Started(ctx)
	if err != nil {
		return fmt.Errorf("failed to query collision scene: %w", err)
	}
	if started {
		if err := cs.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop collision scene: %w", err)
		}
	}
	if err := cs.DeleteAllCollisions(ctx); err != nil {
		return fmt.Errorf("failed to clear collision scene: %w", err)
	}

	builder := &Builder{
		Registry: NewRegistry(r.cfg.Catalog, r.cfg.Models),
		Executor: r.executor,
		Emitter:  r.cfg.Emitter,
		Workers:  r.cfg.Workers,
		Logger:   r.logger,
	}
	graph, err := builder.Build(ctx, r.cfg.Scene, r.cfg.Project)
	if err != nil {
		return err
	}
	r.graph = graph

	if err := cs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start collision scene: %w", err)
	}
	for _, obj := range r.cfg.Scene.Objects {
		m := r.cfg.Models[obj.Type]
		if m == nil {
			continue
		}
		r.models.Add(m)
		if obj.Pose == nil {
			continue
		}
		if err := cs.UpsertCollision(ctx, modelFor(obj.ID, m), *obj.Pose); err != nil {
			return fmt.Errorf("failed to add collision of %s: %w", obj.ID, err)
		}
	}

	if r.cfg.Emitter != nil {
		if err := r.cfg.Emitter.Emit(events.PackageInfo, events.PackageInfoData{
			PackageID:       r.cfg.PackageID,
			PackageName:     r.cfg.PackageName,
			RunID:           r.cfg.RunID,
			Scene:           r.cfg.Scene,
			Project:         r.cfg.Project,
			CollisionModels: r.models,
		}); err != nil {
			return err
		}
	}

	if r.cfg.Project != nil {
		if err := scene.MakeActionPointsGlobal(r.cfg.Scene, r.cfg.Project); err != nil {
			return &ConfigurationError{Reason: err.Error()}
		}
	}

	r.startStreams()
	r.logger.Info("package started", "objects", graph.Len(), "collision_models", r.models.Len())
	return nil
}

// modelFor returns a copy of m identified by the object id, so that
// several objects of one type get separate collisions.
func modelFor(objectID string, m scene.Model) scene.Model {
	switch v := m.(type) {
	case *scene.Box:
		c := *v
		c.ID = objectID
		return &c
	case *scene.Sphere:
		c := *v
		c.ID = objectID
		return &c
	case *scene.Cylinder:
		c := *v
		c.ID = objectID
		return &c
	case *scene.Mesh:
		c := *v
		c.ID = objectID
		return &c
	}
	return m
}

func validate(cfg *Config) error {
	switch {
	case cfg.Scene == nil:
		return &ConfigurationError{Reason: "scene is required"}
	case cfg.Catalog == nil:
		return errors.New("runtime: catalog is required")
	case cfg.CollisionScene == nil:
		return errors.New("runtime: collision scene is required")
	}
	if cfg.Project == nil {
		if len(cfg.Breakpoints) > 0 {
			return &ConfigurationError{Reason: "breakpoints require a project"}
		}
		return nil
	}
	if cfg.Project.SceneID != cfg.Scene.ID {
		return &ConfigurationError{Reason: fmt.Sprintf("project %s belongs to scene %s, not %s", cfg.Project.ID, cfg.Project.SceneID, cfg.Scene.ID)}
	}
	for _, o := range cfg.Project.Overrides {
		if _, ok := cfg.Scene.Object(o.ID); !ok {
			return &ConfigurationError{Reason: "override of unknown object", ObjectID: o.ID}
		}
	}
	for _, bp := range cfg.Breakpoints {
		if _, ok := cfg.Project.ActionPoint(bp); !ok {
			return &ConfigurationError{Reason: fmt.Sprintf("breakpoint on unknown action point %s", bp)}
		}
	}
	return nil
}

func actionIDs(p *scene.Project) map[string]string {
	ids := make(map[string]string)
	if p == nil {
		return ids
	}
	for _, a := range p.Actions() {
		ids[a.Name] = a.ID
	}
	return ids
}

// Graph returns the constructed objects.
func (r *Resources) Graph() *Graph { return r.graph }

// Project returns the project with action points in world coordinates.
func (r *Resources) Project() *scene.Project { return r.cfg.Project }

// Scene returns the scene of the run.
func (r *Resources) Scene() *scene.Scene { return r.cfg.Scene }

// State returns the run-state machine.
func (r *Resources) State() *StateMachine { return r.state }

// RunID returns the run identifier.
func (r *Resources) RunID() string { return r.cfg.RunID }

// CollisionModels returns the models reported in PackageInfo.
func (r *Resources) CollisionModels() scene.CollisionModels { return r.models }

// Close releases the run. cause is the error the run ended with, or nil.
// A cause other than an interrupt is reported as ProjectException before
// teardown. Close runs at most once; later calls return the first result.
func (r *Resources) Close(ctx context.Context, cause error) error {
	r.closeOnce.Do(func() {
		ctx = context.WithoutCancel(ctx)
		if cause != nil && !IsInterrupt(cause) {
			r.report(cause)
		}
		r.closeErr = r.teardown(ctx)
	})
	return r.closeErr
}

func (r *Resources) report(err error) {
	r.logger.Error("package failed", "error", err)
	if r.cfg.Emitter == nil {
		return
	}
	r.cfg.Emitter.Emit(events.ProjectException, events.ProjectExceptionData{
		Message: err.Error(),
		Type:    ErrorType(err),
	})
}

func (r *Resources) teardown(ctx context.Context) error {
	if err := r.state.Transition(StateStopping); err != nil {
		r.logger.Warn("state transition", "error", err)
	}

	r.stopStreams()

	cs := r.cfg.CollisionScene
	if err := cs.Stop(ctx); err != nil {
		r.logger.Warn("failed to stop collision scene", "error", err)
	}
	if err := cs.DeleteAllCollisions(ctx); err != nil {
		r.logger.Warn("failed to clear collision scene", "error", err)
	}

	var cleanupErr error
	if r.graph != nil {
		objs := make([]Object, 0, r.graph.Len())
		for _, inst := range r.graph.Instances() {
			objs = append(objs, inst.Object())
		}
		cleanupErr = CleanupAll(ctx, objs)
		if cleanupErr != nil {
			r.logger.Error("object cleanup failed", "error", cleanupErr)
		}
	}

	if err := r.state.Transition(StateStopped); err != nil {
		r.logger.Warn("state transition", "error", err)
	}
	r.logger.Info("package stopped")
	return cleanupErr
}

// Script is the user program of a run.
type Script func(ctx context.Context, res *Resources) error

// Run opens the resources, runs script and always closes them. The
// returned error is the original cause: a start failure, the script error
// or the context cancellation cause. Cleanup errors are logged only.
// A panic in script is converted into an error.
func Run(ctx context.Context, cfg Config, script Script) error {
	res, err := Open(ctx, cfg)
	if err != nil {
		return err
	}

	cause := runScript(ctx, res, script)
	if cause == nil && ctx.Err() != nil {
		cause = context.Cause(ctx)
	}

	_ = res.Close(ctx, cause)
	return cause
}

func runScript(ctx context.Context, res *Resources, script Script) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panicked: %v", r)
		}
	}()
	if err := script(ctx, res); err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return context.Cause(ctx)
		}
		return err
	}
	return nil
}
