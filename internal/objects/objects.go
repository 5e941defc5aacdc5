// Package objects provides the built-in object types of the execution
// runtime.
package objects

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

// Publisher sends device commands. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Deps are the collaborators built-in types may use. All fields are
// optional.
type Deps struct {
	Publisher Publisher
	Logger    *slog.Logger
}

// Register adds every built-in type to cat.
func Register(cat *runtime.Catalog, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cat.RegisterBuiltIn(dummyRobotType(deps))
	cat.RegisterBuiltIn(dummyBoxType())
	cat.RegisterBuiltIn(randomActionsType())
	cat.RegisterBuiltIn(timeActionsType())
	cat.RegisterBuiltIn(logicActionsType())
	cat.RegisterBuiltIn(mqttDeviceType(deps))
}

// generic is the common part of every built-in object.
type generic struct {
	id       string
	name     string
	settings scene.Settings
}

func newGeneric(args runtime.ConstructArgs) generic {
	return generic{id: args.ID, name: args.Name, settings: args.Settings}
}

func (g *generic) ID() string { return g.id }

func (g *generic) Cleanup(ctx context.Context) error { return nil }

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

// action adapts a typed method to runtime.ActionFunc.
func action[T runtime.Object](fn func(ctx context.Context, obj T, args runtime.Args) (any, error)) runtime.ActionFunc {
	return func(ctx context.Context, obj runtime.Object, args runtime.Args) (any, error) {
		o, ok := obj.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected object %T", obj)
		}
		return fn(ctx, o, args)
	}
}
