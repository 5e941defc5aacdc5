package objects

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

// DummyBox is a static collision object.
type DummyBox struct {
	generic
	pose  scene.Pose
	model scene.Model
}

func dummyBoxType() runtime.TypeDef {
	return runtime.TypeDef{
		Name:       "DummyBox",
		Capability: runtime.WithPose,
		Factory: func(ctx context.Context, args runtime.ConstructArgs) (runtime.Object, error) {
			b := &DummyBox{generic: newGeneric(args), model: args.Model}
			if args.Pose != nil {
				b.pose = *args.Pose
			}
			return b, nil
		},
		Actions: map[string]runtime.ActionDef{
			"get_pose": {Blocking: true, Fn: action(func(ctx context.Context, b *DummyBox, args runtime.Args) (any, error) {
				return b.pose, nil
			})},
		},
	}
}

// RandomActions generates random values.
type RandomActions struct {
	generic
}

func randomActionsType() runtime.TypeDef {
	return runtime.TypeDef{
		Name: "RandomActions",
		Factory: func(ctx context.Context, args runtime.ConstructArgs) (runtime.Object, error) {
			return &RandomActions{newGeneric(args)}, nil
		},
		Actions: map[string]runtime.ActionDef{
			"random_integer": {Fn: action(randomInteger)},
			"random_double":  {Fn: action(randomDouble)},
			"random_bool": {Fn: action(func(ctx context.Context, r *RandomActions, args runtime.Args) (any, error) {
				return rand.IntN(2) == 1, nil
			})},
		},
	}
}

func minMaxInt(args runtime.Args) (int, int, error) {
	lo, err := args.Int("range_min", 0)
	if err != nil {
		return 0, 0, err
	}
	hi, err := args.Int("range_max", 1)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("empty range [%d, %d]", lo, hi)
	}
	return lo, hi, nil
}

// randomInteger returns a value in [range_min, range_max].
func randomInteger(ctx context.Context, r *RandomActions, args runtime.Args) (any, error) {
	lo, hi, err := minMaxInt(args)
	if err != nil {
		return nil, err
	}
	return lo + rand.IntN(hi-lo+1), nil
}

func randomDouble(ctx context.Context, r *RandomActions, args runtime.Args) (any, error) {
	lo, err := args.Float("range_min", 0)
	if err != nil {
		return nil, err
	}
	hi, err := args.Float("range_max", 1)
	if err != nil {
		return nil, err
	}
	if lo > hi {
		return nil, fmt.Errorf("empty range [%v, %v]", lo, hi)
	}
	return lo + rand.Float64()*(hi-lo), nil
}

const maxSleep = 10e6 * time.Second

// TimeActions provides sleeping and loop rate control.
type TimeActions struct {
	generic

	mu   sync.Mutex
	last time.Time
}

func timeActionsType() runtime.TypeDef {
	return runtime.TypeDef{
		Name: "TimeActions",
		Factory: func(ctx context.Context, args runtime.ConstructArgs) (runtime.Object, error) {
			return &TimeActions{generic: newGeneric(args)}, nil
		},
		Actions: map[string]runtime.ActionDef{
			"sleep": {Fn: action(timeSleep)},
			"rate":  {Fn: action(timeRate)},
			"time_ns": {Fn: action(func(ctx context.Context, t *TimeActions, args runtime.Args) (any, error) {
				return time.Now().UnixNano(), nil
			})},
		},
	}
}

func secondsArg(args runtime.Args, name string) (time.Duration, error) {
	s, err := args.Float(name, 0)
	if err != nil {
		if _, ok := args.Lookup(name, 0); ok {
			return 0, err
		}
		s = 1
	}
	d := time.Duration(s * float64(time.Second))
	if d < 0 || d > maxSleep {
		return 0, fmt.Errorf("%s out of range: %v", name, s)
	}
	return d, nil
}

func timeSleep(ctx context.Context, t *TimeActions, args runtime.Args) (any, error) {
	d, err := secondsArg(args, "seconds")
	if err != nil {
		return nil, err
	}
	return nil, sleepCtx(ctx, d)
}

// timeRate keeps a loop at the given period when called first in every
// iteration.
func timeRate(ctx context.Context, t *TimeActions, args runtime.Args) (any, error) {
	period, err := secondsArg(args, "period")
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()

	if !last.IsZero() {
		if err := sleepCtx(ctx, time.Until(last.Add(period))); err != nil {
			return nil, err
		}
	}
	t.mu.Lock()
	t.last = time.Now()
	t.mu.Unlock()
	return nil, nil
}

// LogicActions compares integers.
type LogicActions struct {
	generic
}

func logicActionsType() runtime.TypeDef {
	compare := func(op func(a, b int) bool) runtime.ActionDef {
		return runtime.ActionDef{Blocking: true, Fn: action(func(ctx context.Context, l *LogicActions, args runtime.Args) (any, error) {
			a, err := args.Int("val1", 0)
			if err != nil {
				return nil, err
			}
			b, err := args.Int("val2", 1)
			if err != nil {
				return nil, err
			}
			return op(a, b), nil
		})}
	}
	return runtime.TypeDef{
		Name: "LogicActions",
		Factory: func(ctx context.Context, args runtime.ConstructArgs) (runtime.Object, error) {
			return &LogicActions{newGeneric(args)}, nil
		},
		Actions: map[string]runtime.ActionDef{
			"equals":       compare(func(a, b int) bool { return a == b }),
			"less_than":    compare(func(a, b int) bool { return a < b }),
			"greater_than": compare(func(a, b int) bool { return a > b }),
		},
	}
}
