// Package script executes the actions declared in a project against the
// instrumented object graph of a run.
package script

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

// Parameter types resolved against the project instead of decoded as
// plain JSON values.
const (
	TypePose        = "pose"
	TypeJoints      = "joints"
	TypeActionPoint = "action_point"
	TypeLink        = "link"
)

// Options configures Sequence.
type Options struct {
	// Loop repeats the action list until ctx is done.
	Loop   bool
	Logger *slog.Logger
}

// Sequence returns a script running every project action once, in
// declaration order. Parameters are passed by name.
func Sequence(opts Options) runtime.Script {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, res *runtime.Resources) error {
		p := res.Project()
		if p == nil {
			logger.Info("no project, nothing to run")
			return nil
		}
		actions := p.Actions()
		for {
			results := make(map[string][]any, len(actions))
			for _, a := range actions {
				if err := ctx.Err(); err != nil {
					return context.Cause(ctx)
				}
				out, err := runAction(ctx, res, p, a, results)
				if err != nil {
					return err
				}
				results[a.ID] = out
				logger.Debug("action finished", "action", a.Name, "type", a.Type)
			}
			if !opts.Loop || len(actions) == 0 {
				return nil
			}
		}
	}
}

func runAction(ctx context.Context, res *runtime.Resources, p *scene.Project, a scene.Action, results map[string][]any) ([]any, error) {
	objectID, method, err := a.ParseType()
	if err != nil {
		return nil, err
	}
	inst, ok := res.Graph().Get(objectID)
	if !ok {
		return nil, fmt.Errorf("action %s: unknown object %s", a.Name, objectID)
	}

	named := make(map[string]any, len(a.Parameters))
	for _, param := range a.Parameters {
		v, err := Resolve(p, param, results)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", a.Name, err)
		}
		named[param.Name] = v
	}

	out, err := inst.Invoke(ctx, runtime.Invocation{
		Method:     method,
		ActionName: a.Name,
		Args:       runtime.Args{Named: named},
	})
	if err != nil {
		return nil, err
	}
	if values, ok := out.([]any); ok {
		return values, nil
	}
	if out == nil {
		return nil, nil
	}
	return []any{out}, nil
}

// Resolve converts one action parameter into its call value. Pose and
// joints parameters name an orientation or joints id of the project and
// become scene.ActionPointPose and scene.ActionPointJoints. Links take a
// result of an earlier action, "<action_id>/default/<index>".
func Resolve(p *scene.Project, param scene.Parameter, results map[string][]any) (any, error) {
	switch param.Type {
	case TypePose:
		id, err := stringValue(param)
		if err != nil {
			return nil, err
		}
		ap, o, ok := p.Orientation(id)
		if !ok {
			return nil, fmt.Errorf("parameter %s: unknown orientation %s", param.Name, id)
		}
		return scene.ActionPointPose{
			ActionPoint: ap.ID,
			Pose:        scene.Pose{Position: ap.Position, Orientation: o.Orientation},
		}, nil

	case TypeJoints:
		id, err := stringValue(param)
		if err != nil {
			return nil, err
		}
		ap, j, ok := p.Joints(id)
		if !ok {
			return nil, fmt.Errorf("parameter %s: unknown joints %s", param.Name, id)
		}
		return scene.ActionPointJoints{ActionPoint: ap.ID, ProjectRobotJoints: *j}, nil

	case TypeActionPoint:
		id, err := stringValue(param)
		if err != nil {
			return nil, err
		}
		ap, ok := p.ActionPoint(id)
		if !ok {
			return nil, fmt.Errorf("parameter %s: unknown action point %s", param.Name, id)
		}
		return ap, nil

	case TypeLink:
		ref, err := stringValue(param)
		if err != nil {
			return nil, err
		}
		return link(param.Name, ref, results)
	}

	var v any
	if err := json.Unmarshal([]byte(param.Value), &v); err != nil {
		return nil, fmt.Errorf("parameter %s: invalid value: %w", param.Name, err)
	}
	return v, nil
}

func stringValue(param scene.Parameter) (string, error) {
	var s string
	if err := json.Unmarshal([]byte(param.Value), &s); err != nil {
		return "", fmt.Errorf("parameter %s: expected string id: %w", param.Name, err)
	}
	return s, nil
}

func link(name, ref string, results map[string][]any) (any, error) {
	parts := strings.Split(ref, "/")
	if len(parts) != 3 || parts[1] != "default" {
		return nil, fmt.Errorf("parameter %s: invalid link %q", name, ref)
	}
	idx, err := strconv.Atoi(parts[2])
	if err != nil || idx < 0 {
		return nil, fmt.Errorf("parameter %s: invalid link %q", name, ref)
	}
	out, ok := results[parts[0]]
	if !ok {
		return nil, fmt.Errorf("parameter %s: action %s has not run", name, parts[0])
	}
	if idx >= len(out) {
		return nil, fmt.Errorf("parameter %s: action %s has no result %d", name, parts[0], idx)
	}
	return out[idx], nil
}
