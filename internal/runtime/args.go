package runtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/robofit/arcor2-sub003/internal/scene"
)

// Args are the arguments of one action invocation.
type Args struct {
	Positional []any
	Named      map[string]any
}

// NewArgs builds Args from a call site. A single map[string]any argument
// is unpacked into named arguments.
func NewArgs(args ...any) Args {
	if len(args) == 1 {
		if m, ok := args[0].(map[string]any); ok {
			return Args{Named: m}
		}
	}
	return Args{Positional: args}
}

// Lookup returns the named argument, falling back to the positional one
// at index i.
func (a Args) Lookup(name string, i int) (any, bool) {
	if v, ok := a.Named[name]; ok {
		return v, true
	}
	if i >= 0 && i < len(a.Positional) {
		return a.Positional[i], true
	}
	return nil, false
}

func (a Args) Float(name string, i int) (float64, error) {
	v, ok := a.Lookup(name, i)
	if !ok {
		return 0, fmt.Errorf("missing argument %s", name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("argument %s: expected number, got %T", name, v)
}

func (a Args) Int(name string, i int) (int, error) {
	v, ok := a.Lookup(name, i)
	if !ok {
		return 0, fmt.Errorf("missing argument %s", name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("argument %s: %v is not an integer", name, n)
		}
		return int(n), nil
	}
	return 0, fmt.Errorf("argument %s: expected integer, got %T", name, v)
}

func (a Args) String(name string, i int) (string, error) {
	v, ok := a.Lookup(name, i)
	if !ok {
		return "", fmt.Errorf("missing argument %s", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %s: expected string, got %T", name, v)
	}
	return s, nil
}

func (a Args) Bool(name string, i int) (bool, error) {
	v, ok := a.Lookup(name, i)
	if !ok {
		return false, fmt.Errorf("missing argument %s", name)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("argument %s: expected boolean, got %T", name, v)
	}
	return b, nil
}

// Pose accepts scene.Pose, *scene.Pose and scene.ActionPointPose.
func (a Args) Pose(name string, i int) (scene.Pose, error) {
	v, ok := a.Lookup(name, i)
	if !ok {
		return scene.Pose{}, fmt.Errorf("missing argument %s", name)
	}
	switch p := v.(type) {
	case scene.Pose:
		return p, nil
	case *scene.Pose:
		if p != nil {
			return *p, nil
		}
	case scene.ActionPointPose:
		return p.Pose, nil
	}
	return scene.Pose{}, fmt.Errorf("argument %s: expected pose, got %T", name, v)
}

// Joints accepts scene.ProjectRobotJoints and scene.ActionPointJoints.
func (a Args) Joints(name string, i int) (scene.ProjectRobotJoints, error) {
	v, ok := a.Lookup(name, i)
	if !ok {
		return scene.ProjectRobotJoints{}, fmt.Errorf("missing argument %s", name)
	}
	switch j := v.(type) {
	case scene.ProjectRobotJoints:
		return j, nil
	case scene.ActionPointJoints:
		return j.ProjectRobotJoints, nil
	}
	return scene.ProjectRobotJoints{}, fmt.Errorf("argument %s: expected joints, got %T", name, v)
}

// ActionPoints returns the ids of action points referenced by any
// argument.
func (a Args) ActionPoints() []string {
	var ids []string
	add := func(v any) {
		if ref, ok := v.(scene.ActionPointRef); ok {
			ids = append(ids, ref.ActionPointID())
		}
	}
	for _, v := range a.Positional {
		add(v)
	}
	for _, v := range a.Named {
		add(v)
	}
	return ids
}

// encodeValue returns the JSON encoding of v. Values JSON cannot
// represent, such as NaN, fall back to their fmt form.
func encodeValue(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), err
	}
	return string(b), nil
}

// encode serializes arguments for ActionStateBefore. Every argument is
// encoded; the returned error joins the ones that needed the fallback.
func (a Args) encode() ([]string, map[string]string, error) {
	var errs []error
	var positional []string
	for i, v := range a.Positional {
		s, err := encodeValue(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("argument %d: %w", i, err))
		}
		positional = append(positional, s)
	}

	var named map[string]string
	if len(a.Named) > 0 {
		named = make(map[string]string, len(a.Named))
		for k, v := range a.Named {
			s, err := encodeValue(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("argument %s: %w", k, err))
			}
			named[k] = s
		}
	}
	return positional, named, errors.Join(errs...)
}

// encodeResults serializes action results. A []any result is treated as
// multiple return values.
func encodeResults(res any) ([]string, error) {
	if res == nil {
		return nil, nil
	}
	values, ok := res.([]any)
	if !ok {
		values = []any{res}
	}
	var errs []error
	out := make([]string, 0, len(values))
	for i, v := range values {
		s, err := encodeValue(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("result %d: %w", i, err))
		}
		out = append(out, s)
	}
	return out, errors.Join(errs...)
}
