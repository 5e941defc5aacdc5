package scene

import (
	"fmt"
	"strings"
)

// Position is a point in the world frame, in meters.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Orientation is a quaternion. The zero value is not normalized; use
// IdentityOrientation for "no rotation".
type Orientation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityOrientation returns the orientation with no rotation.
func IdentityOrientation() Orientation {
	return Orientation{W: 1}
}

// Pose is a position together with an orientation.
type Pose struct {
	Position    Position    `json:"position"`
	Orientation Orientation `json:"orientation"`
}

// Parameter is a named, typed construction or action parameter. Value holds
// the JSON encoding of the actual value.
type Parameter struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// SceneObject is one object instance declared by a scene.
type SceneObject struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Pose       *Pose       `json:"pose,omitempty"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

// Scene is the declarative list of objects composing a robotic cell.
type Scene struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Objects     []SceneObject `json:"objects"`
}

// Object returns the scene object with the given id.
func (s *Scene) Object(id string) (*SceneObject, bool) {
	for i := range s.Objects {
		if s.Objects[i].ID == id {
			return &s.Objects[i], true
		}
	}
	return nil, false
}

// ObjectTypes returns the distinct object types used by the scene, in order
// of first appearance.
func (s *Scene) ObjectTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, obj := range s.Objects {
		if seen[obj.Type] {
			continue
		}
		seen[obj.Type] = true
		types = append(types, obj.Type)
	}
	return types
}

// NamedOrientation is an orientation stored on an action point.
type NamedOrientation struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Orientation Orientation `json:"orientation"`
}

// Joint is a single robot joint value, in radians.
type Joint struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ProjectRobotJoints is a named joint configuration stored on an action point.
type ProjectRobotJoints struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	RobotID string  `json:"robot_id"`
	Joints  []Joint `json:"joints"`
	IsValid bool    `json:"is_valid"`
}

// Action is a project-level invocation of an object action. Type has the
// form "<object_id>/<method>".
type Action struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Parameters []Parameter `json:"parameters,omitempty"`
}

// ParseType splits Type into the target object id and method name.
func (a Action) ParseType() (objectID, method string, err error) {
	objectID, method, ok := strings.Cut(a.Type, "/")
	if !ok || objectID == "" || method == "" {
		return "", "", fmt.Errorf("action %s: invalid type %q", a.ID, a.Type)
	}
	return objectID, method, nil
}

// ActionPoint is a named location in the cell. When Parent is set, Position
// and the orientations are relative to the parent scene object or action point.
type ActionPoint struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Position     Position             `json:"position"`
	Parent       string               `json:"parent,omitempty"`
	Orientations []NamedOrientation   `json:"orientations,omitempty"`
	RobotJoints  []ProjectRobotJoints `json:"robot_joints,omitempty"`
	Actions      []Action             `json:"actions,omitempty"`
}

// ActionPointID implements ActionPointRef.
func (ap *ActionPoint) ActionPointID() string {
	return ap.ID
}

// ActionPointRef is implemented by action arguments that originate from an
// action point. Breakpoints are matched against it.
type ActionPointRef interface {
	ActionPointID() string
}

// ActionPointPose is a pose built from an action point position and one of
// its orientations.
type ActionPointPose struct {
	ActionPoint string `json:"action_point"`
	Pose
}

// ActionPointID implements ActionPointRef.
func (p ActionPointPose) ActionPointID() string {
	return p.ActionPoint
}

// ActionPointJoints is a joint configuration taken from an action point.
type ActionPointJoints struct {
	ActionPoint string `json:"action_point"`
	ProjectRobotJoints
}

// ActionPointID implements ActionPointRef.
func (j ActionPointJoints) ActionPointID() string {
	return j.ActionPoint
}

// SceneObjectOverride replaces construction parameters of one scene object.
type SceneObjectOverride struct {
	ID         string      `json:"id"`
	Parameters []Parameter `json:"parameters"`
}

// Project is the program definition executed against a scene.
type Project struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	SceneID      string                `json:"scene_id"`
	Description  string                `json:"description,omitempty"`
	ActionPoints []ActionPoint         `json:"action_points,omitempty"`
	Overrides    []SceneObjectOverride `json:"object_overrides,omitempty"`
}

// ActionPoint returns the action point with the given id.
func (p *Project) ActionPoint(id string) (*ActionPoint, bool) {
	for i := range p.ActionPoints {
		if p.ActionPoints[i].ID == id {
			return &p.ActionPoints[i], true
		}
	}
	return nil, false
}

// Actions returns all actions in declaration order.
func (p *Project) Actions() []Action {
	var actions []Action
	for _, ap := range p.ActionPoints {
		actions = append(actions, ap.Actions...)
	}
	return actions
}

// OverridesFor returns the parameter overrides for a scene object.
func (p *Project) OverridesFor(objectID string) []Parameter {
	for _, o := range p.Overrides {
		if o.ID == objectID {
			return o.Parameters
		}
	}
	return nil
}

// Orientation finds a named orientation by id across all action points.
func (p *Project) Orientation(id string) (*ActionPoint, *NamedOrientation, bool) {
	for i := range p.ActionPoints {
		ap := &p.ActionPoints[i]
		for j := range ap.Orientations {
			if ap.Orientations[j].ID == id {
				return ap, &ap.Orientations[j], true
			}
		}
	}
	return nil, nil, false
}

// Joints finds a named joint configuration by id across all action points.
func (p *Project) Joints(id string) (*ActionPoint, *ProjectRobotJoints, bool) {
	for i := range p.ActionPoints {
		ap := &p.ActionPoints[i]
		for j := range ap.RobotJoints {
			if ap.RobotJoints[j].ID == id {
				return ap, &ap.RobotJoints[j], true
			}
		}
	}
	return nil, nil, false
}
