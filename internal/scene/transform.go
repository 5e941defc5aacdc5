package scene

import (
	"fmt"
	"math"
)

// Normalized returns o scaled to unit length. A zero quaternion becomes the
// identity.
func (o Orientation) Normalized() Orientation {
	n := math.Sqrt(o.X*o.X + o.Y*o.Y + o.Z*o.Z + o.W*o.W)
	if n == 0 {
		return IdentityOrientation()
	}
	return Orientation{X: o.X / n, Y: o.Y / n, Z: o.Z / n, W: o.W / n}
}

// Mul returns the Hamilton product o*q.
func (o Orientation) Mul(q Orientation) Orientation {
	return Orientation{
		W: o.W*q.W - o.X*q.X - o.Y*q.Y - o.Z*q.Z,
		X: o.W*q.X + o.X*q.W + o.Y*q.Z - o.Z*q.Y,
		Y: o.W*q.Y - o.X*q.Z + o.Y*q.W + o.Z*q.X,
		Z: o.W*q.Z + o.X*q.Y - o.Y*q.X + o.Z*q.W,
	}
}

// Conjugate returns the conjugate of o.
func (o Orientation) Conjugate() Orientation {
	return Orientation{X: -o.X, Y: -o.Y, Z: -o.Z, W: o.W}
}

// Rotated returns p rotated by the unit quaternion o.
func (p Position) Rotated(o Orientation) Position {
	q := o.Normalized()
	r := q.Mul(Orientation{X: p.X, Y: p.Y, Z: p.Z}).Mul(q.Conjugate())
	return Position{X: r.X, Y: r.Y, Z: r.Z}
}

// Add returns p+o.
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// AbsoluteOrientation composes a child orientation expressed in the parent
// frame into the world frame.
func AbsoluteOrientation(parent, child Orientation) Orientation {
	return child.Normalized().Mul(parent.Normalized())
}

// AbsolutePose composes a child pose expressed in the parent frame into the
// world frame.
func AbsolutePose(parent, child Pose) Pose {
	return Pose{
		Position:    child.Position.Rotated(parent.Orientation).Add(parent.Position),
		Orientation: AbsoluteOrientation(parent.Orientation, child.Orientation),
	}
}

// MakeActionPointsGlobal rewrites every relative action point of the
// project into world coordinates. Parents may be scene objects, which
// must have a pose, or other action points, which contribute only their
// position. Chains are followed until a scene object or a root action
// point is reached. The project is modified in place and already global
// action points are left untouched.
func MakeActionPointsGlobal(s *Scene, p *Project) error {
	type relative struct {
		position Position
		parent   string
	}
	snapshot := make(map[string]relative, len(p.ActionPoints))
	for _, ap := range p.ActionPoints {
		snapshot[ap.ID] = relative{position: ap.Position, parent: ap.Parent}
	}

	for i := range p.ActionPoints {
		ap := &p.ActionPoints[i]
		if ap.Parent == "" {
			continue
		}

		parent := ap.Parent
		visited := map[string]bool{ap.ID: true}
		for parent != "" {
			if obj, ok := s.Object(parent); ok {
				if obj.Pose == nil {
					return fmt.Errorf("action point %s: parent object %s does not have pose", ap.ID, parent)
				}
				ap.Position = AbsolutePose(*obj.Pose, Pose{Position: ap.Position, Orientation: IdentityOrientation()}).Position
				for j := range ap.Orientations {
					ap.Orientations[j].Orientation = AbsoluteOrientation(obj.Pose.Orientation, ap.Orientations[j].Orientation)
				}
				break
			}

			rel, ok := snapshot[parent]
			if !ok {
				return fmt.Errorf("action point %s has unknown parent %s", ap.ID, parent)
			}
			if visited[parent] {
				return fmt.Errorf("action point %s: parent cycle through %s", ap.ID, parent)
			}
			visited[parent] = true

			ap.Position = ap.Position.Add(rel.position)
			parent = rel.parent
		}
		ap.Parent = ""
	}
	return nil
}
