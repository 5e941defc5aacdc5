package scene

import (
	"errors"
	"fmt"
)

// ModelType names the geometry of a collision model.
type ModelType string

const (
	ModelBox      ModelType = "Box"
	ModelSphere   ModelType = "Sphere"
	ModelCylinder ModelType = "Cylinder"
	ModelMesh     ModelType = "Mesh"
)

// Model is a collision model of one of the supported geometries.
type Model interface {
	ModelID() string
	ModelType() ModelType
}

type Box struct {
	ID    string  `json:"id"`
	SizeX float64 `json:"size_x"`
	SizeY float64 `json:"size_y"`
	SizeZ float64 `json:"size_z"`
}

func (b *Box) ModelID() string      { return b.ID }
func (b *Box) ModelType() ModelType { return ModelBox }

// Validate checks that no dimension is negative and at most one is zero.
func (b *Box) Validate() error {
	dims := []float64{b.SizeX, b.SizeY, b.SizeZ}
	positive := 0
	for _, d := range dims {
		if d < 0 {
			return errors.New("box dimensions have to be positive")
		}
		if d > 0 {
			positive++
		}
	}
	if positive < 2 {
		return errors.New("only one dimension of a box can be zero")
	}
	return nil
}

type Sphere struct {
	ID     string  `json:"id"`
	Radius float64 `json:"radius"`
}

func (s *Sphere) ModelID() string      { return s.ID }
func (s *Sphere) ModelType() ModelType { return ModelSphere }

func (s *Sphere) Validate() error {
	if s.Radius <= 0 {
		return errors.New("sphere radius has to be positive")
	}
	return nil
}

type Cylinder struct {
	ID     string  `json:"id"`
	Radius float64 `json:"radius"`
	Height float64 `json:"height"`
}

func (c *Cylinder) ModelID() string      { return c.ID }
func (c *Cylinder) ModelType() ModelType { return ModelCylinder }

func (c *Cylinder) Validate() error {
	if c.Radius <= 0 || c.Height <= 0 {
		return errors.New("cylinder dimensions have to be positive")
	}
	return nil
}

type Mesh struct {
	ID          string `json:"id"`
	DataID      string `json:"data_id"`
	FocusPoints []Pose `json:"focus_points,omitempty"`
}

func (m *Mesh) ModelID() string      { return m.ID }
func (m *Mesh) ModelType() ModelType { return ModelMesh }

// ObjectModel is the on-disk representation of an object type's model.
type ObjectModel struct {
	Type     ModelType `json:"type"`
	Box      *Box      `json:"box,omitempty"`
	Sphere   *Sphere   `json:"sphere,omitempty"`
	Cylinder *Cylinder `json:"cylinder,omitempty"`
	Mesh     *Mesh     `json:"mesh,omitempty"`
}

// Model returns the model selected by Type, validated.
func (om *ObjectModel) Model() (Model, error) {
	switch om.Type {
	case ModelBox:
		if om.Box == nil {
			return nil, errors.New("model type Box without box data")
		}
		return om.Box, om.Box.Validate()
	case ModelSphere:
		if om.Sphere == nil {
			return nil, errors.New("model type Sphere without sphere data")
		}
		return om.Sphere, om.Sphere.Validate()
	case ModelCylinder:
		if om.Cylinder == nil {
			return nil, errors.New("model type Cylinder without cylinder data")
		}
		return om.Cylinder, om.Cylinder.Validate()
	case ModelMesh:
		if om.Mesh == nil {
			return nil, errors.New("model type Mesh without mesh data")
		}
		return om.Mesh, nil
	default:
		return nil, fmt.Errorf("unsupported model type: %q", om.Type)
	}
}

// CollisionModels groups collision models by geometry.
type CollisionModels struct {
	Boxes     []Box      `json:"boxes"`
	Spheres   []Sphere   `json:"spheres"`
	Cylinders []Cylinder `json:"cylinders"`
	Meshes    []Mesh     `json:"meshes"`
}

// Add appends m to the matching group. Nil models and models whose id was
// already added are ignored; it reports whether m was added.
func (cm *CollisionModels) Add(m Model) bool {
	if m == nil || cm.contains(m) {
		return false
	}
	switch v := m.(type) {
	case *Box:
		cm.Boxes = append(cm.Boxes, *v)
	case *Sphere:
		cm.Spheres = append(cm.Spheres, *v)
	case *Cylinder:
		cm.Cylinders = append(cm.Cylinders, *v)
	case *Mesh:
		cm.Meshes = append(cm.Meshes, *v)
	default:
		return false
	}
	return true
}

// Len returns the total number of models.
func (cm *CollisionModels) Len() int {
	return len(cm.Boxes) + len(cm.Spheres) + len(cm.Cylinders) + len(cm.Meshes)
}

func (cm *CollisionModels) contains(m Model) bool {
	id := m.ModelID()
	switch m.ModelType() {
	case ModelBox:
		for _, b := range cm.Boxes {
			if b.ID == id {
				return true
			}
		}
	case ModelSphere:
		for _, s := range cm.Spheres {
			if s.ID == id {
				return true
			}
		}
	case ModelCylinder:
		for _, c := range cm.Cylinders {
			if c.ID == id {
				return true
			}
		}
	case ModelMesh:
		for _, me := range cm.Meshes {
			if me.ID == id {
				return true
			}
		}
	}
	return false
}
