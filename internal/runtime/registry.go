package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/robofit/arcor2-sub003/internal/scene"
)

// Capability selects the construction argument shape of an object type.
type Capability int

const (
	// Plain objects take only id, name and settings.
	Plain Capability = iota
	// WithPose objects additionally take a pose and an optional collision model.
	WithPose
	// Robot objects additionally take a pose.
	Robot
)

func (c Capability) String() string {
	switch c {
	case Plain:
		return "plain"
	case WithPose:
		return "with_pose"
	case Robot:
		return "robot"
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

// Object is a live runtime object built from a scene object.
type Object interface {
	ID() string
	Cleanup(ctx context.Context) error
}

// ConstructArgs is the input of a Factory. Pose is set for WithPose and
// Robot types; Model only for WithPose types.
type ConstructArgs struct {
	ID       string
	Name     string
	Pose     *scene.Pose
	Model    scene.Model
	Settings scene.Settings
}

type Factory func(ctx context.Context, args ConstructArgs) (Object, error)

// ActionFunc implements one action of an object type.
type ActionFunc func(ctx context.Context, obj Object, args Args) (any, error)

// ActionDef is the instrumentation metadata of one action.
type ActionDef struct {
	Fn ActionFunc
	// Composite actions call other actions; only their own boundary is
	// reported.
	Composite bool
	// Blocking actions hold the robot until done.
	Blocking bool
}

// TypeDef describes an object type.
type TypeDef struct {
	Name       string
	Capability Capability
	Factory    Factory
	Actions    map[string]ActionDef
}

// ModulePath is the module an object type is loaded from.
func ModulePath(typeName string) string {
	return "object_types." + scene.Depascalize(typeName)
}

// Catalog holds every object type available to the process, keyed by
// module path. Registration happens at startup; registering the same
// module twice in one source panics.
type Catalog struct {
	mu      sync.RWMutex
	builtIn map[string]TypeDef
	user    map[string]TypeDef
}

func NewCatalog() *Catalog {
	return &Catalog{
		builtIn: make(map[string]TypeDef),
		user:    make(map[string]TypeDef),
	}
}

// RegisterBuiltIn registers a type shipped with the runtime.
func (c *Catalog) RegisterBuiltIn(def TypeDef) {
	c.register(c.builtIn, "built-in", def)
}

// RegisterUser registers a type provided by the project.
func (c *Catalog) RegisterUser(def TypeDef) {
	c.register(c.user, "user", def)
}

func (c *Catalog) register(into map[string]TypeDef, source string, def TypeDef) {
	if def.Name == "" || def.Factory == nil {
		panic(fmt.Sprintf("runtime: invalid %s type definition %q", source, def.Name))
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	path := ModulePath(def.Name)
	if _, exists := into[path]; exists {
		panic(fmt.Sprintf("runtime: %s type %s already registered", source, def.Name))
	}
	into[path] = def
}

// Types returns the names of all registered types, sorted.
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var names []string
	for _, d := range c.builtIn {
		names = append(names, d.Name)
	}
	for _, d := range c.user {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	return names
}

func (c *Catalog) lookup(typeName string) (builtIn, user *TypeDef) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := ModulePath(typeName)
	if d, ok := c.builtIn[path]; ok {
		builtIn = &d
	}
	if d, ok := c.user[path]; ok {
		user = &d
	}
	return builtIn, user
}

// Descriptor is a resolved object type with its instrumented action table.
type Descriptor struct {
	Name       string
	Capability Capability
	Factory    Factory
	Model      scene.Model

	actions map[string]ActionDef
}

// Action returns the instrumentation metadata of a method.
func (d *Descriptor) Action(method string) (ActionDef, bool) {
	a, ok := d.actions[method]
	return a, ok
}

// Actions returns the sorted names of all actions of the type.
func (d *Descriptor) Actions() []string {
	names := make([]string, 0, len(d.actions))
	for n := range d.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry resolves type names for one run. Every type is resolved at
// most once; later calls return the cached descriptor.
type Registry struct {
	catalog *Catalog
	models  map[string]scene.Model

	mu          sync.Mutex
	descriptors map[string]*Descriptor
}

// NewRegistry returns a resolver over catalog. models maps type names to
// their collision models; a missing or nil entry means no model.
func NewRegistry(catalog *Catalog, models map[string]scene.Model) *Registry {
	return &Registry{
		catalog:     catalog,
		models:      models,
		descriptors: make(map[string]*Descriptor),
	}
}

// Resolve returns the descriptor of typeName. Either the whole
// descriptor is cached or nothing is.
func (r *Registry) Resolve(typeName string) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.descriptors[typeName]; ok {
		return d, nil
	}

	builtIn, user := r.catalog.lookup(typeName)
	if builtIn != nil && user != nil {
		return nil, &DuplicateTypeError{Type: typeName}
	}
	def := builtIn
	if def == nil {
		def = user
	}
	// The module path is derived from the name, so a lookup may hit a
	// type with a different spelling.
	if def == nil || def.Name != typeName {
		return nil, &UnknownTypeError{Type: typeName}
	}

	d := &Descriptor{
		Name:       def.Name,
		Capability: def.Capability,
		Factory:    def.Factory,
		Model:      r.models[typeName],
		actions:    make(map[string]ActionDef, len(def.Actions)),
	}
	for name, a := range def.Actions {
		if a.Fn == nil {
			return nil, fmt.Errorf("type %s: action %s has no implementation", typeName, name)
		}
		d.actions[name] = a
	}

	r.descriptors[typeName] = d
	return d, nil
}

// Resolved returns the number of cached descriptors.
func (r *Registry) Resolved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.descriptors)
}
