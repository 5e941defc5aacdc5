package runtime

import (
	"fmt"
	"sync"

	"github.com/robofit/arcor2-sub003/internal/events"
)

// State is the run state of a package.
type State string

const (
	StateUndefined State = "undefined"
	StateRunning   State = "running"
	StatePausing   State = "pausing"
	StatePaused    State = "paused"
	StateResuming  State = "resuming"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

var validTransitions = map[State][]State{
	StateUndefined: {StateRunning},
	StateStopped:   {StateRunning},
	StateRunning:   {StatePausing, StateStopping},
	StatePausing:   {StatePaused, StateStopping},
	StatePaused:    {StateResuming, StateStopping},
	StateResuming:  {StateRunning, StateStopping},
	StateStopping:  {StateStopped},
}

// Emitter receives telemetry events.
type Emitter interface {
	Emit(name string, data any) error
}

// StateMachine tracks the package run state and emits a PackageState event
// on every change.
type StateMachine struct {
	mu        sync.Mutex
	state     State
	packageID string
	emitter   Emitter
}

func NewStateMachine(emitter Emitter, packageID string) *StateMachine {
	return &StateMachine{
		state:     StateUndefined,
		packageID: packageID,
		emitter:   emitter,
	}
}

// State returns the current state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanStart reports whether a new run may start.
func (m *StateMachine) CanStart() bool {
	s := m.State()
	return s == StateUndefined || s == StateStopped
}

// Transition moves to the given state. The event is emitted while the
// lock is held, so observers see transitions in order.
func (m *StateMachine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !canTransition(m.state, to) {
		return fmt.Errorf("invalid package state transition: %s -> %s", m.state, to)
	}
	m.state = to

	if m.emitter == nil {
		return nil
	}
	return m.emitter.Emit(events.PackageState, events.PackageStateData{
		State:     string(to),
		PackageID: m.packageID,
	})
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
