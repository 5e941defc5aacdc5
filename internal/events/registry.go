package events

import (
	"fmt"
	"slices"
)

// Event names of the telemetry protocol.
const (
	PackageInfo       = "PackageInfo"
	PackageState      = "PackageState"
	ActionStateBefore = "ActionStateBefore"
	ActionStateAfter  = "ActionStateAfter"
	ProjectException  = "ProjectException"
	RobotEef          = "RobotEef"
	RobotJoints       = "RobotJoints"
)

var eventNames = []string{
	PackageInfo,
	PackageState,
	ActionStateBefore,
	ActionStateAfter,
	ProjectException,
	RobotEef,
	RobotJoints,
}

// Names returns every event name the emitter accepts.
func Names() []string {
	return slices.Clone(eventNames)
}

// Validate rejects event names outside the protocol.
func Validate(event string) error {
	if !slices.Contains(eventNames, event) {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
