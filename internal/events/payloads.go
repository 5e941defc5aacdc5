package events

// ActionStateBeforeData is emitted before an instrumented action runs.
// Parameters are the JSON encodings of positional arguments; a value JSON
// cannot represent is sent in its plain text form. Blocking actions hold
// their object until they finish.
type ActionStateBeforeData struct {
	ActionID        string            `json:"action_id,omitempty"`
	ObjectID        string            `json:"object_id"`
	ActionName      string            `json:"action_name"`
	Parameters      []string          `json:"parameters,omitempty"`
	NamedParameters map[string]string `json:"named_parameters,omitempty"`
	Blocking        bool              `json:"blocking,omitempty"`
}

// ActionStateAfterData is emitted after an instrumented action returned
// without error.
type ActionStateAfterData struct {
	ActionID   string   `json:"action_id,omitempty"`
	ObjectID   string   `json:"object_id"`
	ActionName string   `json:"action_name"`
	Results    []string `json:"results,omitempty"`
}

type PackageStateData struct {
	State     string `json:"state"`
	PackageID string `json:"package_id,omitempty"`
}

// ProjectExceptionData reports an error to the supervisor. Handled is
// true when the runtime recovered from the error on its own.
type ProjectExceptionData struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Handled bool   `json:"handled"`
}

// PackageInfoData is the environment snapshot of a run.
type PackageInfoData struct {
	PackageID       string `json:"package_id"`
	PackageName     string `json:"package_name"`
	RunID           string `json:"run_id"`
	Scene           any    `json:"scene"`
	Project         any    `json:"project"`
	CollisionModels any    `json:"collision_models"`
}

type RobotEefData struct {
	RobotID      string         `json:"robot_id"`
	EndEffectors []EefPoseEntry `json:"end_effectors"`
}

type EefPoseEntry struct {
	EndEffectorID string `json:"end_effector_id"`
	Pose          any    `json:"pose"`
}

type RobotJointsData struct {
	RobotID string `json:"robot_id"`
	Joints  any    `json:"joints"`
}
