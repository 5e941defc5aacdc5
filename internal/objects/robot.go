package objects

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

const defaultEndEffector = "default"

var dummyJointNames = []string{"joint_1", "joint_2", "joint_3", "joint_4", "joint_5", "joint_6"}

// DummyRobot is a simulated robot. Moves take move_time seconds (setting,
// default 0) scaled by 1/speed and can be cancelled.
type DummyRobot struct {
	generic
	base   scene.Pose
	logger *slog.Logger

	mu     sync.Mutex
	eef    scene.Pose
	joints []scene.Joint
	moves  int
}

func dummyRobotType(deps Deps) runtime.TypeDef {
	return runtime.TypeDef{
		Name:       "DummyRobot",
		Capability: runtime.Robot,
		Factory: func(ctx context.Context, args runtime.ConstructArgs) (runtime.Object, error) {
			return NewDummyRobot(args, deps.Logger), nil
		},
		Actions: map[string]runtime.ActionDef{
			"move_to_pose":          {Fn: action(moveToPose)},
			"move_to_joints":        {Fn: action(moveToJoints)},
			"home":                  {Fn: action(home), Composite: true},
			"get_end_effector_pose": {Fn: action(getEndEffectorPose), Blocking: true},
		},
	}
}

func NewDummyRobot(args runtime.ConstructArgs, logger *slog.Logger) *DummyRobot {
	if logger == nil {
		logger = slog.Default()
	}
	r := &DummyRobot{
		generic: newGeneric(args),
		logger:  logger.With("object", args.ID),
		joints:  homeJoints(),
	}
	if args.Pose != nil {
		r.base = *args.Pose
	} else {
		r.base = scene.Pose{Orientation: scene.IdentityOrientation()}
	}
	r.eef = r.base
	return r
}

func homeJoints() []scene.Joint {
	j := make([]scene.Joint, len(dummyJointNames))
	for i, n := range dummyJointNames {
		j[i] = scene.Joint{Name: n}
	}
	return j
}

// EndEffectorIDs implements runtime.PoseReporter.
func (r *DummyRobot) EndEffectorIDs(ctx context.Context) ([]string, error) {
	return []string{defaultEndEffector}, nil
}

// EndEffectorPose implements runtime.PoseReporter.
func (r *DummyRobot) EndEffectorPose(ctx context.Context, id string) (scene.Pose, error) {
	if id != defaultEndEffector {
		return scene.Pose{}, fmt.Errorf("unknown end effector %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eef, nil
}

// RobotJoints implements runtime.JointReporter.
func (r *DummyRobot) RobotJoints(ctx context.Context) ([]scene.Joint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scene.Joint(nil), r.joints...), nil
}

// Moves returns the number of completed moves.
func (r *DummyRobot) Moves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.moves
}

func (r *DummyRobot) Cleanup(ctx context.Context) error {
	r.logger.Debug("robot released", "moves", r.Moves())
	return nil
}

func (r *DummyRobot) wait(ctx context.Context, speed float64) error {
	if speed <= 0 || speed > 1 {
		return fmt.Errorf("speed must be in (0, 1], got %v", speed)
	}
	moveTime := r.settings.Float("move_time", 0)
	return sleepCtx(ctx, time.Duration(moveTime/speed*float64(time.Second)))
}

func speedArg(args runtime.Args, i int) float64 {
	if s, err := args.Float("speed", i); err == nil {
		return s
	}
	return 1
}

func moveToPose(ctx context.Context, r *DummyRobot, args runtime.Args) (any, error) {
	eef, err := args.String("end_effector_id", 0)
	if err != nil {
		eef = defaultEndEffector
	}
	if eef != defaultEndEffector {
		return nil, fmt.Errorf("unknown end effector %s", eef)
	}
	pose, err := args.Pose("pose", 1)
	if err != nil {
		return nil, err
	}
	if n := pose.Orientation; n.X*n.X+n.Y*n.Y+n.Z*n.Z+n.W*n.W < 1e-9 {
		return nil, fmt.Errorf("invalid orientation")
	}
	if err := r.wait(ctx, speedArg(args, 2)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.eef = scene.Pose{Position: pose.Position, Orientation: pose.Orientation.Normalized()}
	r.moves++
	r.mu.Unlock()
	return nil, nil
}

func moveToJoints(ctx context.Context, r *DummyRobot, args runtime.Args) (any, error) {
	j, err := args.Joints("joints", 0)
	if err != nil {
		return nil, err
	}
	if j.RobotID != "" && j.RobotID != r.ID() {
		return nil, fmt.Errorf("joints %s belong to robot %s", j.ID, j.RobotID)
	}
	if len(j.Joints) != len(dummyJointNames) {
		return nil, fmt.Errorf("expected %d joints, got %d", len(dummyJointNames), len(j.Joints))
	}
	if err := r.wait(ctx, speedArg(args, 1)); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.joints = append([]scene.Joint(nil), j.Joints...)
	r.moves++
	r.mu.Unlock()
	return nil, nil
}

// home moves the joints to zero and the end effector back to the base.
func home(ctx context.Context, r *DummyRobot, args runtime.Args) (any, error) {
	if _, err := runtime.Call(ctx, "move_to_joints", scene.ProjectRobotJoints{RobotID: r.ID(), Joints: homeJoints()}); err != nil {
		return nil, err
	}
	return runtime.Call(ctx, "move_to_pose", defaultEndEffector, r.base)
}

func getEndEffectorPose(ctx context.Context, r *DummyRobot, args runtime.Args) (any, error) {
	eef, err := args.String("end_effector_id", 0)
	if err != nil {
		eef = defaultEndEffector
	}
	return r.EndEffectorPose(ctx, eef)
}
