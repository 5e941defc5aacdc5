package script

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/objects"
	"github.com/robofit/arcor2-sub003/internal/runtime"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

type nopCollisionScene struct{}

func (nopCollisionScene) Start(ctx context.Context) error              { return nil }
func (nopCollisionScene) Stop(ctx context.Context) error               { return nil }
func (nopCollisionScene) Started(ctx context.Context) (bool, error)    { return false, nil }
func (nopCollisionScene) DeleteAllCollisions(ctx context.Context) error { return nil }
func (nopCollisionScene) UpsertCollision(ctx context.Context, m scene.Model, p scene.Pose) error {
	return nil
}

func jsonParam(name, typ string, v any) scene.Parameter {
	b, _ := json.Marshal(v)
	return scene.Parameter{Name: name, Type: typ, Value: string(b)}
}

func fixture() (*scene.Scene, *scene.Project) {
	s := &scene.Scene{
		ID: "scn",
		Objects: []scene.SceneObject{
			{ID: "robot", Name: "robot", Type: "DummyRobot", Pose: &scene.Pose{
				Position:    scene.Position{X: 1},
				Orientation: scene.IdentityOrientation(),
			}},
			{ID: "rnd", Name: "rnd", Type: "RandomActions"},
			{ID: "logic", Name: "logic", Type: "LogicActions"},
		},
	}
	joints := make([]scene.Joint, 6)
	for i := range joints {
		joints[i] = scene.Joint{Name: "joint", Value: float64(i)}
	}
	p := &scene.Project{
		ID:      "prj",
		SceneID: "scn",
		ActionPoints: []scene.ActionPoint{{
			ID:       "ap1",
			Name:     "ap1",
			Parent:   "robot",
			Position: scene.Position{Z: 0.5},
			Orientations: []scene.NamedOrientation{
				{ID: "o1", Name: "default", Orientation: scene.IdentityOrientation()},
			},
			RobotJoints: []scene.ProjectRobotJoints{{ID: "j1", RobotID: "robot", Joints: joints}},
			Actions: []scene.Action{
				{ID: "a1", Name: "move", Type: "robot/move_to_pose", Parameters: []scene.Parameter{
					jsonParam("pose", TypePose, "o1"),
				}},
				{ID: "a2", Name: "draw", Type: "rnd/random_integer", Parameters: []scene.Parameter{
					jsonParam("range_min", "integer", 5),
					jsonParam("range_max", "integer", 5),
				}},
				{ID: "a3", Name: "check", Type: "logic/equals", Parameters: []scene.Parameter{
					jsonParam("val1", TypeLink, "a2/default/0"),
					jsonParam("val2", "integer", 5),
				}},
				{ID: "a4", Name: "pose_joints", Type: "robot/move_to_joints", Parameters: []scene.Parameter{
					jsonParam("joints", TypeJoints, "j1"),
				}},
			},
		}},
	}
	return s, p
}

func TestSequenceRunsActionsInOrder(t *testing.T) {
	s, p := fixture()
	cat := runtime.NewCatalog()
	objects.Register(cat, objects.Deps{})
	em := events.NewEmitter(io.Discard)

	var robot *objects.DummyRobot
	seq := Sequence(Options{})
	err := runtime.Run(context.Background(), runtime.Config{
		PackageID:      "pkg",
		Scene:          s,
		Project:        p,
		Catalog:        cat,
		CollisionScene: nopCollisionScene{},
		Emitter:        em,
	}, func(ctx context.Context, res *runtime.Resources) error {
		inst, ok := res.Graph().Get("robot")
		require.True(t, ok)
		robot = inst.Object().(*objects.DummyRobot)
		return seq(ctx, res)
	})
	require.NoError(t, err)

	pose, err := robot.EndEffectorPose(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, scene.Position{X: 1, Z: 0.5}, pose.Position)
	assert.Equal(t, 2, robot.Moves())

	var before []string
	var checkResults []string
	for _, e := range em.Snapshot() {
		switch e.Name {
		case events.ActionStateBefore:
			var d events.ActionStateBeforeData
			require.NoError(t, json.Unmarshal(e.Data, &d))
			before = append(before, d.ActionID)
		case events.ActionStateAfter:
			var d events.ActionStateAfterData
			require.NoError(t, json.Unmarshal(e.Data, &d))
			if d.ActionID == "a3" {
				checkResults = d.Results
			}
		}
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, before)
	assert.Equal(t, []string{"true"}, checkResults)
}

func TestSequenceStopsOnError(t *testing.T) {
	s, p := fixture()
	p.ActionPoints[0].Actions[1].Type = "rnd/no_such_action"
	cat := runtime.NewCatalog()
	objects.Register(cat, objects.Deps{})

	err := runtime.Run(context.Background(), runtime.Config{
		Scene:          s,
		Project:        p,
		Catalog:        cat,
		CollisionScene: nopCollisionScene{},
	}, Sequence(Options{}))
	assert.ErrorContains(t, err, "has no action no_such_action")
}

func TestSequenceWithoutProject(t *testing.T) {
	s, _ := fixture()
	cat := runtime.NewCatalog()
	objects.Register(cat, objects.Deps{})

	err := runtime.Run(context.Background(), runtime.Config{
		Scene:          s,
		Catalog:        cat,
		CollisionScene: nopCollisionScene{},
	}, Sequence(Options{}))
	assert.NoError(t, err)
}

func TestSequenceLoopEndsOnCancel(t *testing.T) {
	s, p := fixture()
	cat := runtime.NewCatalog()
	objects.Register(cat, objects.Deps{})
	ctx, cancel := context.WithCancelCause(context.Background())

	runs := 0
	seq := Sequence(Options{Loop: true})
	err := runtime.Run(ctx, runtime.Config{
		Scene:          s,
		Project:        p,
		Catalog:        cat,
		CollisionScene: nopCollisionScene{},
	}, func(ctx context.Context, res *runtime.Resources) error {
		inst, _ := res.Graph().Get("robot")
		robot := inst.Object().(*objects.DummyRobot)
		go func() {
			for robot.Moves() < 6 {
				time.Sleep(time.Millisecond)
			}
			cancel(runtime.ErrInterrupted)
		}()
		err := seq(ctx, res)
		runs = robot.Moves()
		return err
	})
	assert.ErrorIs(t, err, runtime.ErrInterrupted)
	assert.GreaterOrEqual(t, runs, 6)
}

func TestResolve(t *testing.T) {
	_, p := fixture()
	require.NoError(t, scene.MakeActionPointsGlobal(&scene.Scene{ID: "scn", Objects: []scene.SceneObject{
		{ID: "robot", Pose: &scene.Pose{Orientation: scene.IdentityOrientation()}},
	}}, p))
	results := map[string][]any{"a2": {7}}

	v, err := Resolve(p, jsonParam("pose", TypePose, "o1"), results)
	require.NoError(t, err)
	assert.Equal(t, "ap1", v.(scene.ActionPointPose).ActionPointID())

	v, err = Resolve(p, jsonParam("joints", TypeJoints, "j1"), results)
	require.NoError(t, err)
	assert.Equal(t, "robot", v.(scene.ActionPointJoints).RobotID)

	v, err = Resolve(p, jsonParam("ap", TypeActionPoint, "ap1"), results)
	require.NoError(t, err)
	assert.Equal(t, "ap1", v.(*scene.ActionPoint).ID)

	v, err = Resolve(p, jsonParam("n", TypeLink, "a2/default/0"), results)
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = Resolve(p, jsonParam("speed", "double", 0.5), results)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)

	bad := []scene.Parameter{
		jsonParam("pose", TypePose, "missing"),
		jsonParam("joints", TypeJoints, "missing"),
		jsonParam("ap", TypeActionPoint, "missing"),
		jsonParam("pose", TypePose, 3),
		jsonParam("n", TypeLink, "a2/default"),
		jsonParam("n", TypeLink, "a2/other/0"),
		jsonParam("n", TypeLink, "a2/default/1"),
		jsonParam("n", TypeLink, "a9/default/0"),
		{Name: "x", Type: "double", Value: "{"},
	}
	for _, param := range bad {
		_, err := Resolve(p, param, results)
		assert.Error(t, err, "%s %s", param.Type, param.Value)
	}
}
