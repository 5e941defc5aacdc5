package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robofit/arcor2-sub003/internal/events"
	"github.com/robofit/arcor2-sub003/internal/scene"
)

// PoseReporter is implemented by robots that can report end-effector poses.
type PoseReporter interface {
	EndEffectorIDs(ctx context.Context) ([]string, error)
	EndEffectorPose(ctx context.Context, endEffectorID string) (scene.Pose, error)
}

// JointReporter is implemented by robots that can report joint values.
type JointReporter interface {
	RobotJoints(ctx context.Context) ([]scene.Joint, error)
}

// Streamer periodically emits the state of one robot until stopped or
// until reading the state fails.
type Streamer struct {
	robotID string
	period  time.Duration
	poll    func(ctx context.Context) (string, any, error)
	emitter Emitter
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPoseStreamer(robotID string, r PoseReporter, period time.Duration, emitter Emitter, logger *slog.Logger) *Streamer {
	return &Streamer{
		robotID: robotID,
		period:  period,
		emitter: emitter,
		logger:  logger.With("robot", robotID, "stream", events.RobotEef),
		poll: func(ctx context.Context) (string, any, error) {
			ids, err := r.EndEffectorIDs(ctx)
			if err != nil {
				return "", nil, err
			}
			data := events.RobotEefData{RobotID: robotID, EndEffectors: make([]events.EefPoseEntry, 0, len(ids))}
			for _, id := range ids {
				pose, err := r.EndEffectorPose(ctx, id)
				if err != nil {
					return "", nil, err
				}
				data.EndEffectors = append(data.EndEffectors, events.EefPoseEntry{EndEffectorID: id, Pose: pose})
			}
			return events.RobotEef, data, nil
		},
	}
}

func newJointStreamer(robotID string, r JointReporter, period time.Duration, emitter Emitter, logger *slog.Logger) *Streamer {
	return &Streamer{
		robotID: robotID,
		period:  period,
		emitter: emitter,
		logger:  logger.With("robot", robotID, "stream", events.RobotJoints),
		poll: func(ctx context.Context) (string, any, error) {
			joints, err := r.RobotJoints(ctx)
			if err != nil {
				return "", nil, err
			}
			return events.RobotJoints, events.RobotJointsData{RobotID: robotID, Joints: joints}, nil
		},
	}
}

// Start begins the background loop.
func (s *Streamer) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the loop and waits for it to exit.
func (s *Streamer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Streamer) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			name, data, err := s.poll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("robot state streaming stopped", "error", err)
				}
				return
			}
			if err := s.emitter.Emit(name, data); err != nil {
				s.logger.Warn("robot state streaming stopped", "error", err)
				return
			}
		}
	}
}

func (r *Resources) startStreams() {
	if r.cfg.StreamingPeriod <= 0 || r.cfg.Emitter == nil {
		return
	}
	// Streams outlive the Open context and are stopped in teardown.
	ctx := context.Background()
	for _, inst := range r.graph.Instances() {
		if inst.Capability() != Robot {
			continue
		}
		if pr, ok := inst.Object().(PoseReporter); ok {
			s := newPoseStreamer(inst.ID(), pr, r.cfg.StreamingPeriod, r.cfg.Emitter, r.logger)
			s.Start(ctx)
			r.streams = append(r.streams, s)
		}
		if jr, ok := inst.Object().(JointReporter); ok {
			s := newJointStreamer(inst.ID(), jr, r.cfg.StreamingPeriod, r.cfg.Emitter, r.logger)
			s.Start(ctx)
			r.streams = append(r.streams, s)
		}
	}
}

func (r *Resources) stopStreams() {
	for _, s := range r.streams {
		s.Stop()
	}
	r.streams = nil
}
