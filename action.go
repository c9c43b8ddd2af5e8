package apporch

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/singleflight"
)

// Report is the outcome of one action run.
type Report struct {
	Deployment  string
	Action      Action
	Environment string
	Steps       []Step
	StartedAt   time.Time
	FinishedAt  time.Time
	// Err is the first error of the run, nil on success.
	Err error
}

// Succeeded reports whether the run completed without error.
func (r Report) Succeeded() bool { return r.Err == nil }

// Recorder stores run reports.
type Recorder interface {
	Record(ctx context.Context, report Report) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRecorder stores every finished report in rec. Recording failures are
// logged and do not change the run result.
func WithRecorder(rec Recorder) ExecutorOption {
	return func(e *Executor) {
		e.recorder = rec
	}
}

// WithClock overrides the clock used for report timestamps.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// Executor is the entry point for deployment actions.
//
// Concurrent runs of the same action on the same *Deployment share one
// execution. Different Deployments run independently, even when they
// share a name.
type Executor struct {
	coordinator *Coordinator
	recorder    Recorder
	now         func() time.Time

	sf singleflight.Group
}

func NewExecutor(coordinator *Coordinator, opts ...ExecutorOption) (*Executor, error) {
	if coordinator == nil {
		return nil, fmt.Errorf("new executor: coordinator is nil")
	}
	e := &Executor{
		coordinator: coordinator,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs the action configured on d.
func (e *Executor) Execute(ctx context.Context, d *Deployment) (Report, error) {
	if d == nil {
		return Report{}, fmt.Errorf("execute: %w: deployment is nil", ErrInvalidArgument)
	}
	switch d.Action() {
	case ActionRestart:
		return e.Restart(ctx, d)
	default:
		return e.Deploy(ctx, d)
	}
}

// Deploy ensures the parent directory of d's path, links the path to the
// source and runs every lifecycle phase.
func (e *Executor) Deploy(ctx context.Context, d *Deployment) (Report, error) {
	if d == nil {
		return Report{}, fmt.Errorf("deploy: %w: deployment is nil", ErrInvalidArgument)
	}
	if d.Path() == "" {
		return Report{}, fmt.Errorf("deploy %s: %w: path is empty", d.Name(), ErrInvalidArgument)
	}
	return e.run(ctx, d, ActionDeploy, DeployPhases)
}

// Restart runs the pre-restart and restart phases only.
func (e *Executor) Restart(ctx context.Context, d *Deployment) (Report, error) {
	if d == nil {
		return Report{}, fmt.Errorf("restart: %w: deployment is nil", ErrInvalidArgument)
	}
	return e.run(ctx, d, ActionRestart, RestartPhases)
}

func (e *Executor) run(ctx context.Context, d *Deployment, action Action, phases []Phase) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Only calls on the same Deployment value join; same-named
	// Deployments are distinct runs.
	key := fmt.Sprintf("%p/%s", d, action)

	v, err, shared := e.sf.Do(key, func() (any, error) {
		report := Report{
			Deployment:  d.Name(),
			Action:      action,
			Environment: d.EnvironmentName(),
			StartedAt:   e.now(),
		}

		runErr := e.coordinator.Run(ctx, d, phases, func(s Step) {
			report.Steps = append(report.Steps, s)
		})
		closeErr := d.Close(ctx)
		if closeErr != nil {
			glog.Warningf("deployment %s: close sub-resources: %v", d.Name(), closeErr)
		}
		if runErr == nil && closeErr != nil {
			runErr = fmt.Errorf("close sub-resources: %w", closeErr)
		}

		report.FinishedAt = e.now()
		report.Err = runErr
		if runErr != nil {
			glog.Errorf("deployment %s: %s failed after %d steps: %v", d.Name(), action, len(report.Steps), runErr)
		} else {
			glog.Infof("deployment %s: %s finished in %s (%d steps)", d.Name(), action, report.FinishedAt.Sub(report.StartedAt), len(report.Steps))
		}

		if e.recorder != nil {
			if err := e.recorder.Record(ctx, report); err != nil {
				glog.Warningf("deployment %s: record run: %v", d.Name(), err)
			}
		}
		return report, runErr
	})
	if shared {
		glog.V(3).Infof("deployment %s: joined an in-flight %s run", d.Name(), action)
	}
	report, _ := v.(Report)
	return report, err
}
