package apporch

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/golang/glog"
)

// Step is one completed unit of a lifecycle run.
type Step struct {
	Phase    Phase  `json:"phase"`
	Resource string `json:"resource"`
	// Skipped is set for restart steps of children without a restart command.
	Skipped bool `json:"skipped,omitempty"`
}

type applicationKey struct{}

// WithApplication returns a copy of ctx that carries app.
func WithApplication(ctx context.Context, app Application) context.Context {
	return context.WithValue(ctx, applicationKey{}, app)
}

// ApplicationFrom returns the Application carried by ctx. Restart commands
// run by a Coordinator receive the Deployment this way.
func ApplicationFrom(ctx context.Context) (Application, bool) {
	app, ok := ctx.Value(applicationKey{}).(Application)
	return app, ok
}

// Coordinator drives phases over a Deployment and its sub-resources,
// strictly in order and one at a time. The first failure stops the run;
// nothing already done is undone.
type Coordinator struct {
	dirs     DirectoryService
	links    BindingService
	commands CommandRunner
}

func NewCoordinator(dirs DirectoryService, links BindingService, commands CommandRunner) (*Coordinator, error) {
	if dirs == nil {
		return nil, fmt.Errorf("new coordinator: directory service is nil")
	}
	if links == nil {
		return nil, fmt.Errorf("new coordinator: binding service is nil")
	}
	if commands == nil {
		return nil, fmt.Errorf("new coordinator: command runner is nil")
	}
	return &Coordinator{dirs: dirs, links: links, commands: commands}, nil
}

// Run seals d and executes phases in order. observe, if not nil, is called
// after every completed step.
func (c *Coordinator) Run(ctx context.Context, d *Deployment, phases []Phase, observe func(Step)) error {
	if d == nil {
		return fmt.Errorf("run: %w: deployment is nil", ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if observe == nil {
		observe = func(Step) {}
	}
	children := d.seal()

	for _, phase := range phases {
		var err error
		switch phase {
		case PhaseEnsureDirectory:
			err = c.ensureParentDirectory(ctx, d, observe)
		case PhaseBindPath:
			err = c.bindPath(ctx, d, observe)
		case PhasePreCompile, PhasePreMigrate, PhasePreDeploy, PhasePreRestart:
			err = c.propagate(ctx, d, children, phase, observe)
		case PhaseRestart:
			err = c.runRestart(ctx, d, children, observe)
		default:
			err = PhaseError{Deployment: d.name, Phase: phase, Resource: SelfResource, Err: fmt.Errorf("%w: unknown phase", ErrInvalidArgument)}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) ensureParentDirectory(ctx context.Context, d *Deployment, observe func(Step)) error {
	dir := filepath.Dir(d.path)
	glog.V(3).Infof("deployment %s: ensuring directory %s", d.name, dir)
	if err := c.dirs.Ensure(ctx, dir, true); err != nil {
		return PhaseError{Deployment: d.name, Phase: PhaseEnsureDirectory, Resource: SelfResource, Err: err}
	}
	observe(Step{Phase: PhaseEnsureDirectory, Resource: SelfResource})
	return nil
}

func (c *Coordinator) bindPath(ctx context.Context, d *Deployment, observe func(Step)) error {
	glog.V(3).Infof("deployment %s: linking %s to %s", d.name, d.path, d.source)
	if err := c.links.Bind(ctx, d.path, d.source); err != nil {
		return PhaseError{Deployment: d.name, Phase: PhaseBindPath, Resource: SelfResource, Err: err}
	}
	observe(Step{Phase: PhaseBindPath, Resource: SelfResource})
	return nil
}

func (c *Coordinator) propagate(ctx context.Context, d *Deployment, children []*SubResource, phase Phase, observe func(Step)) error {
	for _, child := range children {
		// A provider may have replaced its context since the last phase.
		child.bind(d)
		glog.V(3).Infof("deployment %s: %s %s", d.name, phase, child.ID())
		if err := child.impl.RunPhase(ctx, phase, child.app); err != nil {
			return PhaseError{Deployment: d.name, Phase: phase, Resource: child.ID(), Err: err}
		}
		observe(Step{Phase: phase, Resource: child.ID()})
	}
	return nil
}

func (c *Coordinator) runRestart(ctx context.Context, d *Deployment, children []*SubResource, observe func(Step)) error {
	for _, child := range children {
		child.bind(d)
		cmd, ok := child.RestartCommand()
		if !ok {
			observe(Step{Phase: PhaseRestart, Resource: child.ID(), Skipped: true})
			continue
		}
		glog.V(3).Infof("deployment %s: restart %s with %s", d.name, child.ID(), cmd)

		var err error
		if cmd.Func != nil {
			err = cmd.Func()
		} else {
			err = c.commands.Run(WithApplication(ctx, d), cmd.Command)
		}
		if err != nil {
			return PhaseError{Deployment: d.name, Phase: PhaseRestart, Resource: child.ID(), Err: err}
		}
		observe(Step{Phase: PhaseRestart, Resource: child.ID()})
	}
	return nil
}
