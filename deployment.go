package apporch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// DefaultSharedFolder is the shared folder used when a Spec leaves it empty.
	DefaultSharedFolder = "/vagrant"
	// ProductionEnvironment replaces ambient environment names that are not deployment environments.
	ProductionEnvironment = "production"
)

// DefaultEnvironmentName derives a Deployment's environment name from the
// ambient one. Placeholder environments ("_default", "foo_default", empty)
// map to production.
func DefaultEnvironmentName(ambient string) string {
	if ambient == "" || strings.Contains(ambient, "_default") {
		return ProductionEnvironment
	}
	return ambient
}

// Spec is the materialized description of one Deployment.
type Spec struct {
	Name            string `json:"name" yaml:"name"`
	EnvironmentName string `json:"environment_name,omitempty" yaml:"environment_name,omitempty"`
	Path            string `json:"path" yaml:"path"`
	Source          string `json:"source,omitempty" yaml:"source,omitempty"`
	SharedFolder    string `json:"shared_folder,omitempty" yaml:"shared_folder,omitempty"`
	Owner           string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Group           string `json:"group,omitempty" yaml:"group,omitempty"`
	Action          Action `json:"action,omitempty" yaml:"action,omitempty"`
}

// Deployment is the parent resource. Sub-resources are appended through Use
// until a lifecycle run seals it.
type Deployment struct {
	registry *Registry

	name            string
	environmentName string
	path            string
	source          string
	sharedFolder    string
	owner           string
	group           string
	action          Action

	mu        sync.Mutex
	sealed    bool
	resources []*SubResource
}

var _ Application = (*Deployment)(nil)

// NewDeployment builds a Deployment from spec. env supplies the ambient
// environment name when spec does not set one; it may be nil.
func NewDeployment(registry *Registry, spec Spec, env EnvironmentSource) (*Deployment, error) {
	if registry == nil {
		return nil, fmt.Errorf("new deployment: registry is nil")
	}
	if spec.Name == "" {
		return nil, fmt.Errorf("new deployment: %w: name is empty", ErrInvalidArgument)
	}

	action := spec.Action
	switch action {
	case "":
		action = ActionDeploy
	case ActionDeploy, ActionRestart:
	default:
		return nil, fmt.Errorf("new deployment %s: %w: unsupported action %q", spec.Name, ErrInvalidArgument, action)
	}

	envName := spec.EnvironmentName
	if envName == "" {
		ambient := ""
		if env != nil {
			ambient = env.EnvironmentName()
		}
		envName = DefaultEnvironmentName(ambient)
	}

	shared := spec.SharedFolder
	if shared == "" {
		shared = DefaultSharedFolder
	}
	source := spec.Source
	if source == "" {
		source = filepath.Join(shared, spec.Name)
	}

	return &Deployment{
		registry:        registry,
		name:            spec.Name,
		environmentName: envName,
		path:            spec.Path,
		source:          source,
		sharedFolder:    shared,
		owner:           spec.Owner,
		group:           spec.Group,
		action:          action,
	}, nil
}

func (d *Deployment) Name() string            { return d.name }
func (d *Deployment) EnvironmentName() string { return d.environmentName }
func (d *Deployment) Path() string            { return d.path }
func (d *Deployment) Source() string          { return d.source }
func (d *Deployment) SharedFolder() string    { return d.sharedFolder }
func (d *Deployment) Owner() string           { return d.owner }
func (d *Deployment) Group() string           { return d.group }
func (d *Deployment) Action() Action          { return d.action }

// ReleasePath is where the current release lives; it is the deployment path.
func (d *Deployment) ReleasePath() string { return d.path }

// SharedPath is where shared files live; it is the deployment path.
func (d *Deployment) SharedPath() string { return d.path }

// Use resolves name through the registry and binds the result as a new
// sub-resource. Each call appends a distinct sub-resource, even for a
// name already in use.
func (d *Deployment) Use(ctx context.Context, name string, options json.RawMessage) (*SubResource, error) {
	d.mu.Lock()
	sealed := d.sealed
	d.mu.Unlock()
	if sealed {
		return nil, fmt.Errorf("use %s in deployment %s: %w", name, d.name, ErrSealed)
	}

	res, resolved, err := d.registry.Resolve(ctx, name, options)
	if err != nil {
		return nil, fmt.Errorf("use %s in deployment %s: %w", name, d.name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sealed {
		return nil, fmt.Errorf("use %s in deployment %s: %w", name, d.name, ErrSealed)
	}
	sub := &SubResource{
		typ:      name,
		resolved: resolved,
		index:    len(d.resources),
		action:   ActionNothing,
		impl:     res,
	}
	sub.bind(d)
	d.resources = append(d.resources, sub)
	return sub, nil
}

// SubResources returns the bound sub-resources in binding order.
func (d *Deployment) SubResources() []*SubResource {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*SubResource(nil), d.resources...)
}

// Sealed reports whether a lifecycle run has started.
func (d *Deployment) Sealed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sealed
}

// seal fixes the sub-resource list and returns it.
func (d *Deployment) seal() []*SubResource {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = true
	return append([]*SubResource(nil), d.resources...)
}

// Close shuts down sub-resources that hold connections, in reverse
// binding order.
func (d *Deployment) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	resources := d.SubResources()

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		sub := resources[i]
		switch closer := sub.impl.(type) {
		case interface{ Close(context.Context) error }:
			if err := closer.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close resource %s: %w", sub.ID(), err))
			}
		case io.Closer:
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close resource %s: %w", sub.ID(), err))
			}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// SubResource is one capability bound to a Deployment.
//
// The back-reference to the Deployment is an observer handle only: the
// Deployment owns its sub-resources, never the other way around, and
// nothing here extends the Deployment's lifetime.
type SubResource struct {
	typ      string
	resolved string
	index    int
	action   Action
	restart  *RestartCommand
	impl     Resource

	app Application
}

// Type is the symbolic name used to request the sub-resource.
func (s *SubResource) Type() string { return s.typ }

// ResolvedType is the registered type name that satisfied the request.
func (s *SubResource) ResolvedType() string { return s.resolved }

// ID identifies the sub-resource within its Deployment.
func (s *SubResource) ID() string { return fmt.Sprintf("%s[%d]", s.typ, s.index) }

func (s *SubResource) Action() Action { return s.action }

// Resource returns the provider implementation for inline configuration.
func (s *SubResource) Resource() Resource { return s.impl }

// Application returns the owning Deployment's read-only view.
func (s *SubResource) Application() Application { return s.app }

// RestartCommand returns the configured restart command, if any.
func (s *SubResource) RestartCommand() (RestartCommand, bool) {
	if s.restart == nil {
		return RestartCommand{}, false
	}
	return *s.restart, true
}

// SetRestartCommand configures what the restart phase runs for this
// sub-resource. An empty command clears it.
func (s *SubResource) SetRestartCommand(cmd RestartCommand) *SubResource {
	if cmd.Command == "" && cmd.Func == nil {
		s.restart = nil
		return s
	}
	s.restart = &cmd
	return s
}

func (s *SubResource) bind(app Application) {
	s.app = app
}
