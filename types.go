package apporch

import (
	"context"
	"encoding/json"
)

// Action is what a Deployment or SubResource is asked to do.
type Action string

const (
	ActionDeploy  Action = "deploy"
	ActionRestart Action = "restart"
	// ActionNothing is forced on every bound sub-resource: children only act
	// when the coordinating Deployment drives them.
	ActionNothing Action = "nothing"
)

// Phase is one step of the deployment lifecycle.
type Phase string

const (
	PhaseEnsureDirectory Phase = "ensure-parent-directory"
	PhaseBindPath        Phase = "create-path-binding"
	PhasePreCompile      Phase = "pre-compile"
	PhasePreMigrate      Phase = "pre-migrate"
	PhasePreDeploy       Phase = "pre-deploy"
	PhasePreRestart      Phase = "pre-restart"
	PhaseRestart         Phase = "restart"
)

// DeployPhases is the full phase order of the deploy action.
var DeployPhases = []Phase{
	PhaseEnsureDirectory,
	PhaseBindPath,
	PhasePreCompile,
	PhasePreMigrate,
	PhasePreDeploy,
	PhasePreRestart,
	PhaseRestart,
}

// RestartPhases is the phase order of the restart action.
var RestartPhases = []Phase{
	PhasePreRestart,
	PhaseRestart,
}

// Application is the read-only view of a Deployment that sub-resources see
// through their back-reference.
type Application interface {
	Name() string
	EnvironmentName() string
	Path() string
	ReleasePath() string
	SharedPath() string
	SharedFolder() string
	Source() string
	Owner() string
	Group() string
}

// Resource is the provider-specific implementation behind a SubResource.
//
// RunPhase is called once per propagated phase (pre-compile, pre-migrate,
// pre-deploy, pre-restart). Implementations ignore phases they have no work for.
type Resource interface {
	RunPhase(ctx context.Context, phase Phase, app Application) error
}

// ResourceFunc adapts a function to Resource.
type ResourceFunc func(ctx context.Context, phase Phase, app Application) error

func (f ResourceFunc) RunPhase(ctx context.Context, phase Phase, app Application) error {
	return f(ctx, phase, app)
}

// Definition describes how one resource type is instantiated.
//
// Decode converts raw options into Cfg. Defaults to JSON decoding.
// Build constructs the resource and must be provided.
type Definition[Cfg any] struct {
	Decode func(raw json.RawMessage) (Cfg, error)
	Build  func(ctx context.Context, cfg Cfg) (Resource, error)
}

// RestartCommand is either a literal shell command or a zero-argument callback.
type RestartCommand struct {
	Command string
	Func    func() error
}

// Shell returns a RestartCommand that hands command to the CommandRunner.
func Shell(command string) RestartCommand {
	return RestartCommand{Command: command}
}

// Callback returns a RestartCommand that invokes fn.
func Callback(fn func() error) RestartCommand {
	return RestartCommand{Func: fn}
}

func (c RestartCommand) String() string {
	if c.Func != nil {
		return "<callback>"
	}
	return c.Command
}

// DirectoryService creates directories.
type DirectoryService interface {
	// Ensure creates path. Existing directories are not an error.
	Ensure(ctx context.Context, path string, recursive bool) error
}

// BindingService creates path bindings (symlinks).
type BindingService interface {
	// Bind points linkPath at targetPath. A binding that already points at
	// targetPath is not an error.
	Bind(ctx context.Context, linkPath string, targetPath string) error
}

// CommandRunner runs literal restart commands.
type CommandRunner interface {
	Run(ctx context.Context, command string) error
}

// EnvironmentSource supplies the ambient environment name.
type EnvironmentSource interface {
	EnvironmentName() string
}

// EnvironmentName is a fixed EnvironmentSource.
type EnvironmentName string

func (e EnvironmentName) EnvironmentName() string { return string(e) }

// NamespaceSource enumerates loaded extension namespaces in load order.
type NamespaceSource interface {
	Namespaces() []string
}

// Namespaces is a fixed NamespaceSource.
type Namespaces []string

func (n Namespaces) Namespaces() []string { return append([]string(nil), n...) }
