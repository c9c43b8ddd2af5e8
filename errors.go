package apporch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument indicates that a caller-provided value violates
	// a precondition.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSealed means a sub-resource was bound after the lifecycle started.
	ErrSealed = errors.New("deployment is sealed")
)

// ResourceNotFoundError means no candidate type for a requested name is registered.
type ResourceNotFoundError struct {
	Name       string
	Candidates []string
}

func (e ResourceNotFoundError) Error() string {
	return fmt.Sprintf("no resource found for %q: tried %s", e.Name, strings.Join(e.Candidates, ", "))
}

// InstantiationError means a registered candidate failed to decode or build.
// It is never treated as a lookup miss.
type InstantiationError struct {
	Name      string
	Candidate string
	Err       error
}

func (e InstantiationError) Error() string {
	return fmt.Sprintf("instantiate resource %q for %q: %v", e.Candidate, e.Name, e.Err)
}

func (e InstantiationError) Unwrap() error { return e.Err }

// SelfResource identifies the Deployment itself in a PhaseError.
const SelfResource = "self"

// PhaseError means a lifecycle step failed. Resource is SelfResource for
// steps run by the Deployment itself.
type PhaseError struct {
	Deployment string
	Phase      Phase
	Resource   string
	Err        error
}

func (e PhaseError) Error() string {
	return fmt.Sprintf("deployment %s: phase %s failed for %s: %v", e.Deployment, e.Phase, e.Resource, e.Err)
}

func (e PhaseError) Unwrap() error { return e.Err }
