package host

import (
	"os"

	"github.com/chenyanchen/apporch"
)

// EnvironmentVariable is the variable Env reads by default.
const EnvironmentVariable = "APPORCH_ENVIRONMENT"

// DefaultEnvironment is the ambient value when the variable is unset.
const DefaultEnvironment = "_default"

// Env reads the ambient environment name from a process environment variable.
type Env struct {
	Var string
	// Override wins over the variable when set.
	Override string
}

var _ apporch.EnvironmentSource = Env{}

func (e Env) EnvironmentName() string {
	if e.Override != "" {
		return e.Override
	}
	name := e.Var
	if name == "" {
		name = EnvironmentVariable
	}
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return DefaultEnvironment
}
