// Package manifest loads deployment descriptions from YAML and builds
// apporch Deployments from them.
package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/chenyanchen/apporch"
)

// File is a manifest document.
type File struct {
	Deployments []Description `json:"deployments" yaml:"deployments"`
}

// Description is one deployment and the sub-resources it requests.
type Description struct {
	apporch.Spec `yaml:",inline"`
	Resources    []Request `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Request asks for a capability by symbolic name.
type Request struct {
	Use            string         `json:"use" yaml:"use"`
	RestartCommand string         `json:"restart_command,omitempty" yaml:"restart_command,omitempty"`
	Options        map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Parse decodes a manifest. Unknown fields are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse manifest: %w", err)
	}
	return f, nil
}

// Load reads, parses and validates the manifest at path.
func Load(fs afero.Fs, path string) (File, error) {
	payload, err := afero.ReadFile(fs, path)
	if err != nil {
		return File{}, fmt.Errorf("read manifest: %w", err)
	}
	f, err := Parse(payload)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate reports every problem in f at once.
func (f File) Validate() error {
	var result *multierror.Error
	seen := make(map[string]int, len(f.Deployments))
	for i, d := range f.Deployments {
		where := fmt.Sprintf("deployments[%d]", i)
		if d.Name == "" {
			result = multierror.Append(result, fmt.Errorf("%s: name is required", where))
		} else {
			where = fmt.Sprintf("deployment %q", d.Name)
			if first, dup := seen[d.Name]; dup {
				result = multierror.Append(result, fmt.Errorf("%s: duplicate of deployments[%d]", where, first))
			} else {
				seen[d.Name] = i
			}
		}
		if d.Path == "" {
			result = multierror.Append(result, fmt.Errorf("%s: path is required", where))
		}
		switch d.Action {
		case "", apporch.ActionDeploy, apporch.ActionRestart:
		default:
			result = multierror.Append(result, fmt.Errorf("%s: unsupported action %q", where, d.Action))
		}
		for j, r := range d.Resources {
			if r.Use == "" {
				result = multierror.Append(result, fmt.Errorf("%s: resources[%d]: use is required", where, j))
			}
		}
	}
	return result.ErrorOrNil()
}

// Select returns the descriptions named in names, in manifest order. No
// names selects all of them.
func (f File) Select(names ...string) ([]Description, error) {
	if len(names) == 0 {
		return append([]Description(nil), f.Deployments...), nil
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = false
	}
	var out []Description
	for _, d := range f.Deployments {
		if _, ok := wanted[d.Name]; ok {
			wanted[d.Name] = true
			out = append(out, d)
		}
	}
	var result *multierror.Error
	for _, n := range names {
		if !wanted[n] {
			result = multierror.Append(result, fmt.Errorf("deployment %q: %w", n, apporch.ErrInvalidArgument))
			wanted[n] = true
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// Build creates the Deployment for desc and binds its requested resources
// in order.
func Build(ctx context.Context, reg *apporch.Registry, env apporch.EnvironmentSource, desc Description) (*apporch.Deployment, error) {
	d, err := apporch.NewDeployment(reg, desc.Spec, env)
	if err != nil {
		return nil, err
	}
	for i, r := range desc.Resources {
		var raw json.RawMessage
		if len(r.Options) > 0 {
			raw, err = json.Marshal(r.Options)
			if err != nil {
				return nil, fmt.Errorf("deployment %s: resources[%d]: encode options: %w", desc.Name, i, err)
			}
		}
		sub, err := d.Use(ctx, r.Use, raw)
		if err != nil {
			return nil, fmt.Errorf("resources[%d]: %w", i, err)
		}
		if r.RestartCommand != "" {
			sub.SetRestartCommand(apporch.Shell(r.RestartCommand))
		}
	}
	return d, nil
}

// BuildAll builds every description in order, stopping at the first failure.
func BuildAll(ctx context.Context, reg *apporch.Registry, env apporch.EnvironmentSource, descs []Description) ([]*apporch.Deployment, error) {
	out := make([]*apporch.Deployment, 0, len(descs))
	for _, desc := range descs {
		d, err := Build(ctx, reg, env, desc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
