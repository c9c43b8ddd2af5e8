package providers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/chenyanchen/apporch"
)

// DefaultDatabaseFile is where rails reads its database settings, relative
// to the release path.
const DefaultDatabaseFile = "config/database.yml"

type RailsOptions struct {
	// Bundler requires a Gemfile in the release.
	Bundler bool `json:"bundler"`
	// Database is written to the database file under the deployment's
	// environment name. Nothing is written when empty.
	Database     map[string]any `json:"database,omitempty"`
	DatabaseFile string         `json:"database_file,omitempty"`
}

// Rails checks a rails release and renders its database settings.
type Rails struct {
	fs   afero.Fs
	opts RailsOptions
}

func newRails(fs afero.Fs, opts RailsOptions) *Rails {
	if opts.DatabaseFile == "" {
		opts.DatabaseFile = DefaultDatabaseFile
	}
	return &Rails{fs: fs, opts: opts}
}

func (r *Rails) Options() RailsOptions { return r.opts }

func (r *Rails) RunPhase(_ context.Context, phase apporch.Phase, app apporch.Application) error {
	switch phase {
	case apporch.PhasePreCompile:
		if !r.opts.Bundler {
			return nil
		}
		gemfile := filepath.Join(app.ReleasePath(), "Gemfile")
		ok, err := afero.Exists(r.fs, gemfile)
		if err != nil {
			return fmt.Errorf("check %s: %w", gemfile, err)
		}
		if !ok {
			return fmt.Errorf("bundler enabled but %s is missing", gemfile)
		}
	case apporch.PhasePreDeploy:
		if len(r.opts.Database) == 0 {
			return nil
		}
		return r.writeDatabaseFile(app)
	}
	return nil
}

func (r *Rails) writeDatabaseFile(app apporch.Application) error {
	path := filepath.Join(app.ReleasePath(), r.opts.DatabaseFile)
	payload, err := yaml.Marshal(map[string]map[string]any{
		app.EnvironmentName(): r.opts.Database,
	})
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	if err := r.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(r.fs, path, payload, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
