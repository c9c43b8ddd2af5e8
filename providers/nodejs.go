package providers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/chenyanchen/apporch"
)

type NodejsOptions struct {
	EntryPoint string `json:"entry_point,omitempty"`
}

// Nodejs checks that a node release has its entry point.
type Nodejs struct {
	fs   afero.Fs
	opts NodejsOptions
}

func newNodejs(fs afero.Fs, opts NodejsOptions) *Nodejs {
	if opts.EntryPoint == "" {
		opts.EntryPoint = "app.js"
	}
	return &Nodejs{fs: fs, opts: opts}
}

func (n *Nodejs) Options() NodejsOptions { return n.opts }

func (n *Nodejs) RunPhase(_ context.Context, phase apporch.Phase, app apporch.Application) error {
	if phase != apporch.PhasePreDeploy {
		return nil
	}
	entry := filepath.Join(app.ReleasePath(), n.opts.EntryPoint)
	ok, err := afero.Exists(n.fs, entry)
	if err != nil {
		return fmt.Errorf("check %s: %w", entry, err)
	}
	if !ok {
		return fmt.Errorf("entry point %s is missing", entry)
	}
	return nil
}
