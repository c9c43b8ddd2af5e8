package host

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/golang/glog"

	"github.com/chenyanchen/apporch"
)

// Shell runs literal restart commands through a POSIX shell.
type Shell struct {
	// Path is the shell binary. Defaults to /bin/sh.
	Path string
	// Dir is the working directory of the command. When empty, the path of
	// the Application carried by the context is used, if any.
	Dir    string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

var _ apporch.CommandRunner = (*Shell)(nil)

func (s *Shell) Run(ctx context.Context, command string) error {
	if command == "" {
		return fmt.Errorf("run command: %w: command is empty", apporch.ErrInvalidArgument)
	}
	shell := s.Path
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = s.Dir
	if cmd.Dir == "" {
		if app, ok := apporch.ApplicationFrom(ctx); ok {
			cmd.Dir = app.Path()
		}
	}
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr

	glog.V(2).Infof("running %q", command)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %q: %w", command, err)
	}
	return nil
}
