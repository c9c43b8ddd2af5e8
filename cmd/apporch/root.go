package main

import (
	"flag"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/chenyanchen/apporch"
	"github.com/chenyanchen/apporch/history"
	"github.com/chenyanchen/apporch/host"
	"github.com/chenyanchen/apporch/manifest"
	"github.com/chenyanchen/apporch/providers"
)

type rootOptions struct {
	historyPath string
	environment string
	verbose     int
	logToStderr bool
	logDir      string
	noColor     bool

	// fs is where manifests are read from.
	fs afero.Fs
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{fs: afero.NewOsFs()}

	cmd := &cobra.Command{
		Use:           "apporch",
		Short:         "Deploy and restart applications from a manifest",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			return initLogging(opts.logToStderr, opts.logDir, opts.verbose)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.historyPath, "history", "",
		"Record runs in the SQLite database at this path; empty disables history")
	cmd.PersistentFlags().StringVar(&opts.environment, "environment", "",
		"Environment name; overrides $"+host.EnvironmentVariable)
	cmd.PersistentFlags().IntVarP(&opts.verbose, "verbose", "v", 0,
		"Enable verbose logging (e.g., v=3); anything >3 is very verbose")
	cmd.PersistentFlags().BoolVar(&opts.logToStderr, "logtostderr", false,
		"Log to stderr instead of to files")
	cmd.PersistentFlags().StringVar(&opts.logDir, "log-dir", "",
		"Write log files to this directory instead of the temporary directory")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false,
		"Disable colorized output")

	cmd.AddCommand(
		newDeployCmd(opts),
		newRestartCmd(opts),
		newCandidatesCmd(opts),
		newPlanCmd(opts),
		newHistoryCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

// initLogging sets the glog flags from the command line.
func initLogging(logToStderr bool, logDir string, verbose int) error {
	if logToStderr {
		if err := flag.Set("logtostderr", "true"); err != nil {
			return fmt.Errorf("set logtostderr: %w", err)
		}
	}
	if logDir != "" {
		if err := flag.Set("log_dir", logDir); err != nil {
			return fmt.Errorf("set log_dir: %w", err)
		}
	}
	if verbose > 0 {
		if err := flag.Set("v", strconv.Itoa(verbose)); err != nil {
			return fmt.Errorf("set verbosity: %w", err)
		}
	}
	return nil
}

func (o *rootOptions) env() apporch.EnvironmentSource {
	return host.Env{Override: o.environment}
}

func (o *rootOptions) registry() (*apporch.Registry, error) {
	reg := apporch.NewRegistry()
	if err := providers.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// session is what every command that runs deployments needs.
type session struct {
	registry *apporch.Registry
	executor *apporch.Executor
	close    func()
}

func (o *rootOptions) openSession(cmd *cobra.Command) (*session, error) {
	reg, err := o.registry()
	if err != nil {
		return nil, err
	}
	files := host.NewOSFilesystem()
	shell := &host.Shell{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()}
	coord, err := apporch.NewCoordinator(files, files, shell)
	if err != nil {
		return nil, err
	}

	var execOpts []apporch.ExecutorOption
	closeFn := func() {}
	if o.historyPath != "" {
		db, err := history.Open(o.historyPath)
		if err != nil {
			return nil, err
		}
		execOpts = append(execOpts, apporch.WithRecorder(&history.Store{DB: db}))
		closeFn = func() { _ = db.Close() }
	}

	exec, err := apporch.NewExecutor(coord, execOpts...)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &session{registry: reg, executor: exec, close: closeFn}, nil
}

func (o *rootOptions) loadDescriptions(path string, names []string) ([]manifest.Description, error) {
	file, err := manifest.Load(o.fs, path)
	if err != nil {
		return nil, err
	}
	return file.Select(names...)
}

func addManifestFlag(cmd *cobra.Command, path *string) {
	cmd.Flags().StringVarP(path, "file", "f", "", "Manifest file")
	_ = cmd.MarkFlagRequired("file")
}
