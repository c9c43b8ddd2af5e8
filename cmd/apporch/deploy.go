package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chenyanchen/apporch"
	"github.com/chenyanchen/apporch/manifest"
)

func newDeployCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "deploy [name...]",
		Short: "Run the declared action of each selected deployment",
		Long: "Run the declared action (deploy unless the manifest says restart) of each\n" +
			"selected deployment, in manifest order. Without names every deployment runs.\n" +
			"The first failing deployment stops the command.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployments(cmd, opts, path, args, "")
		},
	}
	addManifestFlag(cmd, &path)
	return cmd
}

func newRestartCmd(opts *rootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "restart [name...]",
		Short: "Run the pre-restart and restart phases of each selected deployment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployments(cmd, opts, path, args, apporch.ActionRestart)
		},
	}
	addManifestFlag(cmd, &path)
	return cmd
}

// runDeployments executes the selected descriptions. A non-empty action
// overrides the declared one.
func runDeployments(cmd *cobra.Command, opts *rootOptions, path string, names []string, action apporch.Action) error {
	descs, err := opts.loadDescriptions(path, names)
	if err != nil {
		return err
	}
	s, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	out := cmd.OutOrStdout()
	for _, desc := range descs {
		if action != "" {
			desc.Action = action
		}
		d, err := manifest.Build(cmd.Context(), s.registry, opts.env(), desc)
		if err != nil {
			return err
		}
		report, err := s.executor.Execute(cmd.Context(), d)
		printReport(out, report)
		if err != nil {
			return err
		}
	}
	return nil
}

func printReport(out io.Writer, report apporch.Report) {
	status := color.GreenString("ok")
	if !report.Succeeded() {
		status = color.RedString("failed")
	}
	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	_, _ = fmt.Fprintf(out, "%s %s (%s): %s, %d steps in %s\n",
		report.Action, report.Deployment, report.Environment, status, len(report.Steps), elapsed)
}
