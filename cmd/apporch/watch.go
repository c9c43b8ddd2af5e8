package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/chenyanchen/apporch/exp/converge"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		path     string
		interval time.Duration
		once     bool
	)
	cmd := &cobra.Command{
		Use:   "watch [name...]",
		Short: "Re-read the manifest periodically and run what changed",
		Long: "Re-read the manifest every interval and run the declared action of each\n" +
			"deployment whose description changed since its last successful run.\n" +
			"A failed deployment is retried on the next pass. EXPERIMENTAL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval <= 0 {
				return fmt.Errorf("watch: interval must be positive, got %s", interval)
			}
			s, err := opts.openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close()
			conv, err := converge.New(s.registry, opts.env(), s.executor)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				descs, err := opts.loadDescriptions(path, args)
				if err == nil {
					var res converge.Result
					res, err = conv.Converge(ctx, descs)
					for _, report := range res.Reports {
						printReport(out, report)
					}
					for _, name := range res.Removed {
						_, _ = fmt.Fprintf(out, "%s %s\n", name, color.YellowString("removed from manifest"))
					}
				}
				if err != nil {
					if once {
						return err
					}
					glog.Errorf("watch: %v", err)
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), color.RedString("%v", err))
				}
				if once {
					return nil
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	addManifestFlag(cmd, &path)
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Time between passes")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single pass and exit")
	return cmd
}
