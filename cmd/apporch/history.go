package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chenyanchen/apporch/history"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "List recorded runs, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.historyPath == "" {
				return errors.New("history: --history is not set")
			}
			db, err := history.Open(opts.historyPath)
			if err != nil {
				return err
			}
			defer db.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			runs, err := (&history.Store{DB: db}).List(cmd.Context(), name, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "STARTED\tDEPLOYMENT\tACTION\tENVIRONMENT\tSTATUS\tSTEPS\tFAILED AT")
			for _, run := range runs {
				status := color.GreenString(string(run.Status))
				failedAt := ""
				if run.Status == history.StatusFailed {
					status = color.RedString(string(run.Status))
					failedAt = fmt.Sprintf("%s %s", run.Phase, run.Resource)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
					run.StartedAt.Local().Format(time.DateTime), run.Deployment, run.Action,
					run.Environment, status, run.Steps, failedAt)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs; 0 lists all")
	return cmd
}
