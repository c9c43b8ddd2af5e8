package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chenyanchen/apporch"
)

func newCandidatesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <name>",
		Short: "Show the type names tried when a deployment uses name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := opts.registry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			selected := false
			for _, candidate := range apporch.Candidates(args[0], reg.Namespaces()) {
				mark := "-"
				switch {
				case reg.Registered(candidate) && !selected:
					mark = color.GreenString("selected")
					selected = true
				case reg.Registered(candidate):
					mark = color.YellowString("shadowed")
				}
				_, _ = fmt.Fprintf(out, "%-32s %s\n", candidate, mark)
			}
			if !selected {
				return fmt.Errorf("no resource registered for %q", args[0])
			}
			return nil
		},
	}
}
