package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/chenyanchen/apporch/manifest"
)

type planFormat string

const (
	planFormatText    planFormat = "text"
	planFormatDOT     planFormat = "dot"
	planFormatMermaid planFormat = "mermaid"
)

var _ pflag.Value = (*planFormat)(nil)

func (f *planFormat) String() string { return string(*f) }

func (f *planFormat) Set(v string) error {
	switch planFormat(v) {
	case planFormatText, planFormatDOT, planFormatMermaid:
		*f = planFormat(v)
		return nil
	default:
		return fmt.Errorf("must be one of %s, %s, %s", planFormatText, planFormatDOT, planFormatMermaid)
	}
}

func (f *planFormat) Type() string { return "format" }

func newPlanCmd(opts *rootOptions) *cobra.Command {
	var path string
	format := planFormatText
	cmd := &cobra.Command{
		Use:   "plan [name...]",
		Short: "Print the steps each selected deployment would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := opts.loadDescriptions(path, args)
			if err != nil {
				return err
			}
			reg, err := opts.registry()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, desc := range descs {
				d, err := manifest.Build(cmd.Context(), reg, opts.env(), desc)
				if err != nil {
					return err
				}
				p := d.Plan()
				closeErr := d.Close(cmd.Context())

				switch format {
				case planFormatDOT:
					_, _ = fmt.Fprint(out, p.DOT())
				case planFormatMermaid:
					_, _ = fmt.Fprint(out, p.Mermaid())
				default:
					_, _ = fmt.Fprintf(out, "%s %s:\n%s", p.Action, p.Deployment, p.Text())
				}
				if closeErr != nil {
					return errors.Join(fmt.Errorf("plan %s", desc.Name), closeErr)
				}
			}
			return nil
		},
	}
	addManifestFlag(cmd, &path)
	cmd.Flags().Var(&format, "format", "Output format: text, dot or mermaid")
	return cmd
}
