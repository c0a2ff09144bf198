package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/live-playground/internal/registry"
)

func newFrameworksCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "frameworks",
		Short: "List the supported frameworks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := registry.ParseKind(kind)
			if err != nil {
				return err
			}
			reg, err := registry.Default()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tKIND\tLANGUAGE")
			for _, fw := range reg.List(k) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", fw.ID, fw.Name, fw.Kind, fw.Language)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "frontend, backend or fullstack")
	return cmd
}
