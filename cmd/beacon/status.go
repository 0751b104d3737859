package main

import (
	"github.com/spf13/cobra"
)

func newStatusCmd(g *globals) *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the system status as JSON",
		Long: `Print the coordinator, config and registry summary. Stale services are
reaped first. With --export every document and registry record is included.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, err := g.open()
			if err != nil {
				return err
			}
			defer sys.Close(cmd.Context())

			if export {
				return sys.ExportSystemState(cmd.Context(), cmd.OutOrStdout())
			}
			status, err := sys.SystemStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "Export every document and service record")
	return cmd
}
