package commands

import (
	"github.com/spf13/cobra"
)

var serveDiagnosticsAddr string

var serveDiagnosticsCmd = &cobra.Command{
	Use:   "serve-diagnostics",
	Short: "start the engine with the diagnostics HTTP server forced on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEngine(cfgFile, serveDiagnosticsAddr)
	},
}

func init() {
	serveDiagnosticsCmd.Flags().StringVar(&serveDiagnosticsAddr, "addr", ":8081", "address for the diagnostics HTTP server")
}
