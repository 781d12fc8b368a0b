// Package commands implements the atctl CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is injected at build time.
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           "atctl",
	Short:         "atctl runs and inspects an AT command engine",
	Long:          `atctl loads a port configuration, starts the AT command engine, and exposes diagnostics and metrics over HTTP while it runs.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: built-in single loopback port)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(serveDiagnosticsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print atctl's version",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := cmd.OutOrStdout().Write([]byte(Version + "\n"))
		return err
	},
}

// Exit prints an error to stderr and exits with status 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
