// Package app provides the entry point for the mxcpd command-line
// application, grounded on the teacher's cmd/vmcp/app/commands.go (a
// single-binary server CLI with a persistent --config flag bound through
// viper and a "serve" subcommand), generalized to MXCP's own
// config.Loader rather than vmcp's YAML-only loader.
package app

import (
	"github.com/spf13/cobra"

	"github.com/mxcp-io/mxcp-core/internal/logger"
)

// NewRootCmd creates the root mxcpd command.
func NewRootCmd() *cobra.Command {
	var loader = newConfigLoader()

	rootCmd := &cobra.Command{
		Use:               "mxcpd",
		DisableAutoGenTag: true,
		Short:             "mxcpd is the MXCP gateway daemon",
		Long: `mxcpd exposes a directory of declared tools, resources and prompts over the
Model Context Protocol, backed by an embedded SQL engine and native
functions, fronted by its own OAuth 2.0 authorization surface and a CEL
policy engine, with zero-downtime hot reload of the whole serving stack.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("mxcpd: displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize(loader.Viper().GetString("log_level"), loader.Viper().GetBool("log_unstructured"))
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to mxcpd YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-unstructured", false, "Log human-readable text instead of JSON")
	bindFlag(loader, rootCmd.PersistentFlags(), "log_level", "log-level")
	bindFlag(loader, rootCmd.PersistentFlags(), "log_unstructured", "log-unstructured")

	rootCmd.AddCommand(newServeCmd(loader))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("mxcpd version: %s", version)
		},
	}
}

// version is overridden at build time via -ldflags.
var version = "dev"
