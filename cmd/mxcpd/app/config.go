package app

import (
	"github.com/spf13/pflag"

	"github.com/mxcp-io/mxcp-core/internal/config"
	"github.com/mxcp-io/mxcp-core/internal/logger"
)

// newConfigLoader builds the config.Loader shared by every subcommand, so
// flags bound by one command (e.g. "serve") are visible through the same
// viper instance the root command's PersistentPreRun reads "log_level" from.
func newConfigLoader() *config.Loader {
	return config.NewLoader()
}

// bindFlag mirrors the teacher's viper.BindPFlag(key, flags.Lookup(name))
// error-checking convention (cmd/thv/app/commands.go), adapted to bind
// against a config.Loader's own viper instance instead of the package-level
// viper singleton.
func bindFlag(loader *config.Loader, flags *pflag.FlagSet, key, name string) {
	if err := loader.Viper().BindPFlag(key, flags.Lookup(name)); err != nil {
		logger.Errorf("mxcpd: binding --%s flag: %v", name, err)
	}
}
