package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "testpkg",
	Short: "Test package driver for OpenAssetIO",
	Long: `This command builds the OpenAssetIO test package against a given package reference.
It resolves the requirements from a lockfile, downloads missing packages, generates the
CMake toolchain and finally configures, builds and runs the test program.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "tool config file (defaults to testpkg.toml if it exists)")
	flags.StringP("profile", "p", "", "TOML profile describing the target (overrides the config)")
	flags.StringP("lockfile", "l", "", "lockfile listing the available packages (overrides the config)")
	flags.String("log-level", "", "one of debug, info, warn or error (overrides the config)")
}

func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
