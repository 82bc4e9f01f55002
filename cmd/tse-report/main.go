// Command tse-report serves and operates the TSE surveillance report engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configDir string
	local     bool
}

var rootCmd = &cobra.Command{
	Use:   "tse-report",
	Short: "TSE surveillance report engine",
	Long: "tse-report imports, amends and copies TSE surveillance reports,\n" +
		"fills default analytical results and tracks their submission to\n" +
		"the central data collection system.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.configDir, "config", "", "directory holding config.yaml")
	f.BoolVar(&rootFlags.local, "local", false, "use the environment-only local configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(amendCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
