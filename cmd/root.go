package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ctrlscan-api",
	Short: "Vulnerability management API with scan import and tracker sync",
	Long: `ctrlscan-api stores products, engagements, tests and findings, validates
every write against the finding and endpoint rules, and ingests scanner
reports (Grype, Trivy, Semgrep, Gitleaks, SARIF, ...) into tests.

Get started:
  ctrlscan-api migrate     Create or upgrade the database schema
  ctrlscan-api doctor      Verify database, trackers and notifications
  ctrlscan-api serve       Start the REST + SSE API server
  ctrlscan-api import      Import a report file into an engagement
  ctrlscan-api reimport    Reconcile a report file against an existing test`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ~/.ctrlscan-api/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable verbose/debug output")

	rootCmd.Version = Version
	rootCmd.AddCommand(
		serveCmd,
		importCmd,
		reimportCmd,
		migrateCmd,
		configCmd,
		doctorCmd,
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
		slog.Debug("Verbose logging enabled")
	}
}
