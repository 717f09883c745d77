// Command tower is the clinical supply control tower CLI. It answers
// questions against the supply chain database with full citations and runs
// the autonomous supply watchdog scan.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"controltower/internal/config"
	"controltower/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "tower",
	Short: "Clinical supply control tower",
	Long: `tower answers natural-language questions against the clinical trial
supply chain database and emits periodic risk alerts.

Every factual claim in an answer is cited back to a specific table, column
and value. Questions with ambiguous entity names are resolved interactively
before anything is queried.

Run "tower ask" for the interactive prompt, "tower watch" for the autonomous
supply risk scan.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Init(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "tower.yaml", "path to the configuration file")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
