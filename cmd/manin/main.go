package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"manin/internal/config"
	"manin/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	pretty   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "manin",
		Short: "Penny stock scanner and analysis API",
		Long: `Manin screens low-priced US stocks, scores them with technical signals
and a naive forecast, and serves the results over a JSON API.

Examples:
  manin serve
  manin scan --mode full --limit 50
  manin analyze SNDL --full
  manin news SNDL NOK`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "human-readable console logs instead of JSON")

	rootCmd.AddCommand(
		newServeCmd(),
		newScanCmd(),
		newAnalyzeCmd(),
		newUniverseCmd(),
		newNewsCmd(),
		newMoonshotsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config and sets up logging. serve validates the
// full config; the other commands skip the server sections.
func loadConfig(cmd *cobra.Command, serving bool) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Log.Pretty = pretty
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty); err != nil {
		return nil, err
	}

	if serving {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateOffline()
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
