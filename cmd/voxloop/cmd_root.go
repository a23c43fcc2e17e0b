package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxloop-dev/voxloop/pkg/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "voxloop",
	Short: "Turn-based voice conversation orchestrator",
	Long: `Voxloop answers a voice gateway's speech webhooks one turn at a
time: it normalizes the recognized speech, generates (or falls back
to) a reply, and responds with the markup the gateway speaks next.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to YAML configuration file")
	rootCmd.AddCommand(serveCmd, dialCmd, versionCmd)
}

// loadConfig loads the file given by --config, or environment-backed
// defaults when the flag is unset.
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
