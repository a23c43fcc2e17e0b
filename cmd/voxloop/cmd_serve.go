package main

import (
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxloop-dev/voxloop"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and ops servers",
	Long: `Starts the voice webhook listener, the /health and /metrics ops
server, and the session reaper. Runs until SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Printf("Starting Voxloop Orchestrator v%s", Version)

	app, err := voxloop.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		return err
	}

	log.Printf("Orchestrator stopped")
	return nil
}
