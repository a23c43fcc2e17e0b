package main

import (
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/voxloop-dev/voxloop/internal/twiml"
	"github.com/voxloop-dev/voxloop/internal/webhook"
)

var dialCmd = &cobra.Command{
	Use:   "dial",
	Short: "Mint a call id and print the initial call document",
	Long: `Produces the greeting markup an external dialer hands to the voice
gateway when placing the first outbound call. The conversation itself
is then driven by the gateway calling back into a running serve
instance.`,
	RunE: runDial,
}

func runDial(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	plan, err := cfg.StagePlan()
	if err != nil {
		return err
	}

	callID := "VX" + uuid.NewString()
	first, _ := plan.Stage(0)

	doc, err := twiml.Continue(plan.Greeting, twiml.NextTurn{
		Prompt:          first.Prompt,
		ListenTimeout:   first.ListenTimeout.Std(),
		SilenceLine:     first.SilenceLine,
		RepeatOnSilence: first.RepeatOnSilence,
	}, twiml.RenderOptions{
		Voice:       cfg.Server.Voice,
		Language:    cfg.Server.Language,
		CallbackURL: cfg.Server.CallbackBaseURL + webhook.TurnPath,
	})
	if err != nil {
		return fmt.Errorf("render initial document: %w", err)
	}

	log.Printf("call id: %s", callID)
	fmt.Fprintln(cmd.OutOrStdout(), string(doc))
	return nil
}
