package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratumsec/warden/router"
)

// processCmd routes a single notification envelope, the way a
// queue-triggered invocation would.
var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Process one notification envelope",
	Long: `Process a single delivery envelope from a file or stdin.

The envelope is a JSON record with "Subject" and "Message" fields, or a
bare notification body. Unclassifiable notifications are ignored and
exit successfully, matching queue semantics.`,
	Example: `  warden process notification.json
  cat notification.json | warden process`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	body, err := readInput(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	shutdown := initTelemetry(ctx)
	defer shutdown()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}

	var envelope router.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Message == "" {
		envelope = router.Envelope{Message: string(body)}
	}

	return p.router.Route(ctx, envelope)
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 1 {
		body, err := os.ReadFile(args[0]) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", args[0], err)
		}
		return body, nil
	}
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return body, nil
}
