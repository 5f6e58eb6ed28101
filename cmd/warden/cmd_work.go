package main

import (
	"github.com/spf13/cobra"

	"github.com/stratumsec/warden/dispatch"
)

// workCmd executes one dispatch payload in process. It is the entry
// point of the per-resource worker when the router fans out through
// async invocations.
var workCmd = &cobra.Command{
	Use:   "work [file]",
	Short: "Execute one dispatch payload",
	Long: `Execute a single dispatch payload from a file or stdin.

The payload carries the environment, region, event kind, configuration
item, and resolved scope. All applicable checks run and their findings
are published.`,
	Example: `  warden work payload.json
  cat payload.json | warden work`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWork,
}

func init() {
	rootCmd.AddCommand(workCmd)
}

func runWork(cmd *cobra.Command, args []string) error {
	body, err := readInput(args)
	if err != nil {
		return err
	}

	payload, err := dispatch.DecodePayload(body)
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

	p.dispatcher.Dispatch(ctx, payload.Environment, payload.Region, payload.Kind, payload.Item, payload.Scope)
	return nil
}
