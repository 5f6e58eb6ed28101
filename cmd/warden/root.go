package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath     string
	region         string
	serviceToken   string
	workerFunction string
	debug          bool

	rootCmd = &cobra.Command{
		Use:   "warden",
		Short: "Cloud resource compliance pipeline",
		Long: `Warden - Cloud Resource Compliance Pipeline

Warden ingests cloud-provider change notifications, resolves which
tenant environments each resource belongs to, evaluates the configured
compliance checks against it, and publishes findings to the central
security service.

Run it as a queue-polling daemon, or process single notifications and
dispatch payloads for lambda-style deployments.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Warden {{.Version}} - Cloud Resource Compliance Pipeline
`)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "warden.yaml", "Path to the check configuration file")
	rootCmd.PersistentFlags().StringVar(&region, "region", "us-east-1", "Cloud region to operate in")
	rootCmd.PersistentFlags().StringVar(&serviceToken, "token", os.Getenv("WARDEN_SERVICE_TOKEN"), "Security service bearer token")
	rootCmd.PersistentFlags().StringVar(&workerFunction, "worker-function", "", "Dispatch via async worker invocations instead of in process")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}
