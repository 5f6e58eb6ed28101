package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/stratumsec/warden/ingest"
	"github.com/stratumsec/warden/telemetry"
)

var (
	serveQueueURL    string
	serveMetricsAddr string
)

// serveCmd runs the pipeline as a queue-polling daemon.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the compliance pipeline daemon",
	Long: `Run Warden as a long-lived daemon.

The daemon long-polls the notification queue, routes every delivery
through the pipeline, and exposes Prometheus metrics. Messages are
deleted on successful routing; failures stay on the queue for
redelivery. Shuts down gracefully on SIGTERM/SIGINT.`,
	Example: `  warden serve --queue-url https://sqs.eu-west-1.amazonaws.com/123456789012/warden
  warden serve --queue-url $QUEUE_URL --metrics :9090 --worker-function warden-worker`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveQueueURL, "queue-url", os.Getenv("WARDEN_QUEUE_URL"), "Notification queue URL")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics", ":2112", "Metrics HTTP server address")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveQueueURL == "" {
		return fmt.Errorf("queue URL is required (--queue-url or WARDEN_QUEUE_URL)")
	}

	ctx := cmd.Context()
	shutdown := initTelemetry(ctx)
	defer shutdown()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return fmt.Errorf("failed to load provider config: %w", err)
	}
	poller := ingest.NewPoller(sqs.NewFromConfig(awsCfg), serveQueueURL, p.router)

	var group run.Group

	// Signal handler.
	group.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))

	// Queue poller.
	pollCtx, cancelPoll := context.WithCancel(ctx)
	group.Add(func() error {
		return poller.Run(pollCtx)
	}, func(error) {
		cancelPoll()
	})

	// Metrics server. The OTEL prometheus exporter registers against
	// telemetry.PrometheusRegistry during InitOTEL.
	mux := http.NewServeMux()
	if telemetry.PrometheusRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{
		Addr:              serveMetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	group.Add(func() error {
		return server.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	err = group.Run()
	if _, ok := err.(run.SignalError); ok {
		return nil
	}
	return err
}
