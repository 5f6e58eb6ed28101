package main

import (
	"context"
	"log"
	"os"

	"github.com/stratumsec/warden/telemetry"
)

// initTelemetry initializes OTEL for Warden.
// Can be disabled with WARDEN_TELEMETRY_DISABLED=true
func initTelemetry(ctx context.Context) func() {
	if os.Getenv("WARDEN_TELEMETRY_DISABLED") == "true" {
		log.Println("telemetry disabled")
		return func() {}
	}

	cfg := telemetry.Config{
		ServiceName:    "warden",
		ServiceVersion: version,
		Environment:    os.Getenv("WARDEN_ENVIRONMENT"),
		OTELEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Insecure:       true,
	}

	shutdown, err := telemetry.InitOTEL(ctx, cfg)
	if err != nil {
		// Don't fail the pipeline over a telemetry backend.
		log.Printf("telemetry initialization failed: %v", err)
		return func() {}
	}

	return func() {
		if err := shutdown(context.Background()); err != nil {
			log.Printf("error shutting down telemetry: %v", err)
		}
	}
}

// Environment variables:
// - OTEL_EXPORTER_OTLP_ENDPOINT: where to send telemetry (default: localhost:4317)
// - WARDEN_TELEMETRY_DISABLED: set to "true" to disable telemetry
// - WARDEN_ENVIRONMENT: environment name (dev, staging, prod)
// - WARDEN_SERVICE_TOKEN: security service bearer token
