package main

import (
	"context"
	"fmt"
	"time"

	"github.com/stratumsec/warden/checks"
	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/dispatch"
	"github.com/stratumsec/warden/providers/aws"
	"github.com/stratumsec/warden/router"
	"github.com/stratumsec/warden/secsvc"
)

// snapshotPreDelay gives provider-side rule evaluation time to catch up
// after a bulk snapshot delivery.
const snapshotPreDelay = 30 * time.Second

// pipeline bundles the wired components behind one entry point.
type pipeline struct {
	cfg        *config.Config
	router     *router.Router
	dispatcher *dispatch.Dispatcher
	clients    *aws.Clients
}

// buildPipeline loads configuration and wires the router, dispatcher,
// and provider clients for the configured region.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if serviceToken == "" {
		return nil, fmt.Errorf("security service token is required (--token or WARDEN_SERVICE_TOKEN)")
	}

	clients, err := aws.NewClients(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider clients: %w", err)
	}

	client := secsvc.NewClient(cfg.Service.BaseURL, secsvc.StaticToken(serviceToken))
	publisher := secsvc.NewPublisher(client)

	registry, err := checks.BuildRegistry(cfg, checks.Deps{
		Groups:        aws.NewSecurityGroups(clients.EC2),
		Rules:         aws.NewConfigRules(clients.Config, 0),
		SnapshotRules: aws.NewConfigRules(clients.Config, snapshotPreDelay),
		Scans:         aws.NewScanResults(clients.Inspector),
	})
	if err != nil {
		return nil, err
	}

	dispatcher := dispatch.New(cfg, registry, publisher)

	// With a worker function configured, the router fans out through
	// async invocations and the in-process dispatcher serves only the
	// work command.
	var routerDispatcher router.Dispatcher = dispatcher
	if workerFunction != "" {
		routerDispatcher = dispatch.NewRemote(aws.NewWorkerInvoker(clients.Lambda, workerFunction))
	}

	return &pipeline{
		cfg:        cfg,
		router:     router.New(cfg, client, aws.NewSnapshotFetcher(clients.S3), routerDispatcher),
		dispatcher: dispatcher,
		clients:    clients,
	}, nil
}
