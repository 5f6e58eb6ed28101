package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stratumsec/warden/checks"
	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/telemetry"
	"github.com/stratumsec/warden/types"
)

// Directory resolves tenant environments and their monitored scope
// from the security service.
type Directory interface {
	ListSources(ctx context.Context, accountID string) ([]types.Environment, error)
	GetScope(ctx context.Context, environmentID, region string) (types.ScopeSet, error)
}

// SnapshotReader fetches and decodes a bulk snapshot object.
type SnapshotReader interface {
	Fetch(ctx context.Context, bucket, key string) ([]types.ConfigurationItem, error)
}

// Dispatcher processes one (environment, resource) pair. Satisfied by
// the in-process dispatcher and by an async worker invoker alike.
type Dispatcher interface {
	Dispatch(ctx context.Context, env types.Environment, region string, kind types.EventKind, item *types.ConfigurationItem, scope types.ScopeSet)
}

// Router is the pipeline entry point. It classifies notifications,
// resolves the affected environments, and fans out to the dispatcher.
// Route's error is the caller's completion signal: nil for handled or
// deliberately ignored notifications, non-nil for delivery failures
// the upstream mechanism may redeliver.
type Router struct {
	cfg        *config.Config
	directory  Directory
	snapshots  SnapshotReader
	dispatcher Dispatcher
	logger     *telemetry.Logger
}

// New creates a Router.
func New(cfg *config.Config, directory Directory, snapshots SnapshotReader, dispatcher Dispatcher) *Router {
	return &Router{
		cfg:        cfg,
		directory:  directory,
		snapshots:  snapshots,
		dispatcher: dispatcher,
		logger:     telemetry.NewLogger("router"),
	}
}

// Route processes one inbound envelope end to end.
func (r *Router) Route(ctx context.Context, envelope Envelope) error {
	event, err := Classify(envelope)
	if err != nil {
		if errors.Is(err, ErrUnclassifiable) {
			telemetry.EventsRejected.Add(ctx, 1)
			r.logger.WithContext(ctx).Info().
				Str("subject", envelope.Subject).
				Err(err).
				Msg("ignoring unclassifiable notification")
			return nil
		}
		return err
	}

	telemetry.EventsRouted.Add(ctx, 1)
	ctx, span := telemetry.Tracer.Start(ctx, "router.route", trace.WithAttributes(
		attribute.String("event.kind", string(event.Kind)),
		attribute.String("event.account_id", event.AccountID),
		attribute.String("event.region", event.Region),
	))
	defer span.End()

	switch event.Kind {
	case types.KindSnapshotManifest:
		return r.routeSnapshot(ctx, event)
	case types.KindResourceDeleted:
		return r.routeDeletion(ctx, event)
	default:
		return r.routeItem(ctx, event, event.Kind, event.Item)
	}
}

// routeItem enumerates the environments registered against the source
// account and dispatches the item once per matching environment. A
// scope-resolution failure skips that environment only.
func (r *Router) routeItem(ctx context.Context, event types.ComplianceEvent, kind types.EventKind, item *types.ConfigurationItem) error {
	targets, err := r.resolveTargets(ctx, event)
	if err != nil {
		return err
	}
	for _, target := range targets {
		r.logger.LogDispatch(ctx, target.env.ID, item.ResourceType, item.ResourceID, true)
		r.dispatcher.Dispatch(ctx, target.env, event.Region, kind, item, target.scope)
	}
	return nil
}

// routeDeletion handles resource deletions. Deleting the protection
// security group removes the environment tags along with it, so scope
// lookup is impossible; the environment ids are read from the prior
// tags instead and dispatch short-circuits to those environments.
func (r *Router) routeDeletion(ctx context.Context, event types.ComplianceEvent) error {
	prior := event.PrevItem
	if prior == nil {
		prior = event.Item
	}
	if prior == nil {
		return fmt.Errorf("deletion event carries no resource state")
	}

	if scanning := r.scanningConfig(); scanning != nil && prior.ResourceType == types.ResourceTypeSecurityGroup {
		envIDs := environmentIDsFromTags(prior.Tags, scanning.EnvironmentTagKey)
		if len(envIDs) > 0 {
			for _, id := range envIDs {
				env := types.Environment{ID: id, AccountID: event.AccountID}
				r.logger.LogDispatch(ctx, id, prior.ResourceType, prior.ResourceID, false)
				r.dispatcher.Dispatch(ctx, env, event.Region, types.KindResourceDeleted, prior, nil)
			}
			return nil
		}
	}

	return r.routeItem(ctx, event, types.KindResourceDeleted, prior)
}

// routeSnapshot fetches the bulk object and dispatches every contained
// item whose resource type some enabled check covers. Environments and
// scope are resolved once for the whole batch.
func (r *Router) routeSnapshot(ctx context.Context, event types.ComplianceEvent) error {
	items, err := r.snapshots.Fetch(ctx, event.SnapshotBucket, event.SnapshotKey)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot %s/%s: %w", event.SnapshotBucket, event.SnapshotKey, err)
	}

	targets, err := r.resolveTargets(ctx, event)
	if err != nil {
		return err
	}

	supported := r.cfg.SupportedResourceTypes()
	dispatched := 0
	for i := range items {
		item := &items[i]
		if !supported[item.ResourceType] {
			continue
		}
		dispatched++
		telemetry.SnapshotItems.Add(ctx, 1)
		for _, target := range targets {
			r.dispatcher.Dispatch(ctx, target.env, event.Region, types.KindSnapshotItem, item, target.scope)
		}
	}

	r.logger.WithContext(ctx).Info().
		Str("bucket", event.SnapshotBucket).
		Str("key", event.SnapshotKey).
		Int("items", len(items)).
		Int("dispatched", dispatched).
		Msg("snapshot fanned out")
	return nil
}

// target is one environment with its resolved scope.
type target struct {
	env   types.Environment
	scope types.ScopeSet
}

func (r *Router) resolveTargets(ctx context.Context, event types.ComplianceEvent) ([]target, error) {
	environments, err := r.directory.ListSources(ctx, event.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments for account %s: %w", event.AccountID, err)
	}

	var targets []target
	for _, env := range environments {
		if env.AccountID != event.AccountID || !env.MonitorsRegion(event.Region) {
			continue
		}
		scope, err := r.directory.GetScope(ctx, env.ID, event.Region)
		if err != nil {
			r.logger.LogScopeFailure(ctx, env.ID, event.Region, err)
			continue
		}
		targets = append(targets, target{env: env, scope: scope})
	}
	return targets, nil
}

// scanningConfig returns the scanning section of the first enabled
// VPC-scanning check, or nil when none is configured.
func (r *Router) scanningConfig() *config.ScanningConfig {
	for _, def := range r.cfg.Checks {
		if def.Enabled && def.HandlerName() == checks.HandlerVPCScanning && def.Scanning != nil {
			return def.Scanning
		}
	}
	return nil
}

// environmentIDsFromTags extracts environment ids recorded as
// "<tagKey>:<environmentID>" = "true" tags on the protection group.
func environmentIDsFromTags(tags map[string]string, tagKey string) []string {
	prefix := tagKey + ":"
	var ids []string
	for key, value := range tags {
		if value == "true" && strings.HasPrefix(key, prefix) {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
	}
	return ids
}
