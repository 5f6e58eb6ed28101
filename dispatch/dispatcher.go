// Package dispatch runs every applicable compliance check for one
// (environment, resource) pair and turns each result into exactly one
// finding publication.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stratumsec/warden/checks"
	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/telemetry"
	"github.com/stratumsec/warden/types"
)

// Sink receives finding publications. An empty vulnerability list
// clears prior findings for the metadata's identity.
type Sink interface {
	Publish(ctx context.Context, meta types.FindingMetadata, vulns []types.Vulnerability)
}

// Dispatcher fans one resource-change event out to the check registry.
type Dispatcher struct {
	cfg      *config.Config
	registry *checks.Registry
	sink     Sink
	logger   *telemetry.Logger
}

// New creates a Dispatcher over a built registry.
func New(cfg *config.Config, registry *checks.Registry, sink Sink) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		registry: registry,
		sink:     sink,
		logger:   telemetry.NewLogger("dispatch"),
	}
}

// Dispatch evaluates every enabled check that covers the event's
// resource type, mode, and region against one environment. Check
// failures are isolated: logged and counted, with siblings continuing.
// A failed check publishes nothing, so transient provider errors never
// clear standing findings.
func (d *Dispatcher) Dispatch(ctx context.Context, env types.Environment, region string, kind types.EventKind, item *types.ConfigurationItem, scope types.ScopeSet) {
	start := time.Now()
	resource := types.DescribeItem(item, scope)

	ctx, span := telemetry.Tracer.Start(ctx, "dispatch.resource", trace.WithAttributes(
		attribute.String("environment.id", env.ID),
		attribute.String("resource.type", resource.Type),
		attribute.String("resource.id", resource.ID),
		attribute.Bool("resource.in_scope", resource.InScope),
	))
	defer span.End()

	for _, entry := range d.registry.Entries() {
		def := entry.Def
		if !def.AppliesTo(resource.Type) || !def.RunsFor(kind) || !def.CoversRegion(region) {
			continue
		}
		if def.Whitelisted(resource) {
			d.logger.WithContext(ctx).Debug().
				Str("check", def.Name).
				Str("resource_id", resource.ID).
				Msg("resource whitelisted, skipping")
			continue
		}

		telemetry.ChecksExecuted.Add(ctx, 1)

		result, err := d.evaluate(ctx, entry.Check, checks.Input{
			EventKind:     kind,
			EnvironmentID: env.ID,
			Resource:      resource,
			Item:          item,
		})
		if err != nil {
			telemetry.CheckFailures.Add(ctx, 1)
			d.logger.LogCheckFailure(ctx, def.Name, resource.ID, err)
			continue
		}

		meta := types.FindingMetadata{
			EnvironmentID: env.ID,
			Region:        region,
			ResourceType:  resource.Type,
			ResourceID:    resource.ID,
			CheckName:     def.Name,
			Scope:         scopeLabel(resource.InScope),
		}
		d.sink.Publish(ctx, meta, d.vulnerabilities(def, resource, result))
	}

	telemetry.DispatchDuration.Record(ctx, time.Since(start).Seconds())
}

// evaluate isolates one check execution. A panicking check is reported
// as an error, never taken down with the dispatch loop.
func (d *Dispatcher) evaluate(ctx context.Context, check checks.Check, in checks.Input) (result checks.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return check.Evaluate(ctx, in)
}

// vulnerabilities maps a check result to the published set. Explicit
// vulnerability lists win; a bare violation or evidence instantiates
// the check's configured template; an empty result clears.
func (d *Dispatcher) vulnerabilities(def config.CheckDefinition, res types.ResourceDescriptor, result checks.Result) []types.Vulnerability {
	switch {
	case len(result.Vulnerabilities) > 0:
		return result.Vulnerabilities
	case result.Vulnerable || len(result.Evidence) > 0:
		return []types.Vulnerability{def.Vulnerability.Instantiate(def.Name, res.ID, result.Evidence)}
	default:
		return nil
	}
}

func scopeLabel(inScope bool) string {
	if inScope {
		return types.ScopeIn
	}
	return types.ScopeOut
}
