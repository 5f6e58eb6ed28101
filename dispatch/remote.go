package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/stratumsec/warden/telemetry"
	"github.com/stratumsec/warden/types"
)

// AsyncInvoker fires the out-of-process worker with an opaque payload.
type AsyncInvoker interface {
	InvokeAsync(ctx context.Context, payload any) error
}

// Payload is one unit of dispatch work handed to the worker. The
// in-process dispatcher consumes the same shape via DecodePayload.
type Payload struct {
	Environment types.Environment        `json:"environment"`
	Region      string                   `json:"region"`
	Kind        types.EventKind          `json:"kind"`
	Item        *types.ConfigurationItem `json:"item"`
	Scope       types.ScopeSet           `json:"scope,omitempty"`
}

// DecodePayload parses a worker payload.
func DecodePayload(data []byte) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Payload{}, fmt.Errorf("failed to decode dispatch payload: %w", err)
	}
	if payload.Item == nil {
		return Payload{}, fmt.Errorf("dispatch payload carries no resource")
	}
	return payload, nil
}

// Remote forwards dispatch work to an asynchronous worker instead of
// running checks in process. Invocation failures are logged, matching
// the in-process dispatcher's isolation: one resource's failure never
// aborts its siblings.
type Remote struct {
	invoker AsyncInvoker
	logger  *telemetry.Logger
}

// NewRemote creates a Remote dispatcher over an invoker.
func NewRemote(invoker AsyncInvoker) *Remote {
	return &Remote{invoker: invoker, logger: telemetry.NewLogger("dispatch")}
}

// Dispatch encodes the work unit and fires the worker.
func (r *Remote) Dispatch(ctx context.Context, env types.Environment, region string, kind types.EventKind, item *types.ConfigurationItem, scope types.ScopeSet) {
	payload := Payload{
		Environment: env,
		Region:      region,
		Kind:        kind,
		Item:        item,
		Scope:       scope,
	}
	if err := r.invoker.InvokeAsync(ctx, payload); err != nil {
		r.logger.WithContext(ctx).Error().
			Err(err).
			Str("environment_id", env.ID).
			Str("resource_id", item.ResourceID).
			Msg("worker invocation failed")
	}
}
