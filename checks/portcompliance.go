package checks

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/portset"
	"github.com/stratumsec/warden/types"
)

// PortCompliance flags ingress rules opening ports outside the approved
// set. Observed minus allowed, computed on the full port domain; any
// remaining bit is a violation.
type PortCompliance struct {
	allowed *portset.Set
}

// NewPortCompliance builds the allowed-port set from the definition.
func NewPortCompliance(def config.CheckDefinition) (*PortCompliance, error) {
	if def.Ports == nil {
		return nil, fmt.Errorf("port policy is required")
	}

	allowed := portset.FromPorts(def.Ports.AllowedPorts...)
	for _, r := range def.Ports.AllowedRanges {
		if err := allowed.SetRange(r.From, r.To); err != nil {
			return nil, fmt.Errorf("invalid allowed range: %w", err)
		}
	}
	return &PortCompliance{allowed: allowed}, nil
}

// ingressRule is the slice of the resource configuration the check
// reads.
type ingressRule struct {
	FromPort *int `json:"fromPort"`
	ToPort   *int `json:"toPort"`
}

// Evaluate runs only against resources in current/ok status; any other
// status short-circuits to clear.
func (c *PortCompliance) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.Item == nil || in.Item.Status != types.StatusOK {
		return Result{}, nil
	}

	observed, err := observedPorts(in.Item.Configuration)
	if err != nil {
		return Result{}, err
	}

	offending := observed.Difference(c.allowed)
	if offending.IsZero() {
		return Result{}, nil
	}

	evidence := make([]types.Evidence, 0, offending.Count())
	for _, port := range offending.Ports() {
		evidence = append(evidence, types.Evidence{
			Reason: "unapproved ingress port",
			Key:    "port",
			Value:  strconv.Itoa(port),
		})
	}
	return Result{Evidence: evidence}, nil
}

// observedPorts builds the observed set from the resource's ingress
// rules. Each rule sets its inclusive [fromPort, toPort] sub-range.
func observedPorts(configuration json.RawMessage) (*portset.Set, error) {
	observed := portset.New()
	if len(configuration) == 0 {
		return observed, nil
	}

	var cfg struct {
		IPPermissions []ingressRule `json:"ipPermissions"`
	}
	if err := json.Unmarshal(configuration, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse ingress rules: %w", err)
	}

	for _, rule := range cfg.IPPermissions {
		if rule.FromPort == nil || rule.ToPort == nil {
			// Protocol rules without port bounds (e.g. all-traffic) open
			// the whole domain.
			if err := observed.SetRange(0, portset.Domain-1); err != nil {
				return nil, err
			}
			continue
		}
		if err := observed.SetRange(*rule.FromPort, *rule.ToPort); err != nil {
			return nil, fmt.Errorf("ingress rule: %w", err)
		}
	}
	return observed, nil
}
