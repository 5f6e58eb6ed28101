// Package checks implements the pluggable compliance-check engine: a
// static registry mapping check names to typed handlers, validated at
// startup.
package checks

import (
	"context"
	"fmt"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/types"
)

// Handler names bound in the static registry.
const (
	HandlerPortCompliance = "portCompliance"
	HandlerRequiredTags   = "requiredTags"
	HandlerNaming         = "namingConvention"
	HandlerManagedRules   = "managedRuleCompliance"
	HandlerScanResults    = "vulnerabilityScan"
	HandlerVPCScanning    = "vpcScanning"
)

// Input is one check invocation.
type Input struct {
	EventKind     types.EventKind
	EnvironmentID string
	Resource      types.ResourceDescriptor
	Item          *types.ConfigurationItem
}

// Result is the outcome of one check execution. The dispatcher maps it
// to a finding set: Vulnerable publishes the templated vulnerability,
// Vulnerabilities publishes that list, Evidence publishes the template
// with evidence substituted, and an empty result clears.
type Result struct {
	Vulnerable      bool
	Vulnerabilities []types.Vulnerability
	Evidence        []types.Evidence
}

// Check evaluates a resource-change event against one compliance rule.
type Check interface {
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// Deps are the external collaborators handlers draw on.
type Deps struct {
	Groups GroupManager
	Rules  RuleEvaluator

	// SnapshotRules evaluates snapshot-triggered items. It carries a
	// pre-delay so provider-side evaluation has time to propagate after
	// a bulk delivery. Nil falls back to Rules.
	SnapshotRules RuleEvaluator

	Scans ScanLister
}

// Entry pairs a definition with its constructed handler.
type Entry struct {
	Def   config.CheckDefinition
	Check Check
}

// Registry holds the constructed checks, keyed by check name.
type Registry struct {
	entries map[string]Entry
	order   []string
}

// BuildRegistry constructs a handler for every enabled definition. A
// definition naming an unknown handler, or a name failing the
// alphanumeric rule, fails construction — nothing is resolved by name
// at evaluation time.
func BuildRegistry(cfg *config.Config, deps Deps) (*Registry, error) {
	registry := &Registry{entries: make(map[string]Entry)}

	for _, def := range cfg.Checks {
		if !def.Enabled {
			continue
		}
		if !config.ValidCheckName(def.Name) {
			return nil, fmt.Errorf("check name %q is not alphanumeric", def.Name)
		}
		if _, dup := registry.entries[def.Name]; dup {
			return nil, fmt.Errorf("duplicate check name %q", def.Name)
		}

		check, err := newHandler(def, deps)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", def.Name, err)
		}

		registry.entries[def.Name] = Entry{Def: def, Check: check}
		registry.order = append(registry.order, def.Name)
	}

	return registry, nil
}

func newHandler(def config.CheckDefinition, deps Deps) (Check, error) {
	switch def.HandlerName() {
	case HandlerPortCompliance:
		return NewPortCompliance(def)
	case HandlerRequiredTags:
		return NewRequiredTags(def)
	case HandlerNaming:
		return NewNamingConvention(def)
	case HandlerManagedRules:
		if deps.Rules == nil {
			return nil, fmt.Errorf("managed-rule handler requires a rule evaluator")
		}
		return NewManagedRules(def, deps.Rules, deps.SnapshotRules), nil
	case HandlerScanResults:
		if deps.Scans == nil {
			return nil, fmt.Errorf("scan handler requires a scan lister")
		}
		return NewScanAggregator(deps.Scans), nil
	case HandlerVPCScanning:
		if deps.Groups == nil {
			return nil, fmt.Errorf("vpc-scanning handler requires a group manager")
		}
		return NewVPCScanning(def, deps.Groups)
	default:
		return nil, fmt.Errorf("unknown handler %q", def.HandlerName())
	}
}

// NewStaticRegistry builds a registry from pre-constructed entries,
// bypassing handler construction. Entry order is preserved.
func NewStaticRegistry(entries ...Entry) *Registry {
	registry := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, entry := range entries {
		registry.entries[entry.Def.Name] = entry
		registry.order = append(registry.order, entry.Def.Name)
	}
	return registry
}

// Entries returns the registered checks in configuration order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		entries = append(entries, r.entries[name])
	}
	return entries
}

// Lookup returns the entry for a check name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	entry, ok := r.entries[name]
	return entry, ok
}

// Len returns the number of registered checks.
func (r *Registry) Len() int {
	return len(r.entries)
}
