package checks

import (
	"context"
	"fmt"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/types"
)

// ManagedRules maps the provider's own rule-evaluation results onto
// findings: every non-compliant evaluation becomes a vulnerability,
// through the configured lookup table when the rule name is known and a
// generated generic-violation record otherwise.
type ManagedRules struct {
	table         map[string]config.VulnerabilityTemplate
	rules         RuleEvaluator
	snapshotRules RuleEvaluator
}

// NewManagedRules creates the handler. snapshotRules evaluates
// snapshot-triggered items with a longer pre-delay; nil falls back to
// the live evaluator.
func NewManagedRules(def config.CheckDefinition, rules, snapshotRules RuleEvaluator) *ManagedRules {
	if snapshotRules == nil {
		snapshotRules = rules
	}
	return &ManagedRules{table: def.RuleTable, rules: rules, snapshotRules: snapshotRules}
}

// Evaluate queries the managed compliance API for current or freshly
// discovered resources; anything else clears.
func (c *ManagedRules) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.Item == nil {
		return Result{}, nil
	}
	switch in.Item.Status {
	case types.StatusOK, types.StatusDiscovered:
	default:
		return Result{}, nil
	}

	evaluator := c.rules
	if in.EventKind == types.KindSnapshotItem {
		evaluator = c.snapshotRules
	}

	evaluations, err := evaluator.Evaluations(ctx, in.Resource.Type, in.Resource.ID)
	if err != nil {
		return Result{}, err
	}

	var vulns []types.Vulnerability
	for _, eval := range evaluations {
		if eval.Compliant {
			continue
		}
		vulns = append(vulns, c.vulnerabilityFor(eval.RuleName, eval.Annotation, in.Resource.ID))
	}
	return Result{Vulnerabilities: vulns}, nil
}

func (c *ManagedRules) vulnerabilityFor(ruleName, annotation, resourceID string) types.Vulnerability {
	var evidence []types.Evidence
	if annotation != "" {
		evidence = []types.Evidence{{Reason: annotation, Key: "rule", Value: ruleName}}
	}

	if template, ok := c.table[ruleName]; ok {
		vuln := template.Instantiate(ruleName, resourceID, evidence)
		return vuln
	}

	return types.Vulnerability{
		ID:         types.GenericVulnerabilityID(ruleName),
		Title:      fmt.Sprintf("Resource is non-compliant with rule %s", ruleName),
		Severity:   "Medium",
		Score:      types.ScoreMedium,
		ResourceID: resourceID,
		Evidence:   evidence,
	}
}
