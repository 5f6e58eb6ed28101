package types

import (
	"fmt"
	"hash/fnv"
)

// Scope labels attached to published findings.
const (
	ScopeIn  = "in_scope"
	ScopeOut = "out_of_scope"
)

// Severity scores reported with findings.
const (
	ScoreHigh    = 10.0
	ScoreMedium  = 5.0
	ScoreLow     = 2.5
	ScoreDefault = 1.0
)

// SeverityScore maps a provider severity label to a numeric score.
func SeverityScore(severity string) float64 {
	switch severity {
	case "High":
		return ScoreHigh
	case "Medium":
		return ScoreMedium
	case "Low":
		return ScoreLow
	default:
		return ScoreDefault
	}
}

// FindingMetadata identifies the (rule, resource) a finding belongs to.
// Publishing against the same metadata supersedes the prior finding.
type FindingMetadata struct {
	EnvironmentID string `json:"environment_id"`
	Region        string `json:"region"`
	ResourceType  string `json:"resource_type"`
	ResourceID    string `json:"resource_id"`
	CheckName     string `json:"check_name"`
	Scope         string `json:"scope"`
}

// Vulnerability is one reported compliance violation.
type Vulnerability struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Remediation string     `json:"remediation,omitempty"`
	Severity    string     `json:"severity,omitempty"`
	Score       float64    `json:"score"`
	ResourceID  string     `json:"resource_id,omitempty"`
	Evidence    []Evidence `json:"evidence,omitempty"`
}

// Evidence is one observed fact supporting a violation.
type Evidence struct {
	Reason string `json:"reason"`
	Key    string `json:"key,omitempty"`
	Value  string `json:"value,omitempty"`
}

// VulnerabilityID derives a deterministic id from rule and resource so
// repeated evaluations supersede rather than append.
func VulnerabilityID(checkName, resourceID string) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s:%s", checkName, resourceID)
	return fmt.Sprintf("%s-%x", checkName, h.Sum64())
}

// GenericVulnerabilityID derives an id from a rule name alone, used for
// violations that have no configured template.
func GenericVulnerabilityID(ruleName string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ruleName))
	return fmt.Sprintf("generic-%x", h.Sum64())
}
