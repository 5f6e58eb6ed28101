package checks

import (
	"context"
	"fmt"
	"regexp"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/types"
)

// Evidence reasons reported by the required-tags check.
const (
	ReasonMissingTagKey = "missing tag key"
	ReasonValueMismatch = "value mismatch"
)

// RequiredTags verifies that every applicable tag policy's required keys
// are present and, where the policy constrains values, that the present
// value matches one of the allowed patterns.
//
// The system this replaces computed evidence and then discarded it,
// which made the check incapable of reporting violations. Evidence
// propagation is deliberately restored here.
type RequiredTags struct {
	policies []tagPolicy
}

type tagPolicy struct {
	resourceTypes []string
	required      []requiredTag
}

type requiredTag struct {
	key      string
	patterns []*regexp.Regexp
}

// NewRequiredTags compiles the definition's tag policies.
func NewRequiredTags(def config.CheckDefinition) (*RequiredTags, error) {
	policies := make([]tagPolicy, 0, len(def.Tags))
	for _, p := range def.Tags {
		policy := tagPolicy{resourceTypes: p.ResourceTypes}
		for _, req := range p.Required {
			tag := requiredTag{key: req.Key}
			for _, pattern := range req.AllowedValues {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return nil, fmt.Errorf("tag %s: invalid pattern %q: %w", req.Key, pattern, err)
				}
				tag.patterns = append(tag.patterns, re)
			}
			policy.required = append(policy.required, tag)
		}
		policies = append(policies, policy)
	}
	return &RequiredTags{policies: policies}, nil
}

// Evaluate records one evidence entry per missing key and per value
// mismatch. A resource with zero applicable policies is compliant.
func (c *RequiredTags) Evaluate(ctx context.Context, in Input) (Result, error) {
	var evidence []types.Evidence

	for _, policy := range c.policies {
		if !policy.appliesTo(in.Resource.Type) {
			continue
		}
		for _, req := range policy.required {
			value, present := in.Resource.Tags[req.key]
			if !present {
				evidence = append(evidence, types.Evidence{
					Reason: ReasonMissingTagKey,
					Key:    req.key,
				})
				continue
			}
			if len(req.patterns) > 0 && !req.matchesValue(value) {
				evidence = append(evidence, types.Evidence{
					Reason: ReasonValueMismatch,
					Key:    req.key,
					Value:  value,
				})
			}
		}
	}

	return Result{Evidence: evidence}, nil
}

func (p tagPolicy) appliesTo(resourceType string) bool {
	for _, rt := range p.resourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}

func (r requiredTag) matchesValue(value string) bool {
	for _, re := range r.patterns {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}
