package checks

import (
	"context"
	"fmt"
	"regexp"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/types"
)

// nameTagKey is where the resource's display name lives.
const nameTagKey = "Name"

// NamingConvention constrains the Name tag of covered resource types to
// at least one configured pattern.
type NamingConvention struct {
	conventions []convention
}

type convention struct {
	resourceTypes []string
	patterns      []*regexp.Regexp
}

// NewNamingConvention compiles the definition's conventions.
func NewNamingConvention(def config.CheckDefinition) (*NamingConvention, error) {
	conventions := make([]convention, 0, len(def.Naming))
	for _, n := range def.Naming {
		conv := convention{resourceTypes: n.ResourceTypes}
		for _, pattern := range n.Patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid naming pattern %q: %w", pattern, err)
			}
			conv.patterns = append(conv.patterns, re)
		}
		conventions = append(conventions, conv)
	}
	return &NamingConvention{conventions: conventions}, nil
}

// Evaluate: a resource type with no convention entry is compliant; a
// convention with no resolvable name is a violation; otherwise the name
// must match at least one pattern.
func (c *NamingConvention) Evaluate(ctx context.Context, in Input) (Result, error) {
	var applicable []convention
	for _, conv := range c.conventions {
		if conv.appliesTo(in.Resource.Type) {
			applicable = append(applicable, conv)
		}
	}
	if len(applicable) == 0 {
		return Result{}, nil
	}

	name := in.Resource.Tag(nameTagKey)
	if name == "" {
		return Result{Evidence: []types.Evidence{{
			Reason: "resource has no resolvable name",
			Key:    nameTagKey,
		}}}, nil
	}

	for _, conv := range applicable {
		for _, re := range conv.patterns {
			if re.MatchString(name) {
				return Result{}, nil
			}
		}
	}

	return Result{Evidence: []types.Evidence{{
		Reason: "name does not match any convention pattern",
		Key:    nameTagKey,
		Value:  name,
	}}}, nil
}

func (c convention) appliesTo(resourceType string) bool {
	for _, rt := range c.resourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}
