package checks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/types"
)

func tagsCheck(t *testing.T) *RequiredTags {
	t.Helper()
	check, err := NewRequiredTags(config.CheckDefinition{
		Tags: []config.TagPolicy{
			{
				ResourceTypes: []string{types.ResourceTypeInstance},
				Required: []config.RequiredTag{
					{Key: "Team"},
					{Key: "Environment", AllowedValues: []string{"^(prod|staging|dev)$"}},
				},
			},
		},
	})
	require.NoError(t, err)
	return check
}

func instanceInput(tags map[string]string) Input {
	return Input{
		Resource: types.ResourceDescriptor{
			Type: types.ResourceTypeInstance,
			ID:   "i-1",
			Tags: tags,
		},
	}
}

func TestRequiredTagsCompliant(t *testing.T) {
	result, err := tagsCheck(t).Evaluate(context.Background(), instanceInput(map[string]string{
		"Team":        "platform",
		"Environment": "prod",
	}))

	require.NoError(t, err)
	assert.Empty(t, result.Evidence)
}

func TestRequiredTagsMissingKey(t *testing.T) {
	result, err := tagsCheck(t).Evaluate(context.Background(), instanceInput(map[string]string{
		"Environment": "prod",
	}))

	require.NoError(t, err)
	require.Len(t, result.Evidence, 1)
	assert.Equal(t, ReasonMissingTagKey, result.Evidence[0].Reason)
	assert.Equal(t, "Team", result.Evidence[0].Key)
}

func TestRequiredTagsValueMismatch(t *testing.T) {
	result, err := tagsCheck(t).Evaluate(context.Background(), instanceInput(map[string]string{
		"Team":        "platform",
		"Environment": "sandbox",
	}))

	require.NoError(t, err)
	require.Len(t, result.Evidence, 1)
	assert.Equal(t, ReasonValueMismatch, result.Evidence[0].Reason)
	assert.Equal(t, "Environment", result.Evidence[0].Key)
	assert.Equal(t, "sandbox", result.Evidence[0].Value)
}

func TestRequiredTagsDistinctEvidencePerViolation(t *testing.T) {
	result, err := tagsCheck(t).Evaluate(context.Background(), instanceInput(map[string]string{
		"Environment": "sandbox",
	}))

	require.NoError(t, err)
	assert.Len(t, result.Evidence, 2)
}

func TestRequiredTagsNoApplicablePolicies(t *testing.T) {
	result, err := tagsCheck(t).Evaluate(context.Background(), Input{
		Resource: types.ResourceDescriptor{Type: types.ResourceTypeVPC, ID: "vpc-1"},
	})

	require.NoError(t, err)
	assert.Empty(t, result.Evidence)
}

func TestNewRequiredTagsRejectsBadPattern(t *testing.T) {
	_, err := NewRequiredTags(config.CheckDefinition{
		Tags: []config.TagPolicy{{
			Required: []config.RequiredTag{{Key: "x", AllowedValues: []string{"("}}},
		}},
	})
	assert.Error(t, err)
}
