package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	configtypes "github.com/aws/aws-sdk-go-v2/service/configservice/types"

	"github.com/stratumsec/warden/retry"
)

// RuleEvaluation is one managed-rule evaluation result for a resource.
type RuleEvaluation struct {
	RuleName   string
	Compliant  bool
	Annotation string
}

// ConfigRules reads the provider's managed compliance-evaluation API.
type ConfigRules struct {
	api    ConfigAPI
	policy retry.Policy
}

// NewConfigRules creates the wrapper. Snapshot-triggered evaluation
// passes a pre-delay so provider-side evaluation has time to propagate.
func NewConfigRules(api ConfigAPI, preDelay time.Duration) *ConfigRules {
	policy := defaultPolicy()
	policy.InitialDelay = preDelay
	return &ConfigRules{api: api, policy: policy}
}

// Evaluations returns the per-rule evaluation results for one resource.
// The shortened resource type ("AWS::EC2::Instance") is passed through
// as the provider expects it.
func (cr *ConfigRules) Evaluations(ctx context.Context, resourceType, resourceID string) ([]RuleEvaluation, error) {
	out, err := retry.Do(ctx, cr.policy, func() (*configservice.GetComplianceDetailsByResourceOutput, error) {
		return cr.api.GetComplianceDetailsByResource(ctx, &configservice.GetComplianceDetailsByResourceInput{
			ResourceType: awssdk.String(resourceType),
			ResourceId:   awssdk.String(resourceID),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get compliance details for %s %s: %w", resourceType, resourceID, err)
	}

	var evaluations []RuleEvaluation
	for _, result := range out.EvaluationResults {
		evaluations = append(evaluations, RuleEvaluation{
			RuleName:   ruleName(result),
			Compliant:  result.ComplianceType == configtypes.ComplianceTypeCompliant,
			Annotation: toString(result.Annotation),
		})
	}
	return evaluations, nil
}

func ruleName(result configtypes.EvaluationResult) string {
	if result.EvaluationResultIdentifier == nil || result.EvaluationResultIdentifier.EvaluationResultQualifier == nil {
		return ""
	}
	return toString(result.EvaluationResultIdentifier.EvaluationResultQualifier.ConfigRuleName)
}
