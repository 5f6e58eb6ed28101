package checks

import (
	"context"

	"github.com/stratumsec/warden/providers/aws"
)

// GroupManager is the provider surface the scanning-enablement state
// machine mutates. *aws.SecurityGroups satisfies it.
type GroupManager interface {
	FindInstanceByTag(ctx context.Context, vpcID, key, value string) (*aws.Instance, error)
	FindGroupByName(ctx context.Context, vpcID, name string) (*aws.Group, error)
	GetGroup(ctx context.Context, groupID string) (*aws.Group, error)
	CreateGroup(ctx context.Context, vpcID, name, description string) (string, error)
	DeleteGroup(ctx context.Context, groupID string) error
	TagGroup(ctx context.Context, groupID, key, value string) error
	UntagGroup(ctx context.Context, groupID, key string) error
	AuthorizeIngressFromGroup(ctx context.Context, groupID, sourceGroupID string) error
	InstancesInVPC(ctx context.Context, vpcID string) ([]aws.Instance, error)
	InstanceGroups(ctx context.Context, instanceID string) ([]string, error)
	SetInstanceGroups(ctx context.Context, instanceID string, groupIDs []string) error
}

// RuleEvaluator reads managed-rule evaluation results. *aws.ConfigRules
// satisfies it.
type RuleEvaluator interface {
	Evaluations(ctx context.Context, resourceType, resourceID string) ([]aws.RuleEvaluation, error)
}

// ScanLister aggregates external vulnerability-scan results.
// *aws.ScanResults satisfies it.
type ScanLister interface {
	ListAll(ctx context.Context) ([]aws.ScanFinding, error)
}
