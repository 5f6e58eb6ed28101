// Package aws wraps the provider APIs the pipeline touches: security
// group and instance management, managed-rule compliance reads,
// scan-result aggregation, snapshot object fetches, and async worker
// invocation. Every call goes through the retry executor.
package aws

import (
	"context"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/inspector"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/stratumsec/warden/retry"
)

// EC2API is the EC2 surface used by the scanning-enablement state
// machine.
type EC2API interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error)
	DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	DeleteTags(ctx context.Context, params *ec2.DeleteTagsInput, optFns ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error)
}

// ConfigAPI is the managed compliance-evaluation surface.
type ConfigAPI interface {
	GetComplianceDetailsByResource(ctx context.Context, params *configservice.GetComplianceDetailsByResourceInput, optFns ...func(*configservice.Options)) (*configservice.GetComplianceDetailsByResourceOutput, error)
}

// InspectorAPI is the scan-result surface.
type InspectorAPI interface {
	ListFindings(ctx context.Context, params *inspector.ListFindingsInput, optFns ...func(*inspector.Options)) (*inspector.ListFindingsOutput, error)
	DescribeFindings(ctx context.Context, params *inspector.DescribeFindingsInput, optFns ...func(*inspector.Options)) (*inspector.DescribeFindingsOutput, error)
}

// S3API is the snapshot-object surface.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LambdaAPI is the async worker-invocation surface.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Clients bundles the concrete SDK clients for one region.
type Clients struct {
	EC2       EC2API
	Config    ConfigAPI
	Inspector InspectorAPI
	S3        S3API
	Lambda    LambdaAPI
}

// NewClients builds SDK clients for a region using the default
// credential chain.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &Clients{
		EC2:       ec2.NewFromConfig(cfg),
		Config:    configservice.NewFromConfig(cfg),
		Inspector: inspector.NewFromConfig(cfg),
		S3:        s3.NewFromConfig(cfg),
		Lambda:    lambda.NewFromConfig(cfg),
	}, nil
}

// defaultPolicy is the retry budget for provider calls.
func defaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: retry.DefaultMaxAttempts,
		Backoff:     5 * time.Second,
	}
}

// toString dereferences an optional SDK string.
func toString(s *string) string {
	return awssdk.ToString(s)
}
