package aws

import (
	"context"
	"errors"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/stratumsec/warden/retry"
	"github.com/stratumsec/warden/telemetry"
)

// Provider-side error codes mapped to benign outcomes. Re-invocation of
// an idempotent step must treat "already there" as success.
const (
	errCodeDuplicatePermission = "InvalidPermission.Duplicate"
	errCodeGroupNotFound       = "InvalidGroup.NotFound"
)

// Group is a security group as seen by the state machine.
type Group struct {
	ID    string
	Name  string
	VPCID string
	Tags  map[string]string

	// IngressSourceGroups are the group ids already authorized as
	// ingress sources.
	IngressSourceGroups []string
}

// Instance is an EC2 instance with its current group membership.
type Instance struct {
	ID       string
	VPCID    string
	GroupIDs []string
	Tags     map[string]string
}

// SecurityGroups wraps the EC2 operations used to provision and remove
// protective security-group wiring.
type SecurityGroups struct {
	api    EC2API
	policy retry.Policy
	logger *telemetry.Logger
}

// NewSecurityGroups creates the wrapper.
func NewSecurityGroups(api EC2API) *SecurityGroups {
	return &SecurityGroups{
		api:    api,
		policy: defaultPolicy(),
		logger: telemetry.NewLogger("ec2"),
	}
}

// FindInstanceByTag locates an instance by tag, optionally restricted
// to a VPC. Returns nil when no running instance matches.
func (sg *SecurityGroups) FindInstanceByTag(ctx context.Context, vpcID, key, value string) (*Instance, error) {
	filters := []ec2types.Filter{
		{Name: awssdk.String("tag:" + key), Values: []string{value}},
		{Name: awssdk.String("instance-state-name"), Values: []string{"pending", "running"}},
	}
	if vpcID != "" {
		filters = append(filters, ec2types.Filter{Name: awssdk.String("vpc-id"), Values: []string{vpcID}})
	}

	out, err := retry.Do(ctx, sg.policy, func() (*ec2.DescribeInstancesOutput, error) {
		return sg.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find instance by tag %s=%s: %w", key, value, err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			instance := convertInstance(inst)
			return &instance, nil
		}
	}
	return nil, nil
}

// FindGroupByName looks up a group by name within a VPC. Returns nil
// when absent.
func (sg *SecurityGroups) FindGroupByName(ctx context.Context, vpcID, name string) (*Group, error) {
	out, err := retry.Do(ctx, sg.policy, func() (*ec2.DescribeSecurityGroupsOutput, error) {
		return sg.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			Filters: []ec2types.Filter{
				{Name: awssdk.String("vpc-id"), Values: []string{vpcID}},
				{Name: awssdk.String("group-name"), Values: []string{name}},
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe group %s in %s: %w", name, vpcID, err)
	}

	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}
	group := convertGroup(out.SecurityGroups[0])
	return &group, nil
}

// GetGroup re-reads a group by id. Remote state is authoritative; the
// state machine re-reads before every mutating decision.
func (sg *SecurityGroups) GetGroup(ctx context.Context, groupID string) (*Group, error) {
	out, err := retry.Do(ctx, sg.policy, func() (*ec2.DescribeSecurityGroupsOutput, error) {
		return sg.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			GroupIds: []string{groupID},
		})
	})
	if err != nil {
		if isErrorCode(err, errCodeGroupNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe group %s: %w", groupID, err)
	}
	if len(out.SecurityGroups) == 0 {
		return nil, nil
	}
	group := convertGroup(out.SecurityGroups[0])
	return &group, nil
}

// CreateGroup creates a security group and returns its id.
func (sg *SecurityGroups) CreateGroup(ctx context.Context, vpcID, name, description string) (string, error) {
	out, err := retry.Do(ctx, sg.policy, func() (*ec2.CreateSecurityGroupOutput, error) {
		return sg.api.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			VpcId:       awssdk.String(vpcID),
			GroupName:   awssdk.String(name),
			Description: awssdk.String(description),
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to create group %s in %s: %w", name, vpcID, err)
	}
	return toString(out.GroupId), nil
}

// DeleteGroup deletes a group. A group that is already gone is success.
func (sg *SecurityGroups) DeleteGroup(ctx context.Context, groupID string) error {
	err := retry.DoVoid(ctx, sg.policy, func() error {
		_, err := sg.api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
			GroupId: awssdk.String(groupID),
		})
		return err
	})
	if err != nil && !isErrorCode(err, errCodeGroupNotFound) {
		return fmt.Errorf("failed to delete group %s: %w", groupID, err)
	}
	return nil
}

// TagGroup upserts one tag on a group.
func (sg *SecurityGroups) TagGroup(ctx context.Context, groupID, key, value string) error {
	err := retry.DoVoid(ctx, sg.policy, func() error {
		_, err := sg.api.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{groupID},
			Tags:      []ec2types.Tag{{Key: awssdk.String(key), Value: awssdk.String(value)}},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to tag group %s: %w", groupID, err)
	}
	return nil
}

// UntagGroup removes one tag from a group.
func (sg *SecurityGroups) UntagGroup(ctx context.Context, groupID, key string) error {
	err := retry.DoVoid(ctx, sg.policy, func() error {
		_, err := sg.api.DeleteTags(ctx, &ec2.DeleteTagsInput{
			Resources: []string{groupID},
			Tags:      []ec2types.Tag{{Key: awssdk.String(key)}},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to untag group %s: %w", groupID, err)
	}
	return nil
}

// AuthorizeIngressFromGroup authorizes all traffic from a source group.
// An already-authorized rule is success, never duplicated.
func (sg *SecurityGroups) AuthorizeIngressFromGroup(ctx context.Context, groupID, sourceGroupID string) error {
	err := retry.DoVoid(ctx, sg.policy, func() error {
		_, err := sg.api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: awssdk.String(groupID),
			IpPermissions: []ec2types.IpPermission{
				{
					IpProtocol: awssdk.String("-1"),
					UserIdGroupPairs: []ec2types.UserIdGroupPair{
						{GroupId: awssdk.String(sourceGroupID)},
					},
				},
			},
		})
		return err
	})
	if err != nil && !isErrorCode(err, errCodeDuplicatePermission) {
		return fmt.Errorf("failed to authorize ingress on %s from %s: %w", groupID, sourceGroupID, err)
	}
	return nil
}

// InstancesInVPC lists all pending/running instances in a VPC.
func (sg *SecurityGroups) InstancesInVPC(ctx context.Context, vpcID string) ([]Instance, error) {
	var instances []Instance
	var nextToken *string

	for {
		token := nextToken
		out, err := retry.Do(ctx, sg.policy, func() (*ec2.DescribeInstancesOutput, error) {
			return sg.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
				Filters: []ec2types.Filter{
					{Name: awssdk.String("vpc-id"), Values: []string{vpcID}},
					{Name: awssdk.String("instance-state-name"), Values: []string{"pending", "running"}},
				},
				NextToken: token,
			})
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list instances in %s: %w", vpcID, err)
		}

		for _, reservation := range out.Reservations {
			for _, inst := range reservation.Instances {
				instances = append(instances, convertInstance(inst))
			}
		}

		if out.NextToken == nil {
			return instances, nil
		}
		nextToken = out.NextToken
	}
}

// InstanceGroups re-reads the current group membership of an instance.
func (sg *SecurityGroups) InstanceGroups(ctx context.Context, instanceID string) ([]string, error) {
	out, err := retry.Do(ctx, sg.policy, func() (*ec2.DescribeInstancesOutput, error) {
		return sg.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}

	for _, reservation := range out.Reservations {
		for _, inst := range reservation.Instances {
			return convertInstance(inst).GroupIDs, nil
		}
	}
	return nil, fmt.Errorf("instance %s not found", instanceID)
}

// SetInstanceGroups replaces the instance's group membership.
func (sg *SecurityGroups) SetInstanceGroups(ctx context.Context, instanceID string, groupIDs []string) error {
	err := retry.DoVoid(ctx, sg.policy, func() error {
		_, err := sg.api.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
			InstanceId: awssdk.String(instanceID),
			Groups:     groupIDs,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set groups on instance %s: %w", instanceID, err)
	}
	return nil
}

func convertInstance(inst ec2types.Instance) Instance {
	instance := Instance{
		ID:    toString(inst.InstanceId),
		VPCID: toString(inst.VpcId),
		Tags:  convertTags(inst.Tags),
	}
	for _, g := range inst.SecurityGroups {
		instance.GroupIDs = append(instance.GroupIDs, toString(g.GroupId))
	}
	return instance
}

func convertGroup(group ec2types.SecurityGroup) Group {
	converted := Group{
		ID:    toString(group.GroupId),
		Name:  toString(group.GroupName),
		VPCID: toString(group.VpcId),
		Tags:  convertTags(group.Tags),
	}
	for _, perm := range group.IpPermissions {
		for _, pair := range perm.UserIdGroupPairs {
			converted.IngressSourceGroups = append(converted.IngressSourceGroups, toString(pair.GroupId))
		}
	}
	return converted
}

func convertTags(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	converted := make(map[string]string, len(tags))
	for _, tag := range tags {
		converted[toString(tag.Key)] = toString(tag.Value)
	}
	return converted
}

// isErrorCode reports whether err carries the given provider error code.
func isErrorCode(err error, code string) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == code
}
