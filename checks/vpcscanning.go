package checks

import (
	"context"
	"fmt"
	"strings"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/providers/aws"
	"github.com/stratumsec/warden/telemetry"
)

// VPCScanning provisions or removes the protective security-group
// wiring for a VPC. It is a remediation state machine, not a pass/fail
// check: it always reports clear, and its correctness property is
// idempotence — the triggering event may be redelivered, so every step
// treats "already there" as success and re-reads remote state before
// each mutating decision.
type VPCScanning struct {
	cfg    config.ScanningConfig
	groups GroupManager
	logger *telemetry.Logger
}

// NewVPCScanning creates the state machine.
func NewVPCScanning(def config.CheckDefinition, groups GroupManager) (*VPCScanning, error) {
	if def.Scanning == nil {
		return nil, fmt.Errorf("scanning configuration is required")
	}
	return &VPCScanning{
		cfg:    *def.Scanning,
		groups: groups,
		logger: telemetry.NewLogger("vpc-scanning"),
	}, nil
}

// environmentTag is the per-environment tag recording a reference on
// the protection group.
func (c *VPCScanning) environmentTag(environmentID string) string {
	return c.cfg.EnvironmentTagKey + ":" + environmentID
}

// Evaluate drives the enable transition for in-scope resources and the
// disable transition otherwise.
func (c *VPCScanning) Evaluate(ctx context.Context, in Input) (Result, error) {
	if in.Resource.VPCID == "" {
		return Result{}, nil
	}

	var err error
	if in.Resource.InScope {
		err = c.enable(ctx, in.EnvironmentID, in.Resource.VPCID)
	} else {
		err = c.disable(ctx, in.EnvironmentID, in.Resource.VPCID)
	}
	return Result{}, err
}

// enable wires the protection group into the VPC. Steps are strictly
// sequential: each decision depends on the previous remote-call result.
func (c *VPCScanning) enable(ctx context.Context, environmentID, vpcID string) error {
	appliance, err := c.groups.FindInstanceByTag(ctx, vpcID, c.cfg.ApplianceTagKey, c.cfg.ApplianceTagValue)
	if err != nil {
		return err
	}
	if appliance == nil {
		return fmt.Errorf("no appliance instance tagged %s=%s in %s",
			c.cfg.ApplianceTagKey, c.cfg.ApplianceTagValue, vpcID)
	}
	if len(appliance.GroupIDs) == 0 {
		return fmt.Errorf("appliance %s has no security group", appliance.ID)
	}

	group, err := c.resolveProtectionGroup(ctx, vpcID)
	if err != nil {
		return err
	}

	if err := c.groups.TagGroup(ctx, group.ID, c.environmentTag(environmentID), "true"); err != nil {
		return err
	}

	if !containsString(group.IngressSourceGroups, appliance.GroupIDs[0]) {
		if err := c.groups.AuthorizeIngressFromGroup(ctx, group.ID, appliance.GroupIDs[0]); err != nil {
			return err
		}
	}

	return c.attachToInstances(ctx, vpcID, group.ID, appliance.ID)
}

// resolveProtectionGroup finds or creates the per-VPC protection group.
func (c *VPCScanning) resolveProtectionGroup(ctx context.Context, vpcID string) (*aws.Group, error) {
	group, err := c.groups.FindGroupByName(ctx, vpcID, c.cfg.GroupName)
	if err != nil {
		return nil, err
	}
	if group != nil {
		return group, nil
	}

	groupID, err := c.groups.CreateGroup(ctx, vpcID, c.cfg.GroupName, "scanning appliance access")
	if err != nil {
		return nil, err
	}
	c.logger.WithContext(ctx).Info().
		Str("group_id", groupID).
		Str("vpc_id", vpcID).
		Msg("created protection security group")

	created, err := c.groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, fmt.Errorf("protection group %s vanished after creation", groupID)
	}
	return created, nil
}

// attachToInstances attaches the protection group to every instance in
// the VPC except the appliance. Membership is re-read immediately
// before each modification; already-attached instances are skipped.
func (c *VPCScanning) attachToInstances(ctx context.Context, vpcID, groupID, applianceID string) error {
	instances, err := c.groups.InstancesInVPC(ctx, vpcID)
	if err != nil {
		return err
	}

	for _, instance := range instances {
		if instance.ID == applianceID {
			continue
		}

		current, err := c.groups.InstanceGroups(ctx, instance.ID)
		if err != nil {
			return err
		}
		if containsString(current, groupID) {
			continue
		}
		if err := c.groups.SetInstanceGroups(ctx, instance.ID, append(current, groupID)); err != nil {
			return err
		}
	}
	return nil
}

// disable removes this environment's reference from the protection
// group. The group itself is only torn down once no environment
// references it.
func (c *VPCScanning) disable(ctx context.Context, environmentID, vpcID string) error {
	group, err := c.groups.FindGroupByName(ctx, vpcID, c.cfg.GroupName)
	if err != nil {
		return err
	}
	if group == nil {
		return nil
	}

	if err := c.groups.UntagGroup(ctx, group.ID, c.environmentTag(environmentID)); err != nil {
		return err
	}

	// Re-read: another environment may have tagged the group since.
	current, err := c.groups.GetGroup(ctx, group.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if c.referencedByOtherEnvironments(current) {
		c.logger.WithContext(ctx).Info().
			Str("group_id", current.ID).
			Msg("protection group still referenced, leaving in place")
		return nil
	}

	if err := c.detachFromInstances(ctx, vpcID, current.ID); err != nil {
		return err
	}
	return c.groups.DeleteGroup(ctx, current.ID)
}

func (c *VPCScanning) referencedByOtherEnvironments(group *aws.Group) bool {
	prefix := c.cfg.EnvironmentTagKey + ":"
	for key := range group.Tags {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// detachFromInstances removes the protection group from every instance
// currently carrying it.
func (c *VPCScanning) detachFromInstances(ctx context.Context, vpcID, groupID string) error {
	instances, err := c.groups.InstancesInVPC(ctx, vpcID)
	if err != nil {
		return err
	}

	for _, instance := range instances {
		current, err := c.groups.InstanceGroups(ctx, instance.ID)
		if err != nil {
			return err
		}
		if !containsString(current, groupID) {
			continue
		}
		if err := c.groups.SetInstanceGroups(ctx, instance.ID, removeString(current, groupID)); err != nil {
			return err
		}
	}
	return nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func removeString(values []string, drop string) []string {
	kept := make([]string, 0, len(values))
	for _, v := range values {
		if v != drop {
			kept = append(kept, v)
		}
	}
	return kept
}
