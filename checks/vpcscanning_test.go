package checks

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/warden/config"
	"github.com/stratumsec/warden/providers/aws"
	"github.com/stratumsec/warden/types"
)

// fakeGroupManager is an in-memory provider: groups, instances, tags,
// and ingress rules, with duplicate-detection so the idempotence
// property is actually observable.
type fakeGroupManager struct {
	groups     map[string]*aws.Group
	instances  map[string]*aws.Instance
	nextID     int
	authorized map[string][]string // groupID -> source group ids
	modifyOps  int
}

func newFakeGroupManager() *fakeGroupManager {
	return &fakeGroupManager{
		groups:     make(map[string]*aws.Group),
		instances:  make(map[string]*aws.Instance),
		authorized: make(map[string][]string),
	}
}

func (f *fakeGroupManager) addInstance(id, vpcID string, tags map[string]string, groupIDs ...string) {
	f.instances[id] = &aws.Instance{ID: id, VPCID: vpcID, Tags: tags, GroupIDs: groupIDs}
}

func (f *fakeGroupManager) FindInstanceByTag(ctx context.Context, vpcID, key, value string) (*aws.Instance, error) {
	for _, inst := range f.instances {
		if vpcID != "" && inst.VPCID != vpcID {
			continue
		}
		if inst.Tags[key] == value {
			return inst, nil
		}
	}
	return nil, nil
}

func (f *fakeGroupManager) FindGroupByName(ctx context.Context, vpcID, name string) (*aws.Group, error) {
	for _, g := range f.groups {
		if g.VPCID == vpcID && g.Name == name {
			return f.snapshot(g), nil
		}
	}
	return nil, nil
}

func (f *fakeGroupManager) GetGroup(ctx context.Context, groupID string) (*aws.Group, error) {
	g, ok := f.groups[groupID]
	if !ok {
		return nil, nil
	}
	return f.snapshot(g), nil
}

// snapshot copies remote state so callers cannot mutate the fake
// through shared maps.
func (f *fakeGroupManager) snapshot(g *aws.Group) *aws.Group {
	copied := &aws.Group{ID: g.ID, Name: g.Name, VPCID: g.VPCID, Tags: map[string]string{}}
	for k, v := range g.Tags {
		copied.Tags[k] = v
	}
	copied.IngressSourceGroups = append(copied.IngressSourceGroups, f.authorized[g.ID]...)
	return copied
}

func (f *fakeGroupManager) CreateGroup(ctx context.Context, vpcID, name, description string) (string, error) {
	f.nextID++
	id := fmt.Sprintf("sg-%04d", f.nextID)
	f.groups[id] = &aws.Group{ID: id, Name: name, VPCID: vpcID, Tags: map[string]string{}}
	return id, nil
}

func (f *fakeGroupManager) DeleteGroup(ctx context.Context, groupID string) error {
	delete(f.groups, groupID)
	delete(f.authorized, groupID)
	return nil
}

func (f *fakeGroupManager) TagGroup(ctx context.Context, groupID, key, value string) error {
	g, ok := f.groups[groupID]
	if !ok {
		return fmt.Errorf("group %s not found", groupID)
	}
	g.Tags[key] = value
	return nil
}

func (f *fakeGroupManager) UntagGroup(ctx context.Context, groupID, key string) error {
	if g, ok := f.groups[groupID]; ok {
		delete(g.Tags, key)
	}
	return nil
}

func (f *fakeGroupManager) AuthorizeIngressFromGroup(ctx context.Context, groupID, sourceGroupID string) error {
	for _, existing := range f.authorized[groupID] {
		if existing == sourceGroupID {
			return fmt.Errorf("duplicate ingress rule on %s", groupID)
		}
	}
	f.authorized[groupID] = append(f.authorized[groupID], sourceGroupID)
	return nil
}

func (f *fakeGroupManager) InstancesInVPC(ctx context.Context, vpcID string) ([]aws.Instance, error) {
	var out []aws.Instance
	for _, inst := range f.instances {
		if inst.VPCID == vpcID {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (f *fakeGroupManager) InstanceGroups(ctx context.Context, instanceID string) ([]string, error) {
	inst, ok := f.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("instance %s not found", instanceID)
	}
	return append([]string{}, inst.GroupIDs...), nil
}

func (f *fakeGroupManager) SetInstanceGroups(ctx context.Context, instanceID string, groupIDs []string) error {
	inst, ok := f.instances[instanceID]
	if !ok {
		return fmt.Errorf("instance %s not found", instanceID)
	}
	f.modifyOps++
	inst.GroupIDs = append([]string{}, groupIDs...)
	return nil
}

func scanningCheck(t *testing.T, fake *fakeGroupManager) *VPCScanning {
	t.Helper()
	check, err := NewVPCScanning(config.CheckDefinition{
		Scanning: &config.ScanningConfig{
			ApplianceTagKey:   "role",
			ApplianceTagValue: "scanner",
			EnvironmentTagKey: "warden-env",
			GroupName:         "warden-protection",
		},
	}, fake)
	require.NoError(t, err)
	return check
}

func scanningInput(inScope bool) Input {
	return Input{
		EnvironmentID: "env-1",
		Resource: types.ResourceDescriptor{
			Type:    types.ResourceTypeVPC,
			ID:      "vpc-1",
			VPCID:   "vpc-1",
			InScope: inScope,
		},
	}
}

func enabledFixture(t *testing.T) (*VPCScanning, *fakeGroupManager) {
	t.Helper()
	fake := newFakeGroupManager()
	fake.addInstance("i-appliance", "vpc-1", map[string]string{"role": "scanner"}, "sg-appliance")
	fake.addInstance("i-web", "vpc-1", nil, "sg-web")
	fake.addInstance("i-db", "vpc-1", nil, "sg-db")
	return scanningCheck(t, fake), fake
}

func TestEnableWiresProtectionGroup(t *testing.T) {
	check, fake := enabledFixture(t)

	_, err := check.Evaluate(context.Background(), scanningInput(true))
	require.NoError(t, err)

	group, err := fake.FindGroupByName(context.Background(), "vpc-1", "warden-protection")
	require.NoError(t, err)
	require.NotNil(t, group)

	assert.Equal(t, "true", group.Tags["warden-env:env-1"])
	assert.Equal(t, []string{"sg-appliance"}, group.IngressSourceGroups)

	assert.Contains(t, fake.instances["i-web"].GroupIDs, group.ID)
	assert.Contains(t, fake.instances["i-db"].GroupIDs, group.ID)
	// The appliance itself is never attached.
	assert.NotContains(t, fake.instances["i-appliance"].GroupIDs, group.ID)
}

func TestEnableIsIdempotent(t *testing.T) {
	check, fake := enabledFixture(t)
	ctx := context.Background()

	_, err := check.Evaluate(ctx, scanningInput(true))
	require.NoError(t, err)

	group, _ := fake.FindGroupByName(ctx, "vpc-1", "warden-protection")
	rulesAfterFirst := append([]string{}, group.IngressSourceGroups...)
	webAfterFirst := append([]string{}, fake.instances["i-web"].GroupIDs...)
	modifyAfterFirst := fake.modifyOps

	// The fake errors on duplicate ingress authorization, so a second
	// pass only succeeds if the machine detects existing state.
	_, err = check.Evaluate(ctx, scanningInput(true))
	require.NoError(t, err)

	group, _ = fake.FindGroupByName(ctx, "vpc-1", "warden-protection")
	assert.Equal(t, rulesAfterFirst, group.IngressSourceGroups)
	assert.Equal(t, webAfterFirst, fake.instances["i-web"].GroupIDs)
	assert.Equal(t, modifyAfterFirst, fake.modifyOps)
	assert.Len(t, fake.groups, 1)
}

func TestEnableFailsWithoutAppliance(t *testing.T) {
	fake := newFakeGroupManager()
	fake.addInstance("i-web", "vpc-1", nil, "sg-web")
	check := scanningCheck(t, fake)

	_, err := check.Evaluate(context.Background(), scanningInput(true))
	assert.Error(t, err)
}

func TestDisableStopsWhileOtherEnvironmentsReference(t *testing.T) {
	check, fake := enabledFixture(t)
	ctx := context.Background()

	_, err := check.Evaluate(ctx, scanningInput(true))
	require.NoError(t, err)

	group, _ := fake.FindGroupByName(ctx, "vpc-1", "warden-protection")
	require.NoError(t, fake.TagGroup(ctx, group.ID, "warden-env:env-2", "true"))

	_, err = check.Evaluate(ctx, scanningInput(false))
	require.NoError(t, err)

	// Still referenced by env-2: group stays, instances stay attached.
	group, _ = fake.FindGroupByName(ctx, "vpc-1", "warden-protection")
	require.NotNil(t, group)
	assert.NotContains(t, group.Tags, "warden-env:env-1")
	assert.Contains(t, fake.instances["i-web"].GroupIDs, group.ID)
}

func TestDisableLastReferenceTearsDown(t *testing.T) {
	check, fake := enabledFixture(t)
	ctx := context.Background()

	_, err := check.Evaluate(ctx, scanningInput(true))
	require.NoError(t, err)
	group, _ := fake.FindGroupByName(ctx, "vpc-1", "warden-protection")
	groupID := group.ID

	_, err = check.Evaluate(ctx, scanningInput(false))
	require.NoError(t, err)

	gone, _ := fake.GetGroup(ctx, groupID)
	assert.Nil(t, gone)
	assert.NotContains(t, fake.instances["i-web"].GroupIDs, groupID)
	assert.NotContains(t, fake.instances["i-db"].GroupIDs, groupID)
}

func TestDisableIsIdempotent(t *testing.T) {
	check, _ := enabledFixture(t)
	ctx := context.Background()

	_, err := check.Evaluate(ctx, scanningInput(true))
	require.NoError(t, err)

	_, err = check.Evaluate(ctx, scanningInput(false))
	require.NoError(t, err)
	// Redelivered out-of-scope event: nothing left to do, no error.
	_, err = check.Evaluate(ctx, scanningInput(false))
	require.NoError(t, err)
}

func TestEvaluateNoVPCIsNoop(t *testing.T) {
	fake := newFakeGroupManager()
	check := scanningCheck(t, fake)

	result, err := check.Evaluate(context.Background(), Input{
		EnvironmentID: "env-1",
		Resource:      types.ResourceDescriptor{Type: types.ResourceTypeInstance, ID: "i-1", InScope: true},
	})

	require.NoError(t, err)
	assert.Empty(t, result.Vulnerabilities)
	assert.Empty(t, fake.groups)
}
