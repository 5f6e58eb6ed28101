package types

// ResourceDescriptor identifies the resource a check runs against.
type ResourceDescriptor struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Region  string            `json:"region"`
	VPCID   string            `json:"vpc_id,omitempty"` // empty = no resolvable membership
	Tags    map[string]string `json:"tags,omitempty"`
	InScope bool              `json:"in_scope"`
}

// Tag returns a tag value, or empty string when absent.
func (r ResourceDescriptor) Tag(key string) string {
	return r.Tags[key]
}

// DescribeItem builds a descriptor from a configuration item against a
// resolved scope set. A resource with no VPC membership is in scope;
// absence of membership is only ever decided by VPCID resolution, never
// assumed.
func DescribeItem(item *ConfigurationItem, scope ScopeSet) ResourceDescriptor {
	vpcID := item.VPCID()
	return ResourceDescriptor{
		Type:    item.ResourceType,
		ID:      item.ResourceID,
		Region:  item.Region,
		VPCID:   vpcID,
		Tags:    item.Tags,
		InScope: vpcID == "" || scope.Contains(vpcID),
	}
}
