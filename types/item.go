package types

import "encoding/json"

// Configuration item statuses as emitted by the provider.
const (
	StatusOK         = "OK"
	StatusDiscovered = "ResourceDiscovered"
	StatusDeleted    = "ResourceDeleted"
)

// Resource types the pipeline understands.
const (
	ResourceTypeInstance      = "AWS::EC2::Instance"
	ResourceTypeSecurityGroup = "AWS::EC2::SecurityGroup"
	ResourceTypeVPC           = "AWS::EC2::VPC"
	ResourceTypeSubnet        = "AWS::EC2::Subnet"
	ResourceTypeENI           = "AWS::EC2::NetworkInterface"
)

// ConfigurationItem is one provider-emitted snapshot of a resource's
// attributes at a point in time. Field names follow the wire format.
type ConfigurationItem struct {
	ResourceType  string            `json:"resourceType"`
	ResourceID    string            `json:"resourceId"`
	AccountID     string            `json:"awsAccountId"`
	Region        string            `json:"awsRegion"`
	Status        string            `json:"configurationItemStatus"`
	Tags          map[string]string `json:"tags,omitempty"`
	Relationships []Relationship    `json:"relationships,omitempty"`
	Configuration json.RawMessage   `json:"configuration,omitempty"`
}

// Relationship links a configuration item to a related resource,
// e.g. an instance to its containing VPC.
type Relationship struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	Name         string `json:"relationshipName,omitempty"`
}

// VPCID derives the owning VPC of the item: embedded configuration
// first, then relationship links. Returns empty string when the item
// has no resolvable VPC membership.
func (ci ConfigurationItem) VPCID() string {
	if len(ci.Configuration) > 0 {
		var cfg struct {
			VpcID string `json:"vpcId"`
		}
		if err := json.Unmarshal(ci.Configuration, &cfg); err == nil && cfg.VpcID != "" {
			return cfg.VpcID
		}
	}
	for _, rel := range ci.Relationships {
		if rel.ResourceType == ResourceTypeVPC {
			return rel.ResourceID
		}
	}
	if ci.ResourceType == ResourceTypeVPC {
		return ci.ResourceID
	}
	return ""
}
