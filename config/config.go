// Package config loads the static check-definition table and service
// configuration. The loaded snapshot is immutable and passed explicitly
// into each component; nothing reads ambient global state.
package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/stratumsec/warden/types"
)

// checkNamePattern rejects names that could smuggle path or lookup
// tricks into the registry.
var checkNamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Config is the main configuration.
type Config struct {
	Version string            `yaml:"version"`
	Service ServiceConfig     `yaml:"service"`
	Checks  []CheckDefinition `yaml:"checks"`
}

// ServiceConfig locates the central security service.
type ServiceConfig struct {
	BaseURL string `yaml:"base_url"`
}

// CheckDefinition is one compliance rule entry.
type CheckDefinition struct {
	Name string `yaml:"name"`

	// Handler names the typed handler implementing the check. Empty
	// means the handler named like the check itself.
	Handler       string                `yaml:"handler,omitempty"`
	Enabled       bool                  `yaml:"enabled"`
	ResourceTypes []string              `yaml:"resource_types"`
	Modes         []string              `yaml:"modes"`
	Regions       []string              `yaml:"regions,omitempty"`
	Whitelist     []WhitelistEntry      `yaml:"whitelist,omitempty"`
	Vulnerability VulnerabilityTemplate `yaml:"vulnerability"`

	// Rule-specific configuration. Only the section matching the check's
	// handler is read.
	Ports     *PortPolicy                      `yaml:"ports,omitempty"`
	Tags      []TagPolicy                      `yaml:"tag_policies,omitempty"`
	Naming    []NamingConvention               `yaml:"naming,omitempty"`
	RuleTable map[string]VulnerabilityTemplate `yaml:"rule_table,omitempty"`
	Scanning  *ScanningConfig                  `yaml:"scanning,omitempty"`
}

// WhitelistEntry exempts a resource from evaluation, by id or tag match.
type WhitelistEntry struct {
	ResourceID string `yaml:"resource_id,omitempty"`
	TagKey     string `yaml:"tag_key,omitempty"`
	TagValue   string `yaml:"tag_value,omitempty"`
}

// Matches reports whether the entry exempts the resource.
func (w WhitelistEntry) Matches(res types.ResourceDescriptor) bool {
	if w.ResourceID != "" {
		return w.ResourceID == res.ID
	}
	if w.TagKey != "" {
		return res.Tag(w.TagKey) == w.TagValue
	}
	return false
}

// VulnerabilityTemplate is the default vulnerability published when a
// check reports a plain violation.
type VulnerabilityTemplate struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	Remediation string `yaml:"remediation,omitempty"`
	Severity    string `yaml:"severity,omitempty"`
}

// Instantiate materializes the template against a resource, with
// optional evidence substituted in.
func (t VulnerabilityTemplate) Instantiate(checkName, resourceID string, evidence []types.Evidence) types.Vulnerability {
	return types.Vulnerability{
		ID:          types.VulnerabilityID(checkName, resourceID),
		Title:       t.Title,
		Description: t.Description,
		Remediation: t.Remediation,
		Severity:    t.Severity,
		Score:       types.SeverityScore(t.Severity),
		ResourceID:  resourceID,
		Evidence:    evidence,
	}
}

// PortPolicy declares the approved ingress ports.
type PortPolicy struct {
	AllowedPorts  []int       `yaml:"allowed_ports,omitempty"`
	AllowedRanges []PortRange `yaml:"allowed_ranges,omitempty"`
}

// PortRange is one inclusive allowed range.
type PortRange struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// TagPolicy requires tags on the resource types it declares.
type TagPolicy struct {
	ResourceTypes []string      `yaml:"resource_types"`
	Required      []RequiredTag `yaml:"required"`
}

// RequiredTag names one required tag key. When AllowedValues is set,
// the present value must match at least one pattern (regex semantics).
type RequiredTag struct {
	Key           string   `yaml:"key"`
	AllowedValues []string `yaml:"allowed_values,omitempty"`
}

// NamingConvention constrains the Name tag of the resource types it
// declares to at least one of its patterns.
type NamingConvention struct {
	ResourceTypes []string `yaml:"resource_types"`
	Patterns      []string `yaml:"patterns"`
}

// ScanningConfig drives the VPC scanning-enablement state machine.
type ScanningConfig struct {
	// ApplianceTagKey/Value locate the protective appliance instance.
	ApplianceTagKey   string `yaml:"appliance_tag_key"`
	ApplianceTagValue string `yaml:"appliance_tag_value"`

	// EnvironmentTagKey is the tag under which protection groups record
	// the environments referencing them.
	EnvironmentTagKey string `yaml:"environment_tag_key"`

	// GroupName is the name of the per-VPC protection security group.
	GroupName string `yaml:"group_name"`
}

// LoadConfig loads configuration from file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Validate ensures config has required fields and well-formed entries.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if c.Service.BaseURL == "" {
		return fmt.Errorf("service.base_url is required")
	}
	for i, check := range c.Checks {
		if err := check.validate(); err != nil {
			return fmt.Errorf("checks[%d]: %w", i, err)
		}
	}
	return nil
}

func (cd CheckDefinition) validate() error {
	if !checkNamePattern.MatchString(cd.Name) {
		return fmt.Errorf("check name %q is not alphanumeric", cd.Name)
	}
	if len(cd.ResourceTypes) == 0 {
		return fmt.Errorf("check %s declares no resource types", cd.Name)
	}
	if len(cd.Modes) == 0 {
		return fmt.Errorf("check %s declares no modes", cd.Name)
	}
	return nil
}

// HandlerName returns the typed handler the check binds to.
func (cd CheckDefinition) HandlerName() string {
	if cd.Handler != "" {
		return cd.Handler
	}
	return cd.Name
}

// ValidCheckName reports whether a name passes the alphanumeric rule.
func ValidCheckName(name string) bool {
	return checkNamePattern.MatchString(name)
}

// AppliesTo reports whether the definition covers the resource type.
func (cd CheckDefinition) AppliesTo(resourceType string) bool {
	for _, rt := range cd.ResourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}

// RunsFor reports whether the definition runs for the event kind.
func (cd CheckDefinition) RunsFor(kind types.EventKind) bool {
	for _, m := range cd.Modes {
		if types.EventKind(m) == kind {
			return true
		}
	}
	return false
}

// CoversRegion reports whether the definition covers the region. An
// empty region list covers all regions.
func (cd CheckDefinition) CoversRegion(region string) bool {
	if len(cd.Regions) == 0 {
		return true
	}
	for _, r := range cd.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// Whitelisted reports whether any whitelist entry exempts the resource.
func (cd CheckDefinition) Whitelisted(res types.ResourceDescriptor) bool {
	for _, entry := range cd.Whitelist {
		if entry.Matches(res) {
			return true
		}
	}
	return false
}

// SupportedResourceTypes returns the union of resource types across
// enabled checks, used to suppress irrelevant snapshot items.
func (c *Config) SupportedResourceTypes() map[string]bool {
	supported := make(map[string]bool)
	for _, check := range c.Checks {
		if !check.Enabled {
			continue
		}
		for _, rt := range check.ResourceTypes {
			supported[rt] = true
		}
	}
	return supported
}
