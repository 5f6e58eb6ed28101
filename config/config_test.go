package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/warden/types"
)

const sampleConfig = `
version: "1"
service:
  base_url: https://api.example.com
checks:
  - name: portCompliance
    enabled: true
    resource_types: ["AWS::EC2::SecurityGroup"]
    modes: ["configuration_item", "snapshot_item"]
    vulnerability:
      title: Unapproved ingress ports
      severity: High
    ports:
      allowed_ports: [22, 443]
  - name: requiredTags
    enabled: false
    resource_types: ["AWS::EC2::Instance"]
    modes: ["configuration_item"]
    vulnerability:
      title: Missing required tags
      severity: Medium
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Checks, 2)
	assert.Equal(t, "portCompliance", cfg.Checks[0].Name)
	assert.Equal(t, []int{22, 443}, cfg.Checks[0].Ports.AllowedPorts)
	assert.Equal(t, 10.0, cfg.Checks[0].Vulnerability.Instantiate("portCompliance", "sg-1", nil).Score)
}

func TestLoadConfigRejectsBadCheckName(t *testing.T) {
	bad := `
version: "1"
service:
  base_url: https://api.example.com
checks:
  - name: "../../evil"
    enabled: true
    resource_types: ["AWS::EC2::Instance"]
    modes: ["configuration_item"]
`
	_, err := LoadConfig(writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not alphanumeric")
}

func TestLoadConfigMissingService(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "version: \"1\"\n"))
	assert.Error(t, err)
}

func TestCheckDefinitionMatching(t *testing.T) {
	cd := CheckDefinition{
		Name:          "portCompliance",
		ResourceTypes: []string{types.ResourceTypeSecurityGroup},
		Modes:         []string{"configuration_item"},
		Regions:       []string{"us-east-1"},
	}

	assert.True(t, cd.AppliesTo(types.ResourceTypeSecurityGroup))
	assert.False(t, cd.AppliesTo(types.ResourceTypeInstance))
	assert.True(t, cd.RunsFor(types.KindSingleItem))
	assert.False(t, cd.RunsFor(types.KindSnapshotItem))
	assert.True(t, cd.CoversRegion("us-east-1"))
	assert.False(t, cd.CoversRegion("eu-west-1"))

	cd.Regions = nil
	assert.True(t, cd.CoversRegion("eu-west-1"))
}

func TestWhitelist(t *testing.T) {
	cd := CheckDefinition{
		Whitelist: []WhitelistEntry{
			{ResourceID: "sg-exempt"},
			{TagKey: "compliance", TagValue: "exempt"},
		},
	}

	assert.True(t, cd.Whitelisted(types.ResourceDescriptor{ID: "sg-exempt"}))
	assert.True(t, cd.Whitelisted(types.ResourceDescriptor{
		ID:   "sg-other",
		Tags: map[string]string{"compliance": "exempt"},
	}))
	assert.False(t, cd.Whitelisted(types.ResourceDescriptor{ID: "sg-other"}))
}

func TestSupportedResourceTypes(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	supported := cfg.SupportedResourceTypes()
	assert.True(t, supported[types.ResourceTypeSecurityGroup])
	// requiredTags is disabled, its types are not supported
	assert.False(t, supported[types.ResourceTypeInstance])
}
