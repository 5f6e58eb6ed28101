package checks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumsec/warden/config"
)

func registryConfig(defs ...config.CheckDefinition) *config.Config {
	return &config.Config{Checks: defs}
}

func portDef(name string) config.CheckDefinition {
	return config.CheckDefinition{
		Name:    name,
		Handler: HandlerPortCompliance,
		Enabled: true,
		Ports:   &config.PortPolicy{AllowedPorts: []int{22, 443}},
	}
}

func TestBuildRegistryConstructsEnabledChecks(t *testing.T) {
	cfg := registryConfig(
		portDef("OpenPorts"),
		config.CheckDefinition{Name: "TagHygiene", Handler: HandlerRequiredTags, Enabled: true},
		config.CheckDefinition{Name: "Disabled", Handler: HandlerNaming, Enabled: false},
	)

	registry, err := BuildRegistry(cfg, Deps{})
	require.NoError(t, err)

	assert.Equal(t, 2, registry.Len())
	_, ok := registry.Lookup("Disabled")
	assert.False(t, ok)

	entries := registry.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "OpenPorts", entries[0].Def.Name)
	assert.Equal(t, "TagHygiene", entries[1].Def.Name)
}

func TestBuildRegistryRejectsUnknownHandler(t *testing.T) {
	cfg := registryConfig(
		config.CheckDefinition{Name: "Mystery", Handler: "somethingElse", Enabled: true},
	)

	_, err := BuildRegistry(cfg, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown handler")
}

func TestBuildRegistryRejectsInvalidName(t *testing.T) {
	cfg := registryConfig(portDef("open-ports"))

	_, err := BuildRegistry(cfg, Deps{})
	assert.Error(t, err)
}

func TestBuildRegistryRejectsDuplicateNames(t *testing.T) {
	cfg := registryConfig(portDef("OpenPorts"), portDef("OpenPorts"))

	_, err := BuildRegistry(cfg, Deps{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestBuildRegistryRequiresDependencies(t *testing.T) {
	cases := []struct {
		name    string
		handler string
	}{
		{"managed rules need evaluator", HandlerManagedRules},
		{"scan results need lister", HandlerScanResults},
		{"vpc scanning needs group manager", HandlerVPCScanning},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := registryConfig(config.CheckDefinition{Name: "Check1", Handler: tc.handler, Enabled: true})
			_, err := BuildRegistry(cfg, Deps{})
			assert.Error(t, err)
		})
	}
}

func TestBuildRegistryDefaultsHandlerToName(t *testing.T) {
	def := portDef(HandlerPortCompliance)
	def.Handler = ""
	cfg := registryConfig(def)

	registry, err := BuildRegistry(cfg, Deps{})
	require.NoError(t, err)
	_, ok := registry.Lookup(HandlerPortCompliance)
	assert.True(t, ok)
}
