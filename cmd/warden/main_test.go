package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInputFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelope.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"Subject":"s"}`), 0o600))

	body, err := readInput([]string{path})
	require.NoError(t, err)
	assert.Equal(t, `{"Subject":"s"}`, string(body))
}

func TestReadInputMissingFile(t *testing.T) {
	_, err := readInput([]string{filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}

	assert.True(t, names["process"])
	assert.True(t, names["work"])
	assert.True(t, names["serve"])
}
