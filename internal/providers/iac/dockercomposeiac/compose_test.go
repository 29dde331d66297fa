// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Concept-Kit Orchestrator - a deploy-planning, rollout, and provider
dispatch core generated from concept specifications.

This program is free software licensed under the terms of the GNU AGPL
v3 or later. See https://www.gnu.org/licenses/ for license details.
*/

package dockercomposeiac

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCompose = `version: "3.9"
services:
  api:
    image: myapp:latest
  db:
    image: postgres:16
`

func TestLoader_Load(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCompose), 0o600))

	cf, err := NewLoader().Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "db"}, cf.GetServices())
}

func TestLoader_Load_NotFound(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorIs(t, err, ErrComposeNotFound)
}

func TestComposeFile_GetServiceData(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCompose), 0o600))

	cf, err := NewLoader().Load(path)
	require.NoError(t, err)

	data := cf.GetServiceData("api")
	require.NotNil(t, data)
	assert.Equal(t, "myapp:latest", data["image"])

	assert.Nil(t, cf.GetServiceData("nonexistent"))
}

func TestComposeFile_Mutate(t *testing.T) {
	cf := NewComposeFile(map[string]any{
		"version": "3.9",
		"services": map[string]any{
			"api": map[string]any{"image": "myapp:v1"},
		},
	})

	err := cf.Mutate(func(data map[string]any) error {
		services := data["services"].(map[string]any)
		services["api"].(map[string]any)["image"] = "myapp:v2"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "myapp:v2", cf.GetServiceData("api")["image"])
}

func TestComposeFile_ToYAML_Deterministic(t *testing.T) {
	cf := NewComposeFile(map[string]any{
		"version": "3.9",
		"services": map[string]any{
			"api": map[string]any{"image": "myapp:latest"},
		},
		"x-custom": map[string]any{"flag": true},
	})

	out1, err := cf.ToYAML()
	require.NoError(t, err)
	out2, err := cf.ToYAML()
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
	assert.Contains(t, string(out1), "x-custom")
}
