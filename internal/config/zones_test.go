package config

import (
	"os"
	"path/filepath"
	"testing"

	"orchestra/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlZones = `
zones:
  - name: backend
    description: API services
    triggers:
      - event: worktree:created
        condition:
          field: worktree.branch
          operator: prefix
          value: feature/
        actions:
          - type: run-tests
          - type: notify
            parameters:
              message: "tests ran for {{ worktree.branch }}"
`

const jsoncZones = `{
  // zones for the frontend team
  "zones": [
    {
      "name": "frontend",
      "triggers": [
        {"event": "worktree:updated", "actions": [{"type": "notify"}]}, // trailing comma
      ],
    },
  ],
}`

func TestParseZoneFileYAML(t *testing.T) {
	zf, err := ParseZoneFile([]byte(yamlZones), ".yaml")
	require.NoError(t, err)
	require.Len(t, zf.Zones, 1)

	z := zf.Zones[0]
	assert.Equal(t, "backend", z.Name)
	require.Len(t, z.Triggers, 1)
	require.NotNil(t, z.Triggers[0].Condition)
	assert.Equal(t, "prefix", z.Triggers[0].Condition.Operator)
	require.Len(t, z.Triggers[0].Actions, 2)
	assert.Equal(t, "tests ran for {{ worktree.branch }}", z.Triggers[0].Actions[1].Parameters["message"])
}

func TestParseZoneFileJSONC(t *testing.T) {
	zf, err := ParseZoneFile([]byte(jsoncZones), ".jsonc")
	require.NoError(t, err)
	require.Len(t, zf.Zones, 1)
	assert.Equal(t, "frontend", zf.Zones[0].Name)
	assert.Equal(t, "worktree:updated", zf.Zones[0].Triggers[0].Event)
}

func TestParseZoneFileErrors(t *testing.T) {
	_, err := ParseZoneFile([]byte("zones: [{name: a}, {name: a}]"), ".yml")
	assert.True(t, errors.HasCode(err, errors.ErrConfigValidation))

	_, err = ParseZoneFile([]byte("zones: [{description: nameless}]"), ".yml")
	assert.True(t, errors.HasCode(err, errors.ErrConfigValidation))

	_, err = ParseZoneFile([]byte("{}"), ".toml")
	assert.True(t, errors.HasCode(err, errors.ErrConfigValidation))

	_, err = ParseZoneFile([]byte("{not json"), ".json")
	assert.True(t, errors.HasCode(err, errors.ErrConfigParse))
}

func TestLoadZoneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlZones), 0644))

	zf, err := LoadZoneFile(path)
	require.NoError(t, err)
	assert.Len(t, zf.Zones, 1)

	_, err = LoadZoneFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.HasCode(err, errors.ErrConfigNotFound))
}
