package commands

import (
	"os"
	"path/filepath"
	"testing"

	"orchestra/internal/config"
	"orchestra/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		pairs   []string
		want    map[string]interface{}
		wantErr bool
	}{
		{name: "empty", want: nil},
		{name: "pairs", pairs: []string{"suite=unit", "url=http://x?a=b"}, want: map[string]interface{}{"suite": "unit", "url": "http://x?a=b"}},
		{name: "pairs override data", data: `{"suite":"e2e","n":1}`, pairs: []string{"suite=unit"}, want: map[string]interface{}{"suite": "unit", "n": float64(1)}},
		{name: "missing equals", pairs: []string{"suite"}, wantErr: true},
		{name: "bad json", data: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePayload(tt.data, tt.pairs)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookupKey(t *testing.T) {
	cfg := config.DefaultGlobalConfig()

	v, err := lookupKey(cfg, "ports.min")
	require.NoError(t, err)
	assert.Equal(t, "3001", v)

	v, err = lookupKey(cfg, "context.cache_ttl")
	require.NoError(t, err)
	assert.Equal(t, "5m0s", v)

	_, err = lookupKey(cfg, "ports.nope")
	assert.Error(t, err)
}

func TestSetConfigValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	require.NoError(t, setConfigValue(path, "ports.max", "3999"))
	require.NoError(t, setConfigValue(path, "ports.min", "3500"))

	cfg, err := config.LoadGlobalConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3500, cfg.Ports.Min)
	assert.Equal(t, 3999, cfg.Ports.Max)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// An invalid range must not be written
	err = setConfigValue(path, "ports.min", "5000")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrConfigValidation))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.Error(t, setConfigValue(path, "ports.bogus", "1"))
	assert.Error(t, setConfigValue(path, "toplevel", "1"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 1, ExitCode(assert.AnError))
	assert.Equal(t, 2, ExitCode(errors.NotFound("worktree", "x")))
	assert.Equal(t, 3, ExitCode(errors.InvalidInput("status", "bad")))
}
