package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"orchestra/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGlobalConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	t.Setenv("XDG_DATA_HOME", tmpDir)

	config, err := LoadGlobalConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 3001, config.Ports.Min)
	assert.Equal(t, 3999, config.Ports.Max)
	assert.Equal(t, 5*time.Minute, config.Context.CacheTTL.Std())
	assert.Equal(t, UnknownPlaceholderKeep, config.Context.UnknownPlaceholders)

	homeDir, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(homeDir, "orchestra", "worktrees"), config.Worktrees.Directory)
	assert.Equal(t, filepath.Join(tmpDir, "orchestra", "orchestra.db"), config.Database.Path)

	// Loading never creates the config directory
	_, err = os.Stat(filepath.Join(tmpDir, "orchestra", "config.toml"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadGlobalConfigPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[ports]
min = 4000
max = 4010

[context]
cache_ttl = "30s"
unknown_placeholders = "empty"

[database]
path = "/tmp/orchestra-test.db"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadGlobalConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4000, config.Ports.Min)
	assert.Equal(t, 4010, config.Ports.Max)
	assert.Equal(t, 30*time.Second, config.Context.CacheTTL.Std())
	assert.Equal(t, UnknownPlaceholderEmpty, config.Context.UnknownPlaceholders)
	assert.Equal(t, "/tmp/orchestra-test.db", config.Database.Path)
	// untouched sections keep their defaults
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 5*time.Minute, config.Worktrees.ReconcileInterval.Std())
}

func TestSaveAndReload(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	original := DefaultGlobalConfig()
	original.Server.Port = 9090
	original.Worktrees.ReconcileInterval = Duration(time.Minute)
	require.NoError(t, original.Save(path))

	loaded, err := LoadGlobalConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, loaded.Server.Port)
	assert.Equal(t, time.Minute, loaded.Worktrees.ReconcileInterval.Std())
}

func TestLoadGlobalConfigInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ports\nmin = "), 0644))

	_, err := LoadGlobalConfig(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrConfigParse))
}

func TestValidateGlobalConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*GlobalConfig)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			modify: func(c *GlobalConfig) {},
		},
		{
			name:    "inverted port range",
			modify:  func(c *GlobalConfig) { c.Ports.Min, c.Ports.Max = 4000, 3000 },
			wantErr: true,
		},
		{
			name:    "port range above 65535",
			modify:  func(c *GlobalConfig) { c.Ports.Max = 70000 },
			wantErr: true,
		},
		{
			name:    "server port out of range",
			modify:  func(c *GlobalConfig) { c.Server.Port = -1 },
			wantErr: true,
		},
		{
			name:    "unknown placeholder policy",
			modify:  func(c *GlobalConfig) { c.Context.UnknownPlaceholders = "drop" },
			wantErr: true,
		},
		{
			name:   "single port range",
			modify: func(c *GlobalConfig) { c.Ports.Min, c.Ports.Max = 3001, 3001 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultGlobalConfig()
			tt.modify(c)
			err := ValidateGlobalConfig(c)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrConfigValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGitHubToken(t *testing.T) {
	t.Setenv("ORCHESTRA_TEST_TOKEN", "secret")
	assert.Equal(t, "secret", GitHubConfig{TokenEnv: "ORCHESTRA_TEST_TOKEN"}.Token())
	assert.Empty(t, GitHubConfig{}.Token())
}
