package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orchestra/internal/constants"
	"orchestra/internal/errors"
	"orchestra/internal/xdg"

	"github.com/pelletier/go-toml/v2"
)

// Unknown placeholder policies for template resolution
const (
	UnknownPlaceholderKeep  = "keep"
	UnknownPlaceholderEmpty = "empty"
)

// Duration is a time.Duration that reads and writes as "5m" style text in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GlobalConfig represents the orchestra configuration file
type GlobalConfig struct {
	Server    ServerConfig    `toml:"server"`
	Ports     PortsConfig     `toml:"ports"`
	Worktrees WorktreesConfig `toml:"worktrees"`
	Context   ContextConfig   `toml:"context"`
	GitHub    GitHubConfig    `toml:"github"`
	Database  DatabaseConfig  `toml:"database"`
	Events    EventsConfig    `toml:"events"`
	Actions   ActionsConfig   `toml:"actions"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// PortsConfig is the closed range ports are allocated from
type PortsConfig struct {
	Min int `toml:"min"`
	Max int `toml:"max"`
}

type WorktreesConfig struct {
	Repository        string   `toml:"repository"` // Source repository checkouts are created from
	Directory         string   `toml:"directory"`  // Parent directory for checkouts
	ReconcileInterval Duration `toml:"reconcile_interval"`
	CreatingGrace     Duration `toml:"creating_grace"`
}

type ContextConfig struct {
	CacheTTL            Duration `toml:"cache_ttl"`
	CacheSize           int      `toml:"cache_size"`
	UnknownPlaceholders string   `toml:"unknown_placeholders"` // "keep" or "empty"
}

type GitHubConfig struct {
	APIURL   string `toml:"api_url"`
	TokenEnv string `toml:"token_env"` // Environment variable holding the token
	Retries  int    `toml:"retries"`
}

// Token resolves the API token from the configured environment variable.
func (g GitHubConfig) Token() string {
	if g.TokenEnv == "" {
		return ""
	}
	return os.Getenv(g.TokenEnv)
}

type DatabaseConfig struct {
	Path string `toml:"path"` // Empty means the XDG data directory
}

type EventsConfig struct {
	Buffer       int    `toml:"buffer"`
	RedisURL     string `toml:"redis_url"` // Empty keeps events in-process
	StreamPrefix string `toml:"stream_prefix"`
}

type ActionsConfig struct {
	TestCommand     string   `toml:"test_command"`
	AllowedCommands []string `toml:"allowed_commands"`
	WebhookURL      string   `toml:"webhook_url"`
	CommandTimeout  Duration `toml:"command_timeout"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// DefaultGlobalConfig returns the default configuration
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Server: ServerConfig{
			Host: "localhost",
			Port: constants.DefaultServerPort,
		},
		Ports: PortsConfig{
			Min: constants.DefaultPortRangeMin,
			Max: constants.DefaultPortRangeMax,
		},
		Worktrees: WorktreesConfig{
			Repository:        ".",
			Directory:         "~/orchestra/worktrees",
			ReconcileInterval: Duration(constants.DefaultReconcileInterval),
			CreatingGrace:     Duration(constants.DefaultCreatingGrace),
		},
		Context: ContextConfig{
			CacheTTL:            Duration(constants.DefaultContextCacheTTL),
			CacheSize:           constants.DefaultContextCacheSize,
			UnknownPlaceholders: UnknownPlaceholderKeep,
		},
		GitHub: GitHubConfig{
			APIURL:   "https://api.github.com",
			TokenEnv: "GITHUB_TOKEN",
			Retries:  constants.DefaultFetchRetries,
		},
		Events: EventsConfig{
			Buffer:       constants.DefaultEventBuffer,
			StreamPrefix: "orchestra",
		},
		Actions: ActionsConfig{
			TestCommand:     "go test ./...",
			AllowedCommands: []string{"go", "make", "npm", "yarn", "pnpm", "pytest", "cargo"},
			CommandTimeout:  Duration(constants.DefaultCommandTimeout),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetConfigDir returns the XDG config directory for orchestra
func GetConfigDir() (string, error) {
	return xdg.ConfigDir()
}

// DefaultConfigPath returns the config.toml location inside the XDG config directory
func DefaultConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// LoadGlobalConfig loads the configuration at path, or the XDG default when path is empty.
// A missing file yields the defaults.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	config := DefaultGlobalConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, errors.ConfigParseError(err)
	default:
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, errors.ConfigParseError(err)
		}
	}

	applyDefaults(config)

	if err := expandPaths(config); err != nil {
		return nil, err
	}
	if err := ValidateGlobalConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to the specified path
func (g *GlobalConfig) Save(path string) error {
	data, err := toml.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return WriteRaw(path, data)
}

// WriteRaw writes already-encoded TOML to path, creating its directory
func WriteRaw(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), constants.DirPermissions); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return os.WriteFile(path, data, constants.FilePermissions)
}

// ValidateGlobalConfig validates the configuration
func ValidateGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return errors.ConfigValidationError("config", "cannot be nil")
	}

	if config.Server.Port < constants.MinPortNumber || config.Server.Port > constants.MaxPortNumber {
		return errors.ConfigValidationError("server.port", fmt.Sprintf("invalid port %d", config.Server.Port))
	}
	if config.Ports.Min < constants.MinPortNumber || config.Ports.Max > constants.MaxPortNumber {
		return errors.ConfigValidationError("ports", fmt.Sprintf("range %d-%d outside 1-65535", config.Ports.Min, config.Ports.Max))
	}
	if config.Ports.Min > config.Ports.Max {
		return errors.ConfigValidationError("ports", fmt.Sprintf("min %d is greater than max %d", config.Ports.Min, config.Ports.Max))
	}
	if config.Worktrees.Directory == "" {
		return errors.ConfigValidationError("worktrees.directory", "cannot be empty")
	}
	switch config.Context.UnknownPlaceholders {
	case UnknownPlaceholderKeep, UnknownPlaceholderEmpty:
	default:
		return errors.ConfigValidationError("context.unknown_placeholders",
			fmt.Sprintf("must be %q or %q", UnknownPlaceholderKeep, UnknownPlaceholderEmpty))
	}
	if config.Context.CacheTTL < 0 {
		return errors.ConfigValidationError("context.cache_ttl", "cannot be negative")
	}
	return nil
}

// applyDefaults fills zero values left by a partial config file
func applyDefaults(config *GlobalConfig) {
	defaults := DefaultGlobalConfig()
	if config.Server.Host == "" {
		config.Server.Host = defaults.Server.Host
	}
	if config.Server.Port == 0 {
		config.Server.Port = defaults.Server.Port
	}
	if config.Ports.Min == 0 && config.Ports.Max == 0 {
		config.Ports = defaults.Ports
	}
	if config.Worktrees.Repository == "" {
		config.Worktrees.Repository = defaults.Worktrees.Repository
	}
	if config.Worktrees.Directory == "" {
		config.Worktrees.Directory = defaults.Worktrees.Directory
	}
	if config.Worktrees.ReconcileInterval == 0 {
		config.Worktrees.ReconcileInterval = defaults.Worktrees.ReconcileInterval
	}
	if config.Worktrees.CreatingGrace == 0 {
		config.Worktrees.CreatingGrace = defaults.Worktrees.CreatingGrace
	}
	if config.Context.CacheTTL == 0 {
		config.Context.CacheTTL = defaults.Context.CacheTTL
	}
	if config.Context.CacheSize == 0 {
		config.Context.CacheSize = defaults.Context.CacheSize
	}
	if config.Context.UnknownPlaceholders == "" {
		config.Context.UnknownPlaceholders = defaults.Context.UnknownPlaceholders
	}
	if config.GitHub.APIURL == "" {
		config.GitHub.APIURL = defaults.GitHub.APIURL
	}
	if config.GitHub.Retries == 0 {
		config.GitHub.Retries = defaults.GitHub.Retries
	}
	if config.Events.Buffer == 0 {
		config.Events.Buffer = defaults.Events.Buffer
	}
	if config.Events.StreamPrefix == "" {
		config.Events.StreamPrefix = defaults.Events.StreamPrefix
	}
	if config.Actions.TestCommand == "" {
		config.Actions.TestCommand = defaults.Actions.TestCommand
	}
	if len(config.Actions.AllowedCommands) == 0 {
		config.Actions.AllowedCommands = defaults.Actions.AllowedCommands
	}
	if config.Actions.CommandTimeout == 0 {
		config.Actions.CommandTimeout = defaults.Actions.CommandTimeout
	}
	if config.Log.Level == "" {
		config.Log.Level = defaults.Log.Level
	}
}

// expandPaths expands tilde paths and resolves the database location
func expandPaths(config *GlobalConfig) error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	expand := func(p string) string {
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(homeDir, p[2:])
		}
		return p
	}

	config.Worktrees.Repository = expand(config.Worktrees.Repository)
	config.Worktrees.Directory = expand(config.Worktrees.Directory)
	config.Database.Path = expand(config.Database.Path)

	if config.Database.Path == "" {
		dataDir, err := xdg.DataDir()
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}
		config.Database.Path = filepath.Join(dataDir, "orchestra.db")
	}
	return nil
}
