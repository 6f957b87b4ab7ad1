package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zhubert/plural-chat/paths"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// PLURAL_CHAT_CLAUDE_TIMEOUT=10m.
const EnvPrefix = "PLURAL_CHAT"

// Defaults
const (
	DefaultExecutable     = "claude"
	DefaultTimeout        = 300 * time.Second
	DefaultKillGrace      = 5 * time.Second
	DefaultStatusInterval = 3 * time.Second
	DefaultNamespace      = "plural-chat"
	minStatusInterval     = 500 * time.Millisecond
)

// PermissionModes lists the values accepted by the CLI's --permission-mode flag.
var PermissionModes = []string{"default", "acceptEdits", "bypassPermissions", "plan", "dontAsk"}

// Config holds the bridge configuration. A loaded Config is treated as
// immutable; reloads produce a new value.
type Config struct {
	Workspace    string        `mapstructure:"workspace"`
	AllowedUsers []string      `mapstructure:"allowed_users"` // Empty means everyone may talk to the bridge
	HooksFile    string        `mapstructure:"hooks_file"`
	Debug        bool          `mapstructure:"debug"`
	Session      SessionConfig `mapstructure:"session"`
	Status       StatusConfig  `mapstructure:"status"`
	Claude       ClaudeConfig  `mapstructure:"claude"`

	filePath string
}

// SessionConfig controls session id derivation.
type SessionConfig struct {
	Namespace string `mapstructure:"namespace"` // Salt for deterministic session ids
}

// StatusConfig controls the live activity message.
type StatusConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ClaudeConfig describes how the CLI subprocess is invoked.
type ClaudeConfig struct {
	Path                 string        `mapstructure:"path"`
	Model                string        `mapstructure:"model"`
	PermissionMode       string        `mapstructure:"permission_mode"`
	SystemPrompt         string        `mapstructure:"system_prompt"`
	AllowedTools         []string      `mapstructure:"allowed_tools"`
	DisallowedTools      []string      `mapstructure:"disallowed_tools"`
	AddDirs              []string      `mapstructure:"add_dirs"`
	MCPConfig            []string      `mapstructure:"mcp_config"`
	StrictMCPConfig      bool          `mapstructure:"strict_mcp_config"`
	SettingSources       string        `mapstructure:"setting_sources"`
	DisableSlashCommands bool          `mapstructure:"disable_slash_commands"`
	Timeout              time.Duration `mapstructure:"timeout"`
	KillGrace            time.Duration `mapstructure:"kill_grace"`
	StreamLog            bool          `mapstructure:"stream_log"` // Write raw stream output to logs/stream-<session>.log
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace", "")
	v.SetDefault("allowed_users", []string{})
	v.SetDefault("hooks_file", "")
	v.SetDefault("debug", false)
	v.SetDefault("session.namespace", DefaultNamespace)
	v.SetDefault("status.interval", DefaultStatusInterval)
	v.SetDefault("claude.path", DefaultExecutable)
	v.SetDefault("claude.model", "")
	v.SetDefault("claude.permission_mode", "")
	v.SetDefault("claude.system_prompt", "")
	v.SetDefault("claude.allowed_tools", []string{})
	v.SetDefault("claude.disallowed_tools", []string{})
	v.SetDefault("claude.add_dirs", []string{})
	v.SetDefault("claude.mcp_config", []string{})
	v.SetDefault("claude.strict_mcp_config", false)
	v.SetDefault("claude.setting_sources", "")
	v.SetDefault("claude.disable_slash_commands", false)
	v.SetDefault("claude.timeout", DefaultTimeout)
	v.SetDefault("claude.kill_grace", DefaultKillGrace)
	v.SetDefault("claude.stream_log", false)
}

// Load reads the config file at path. An empty path means config.yaml in the
// config directory. A missing file is not an error: defaults and environment
// overrides still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		p, err := paths.ConfigFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.filePath = path

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills in derived values: an absolute workspace (defaulting to
// the current directory) and a hooks file path.
func (c *Config) normalize() error {
	if c.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.Workspace = wd
	}
	ws, err := filepath.Abs(c.Workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace %s: %w", c.Workspace, err)
	}
	c.Workspace = ws

	if c.HooksFile == "" {
		if p, err := paths.HooksFilePath(); err == nil {
			c.HooksFile = p
		}
	}

	c.Claude.AddDirs = dedupeDirs(c.Workspace, c.Claude.AddDirs)
	return nil
}

// Validate checks for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Claude.Path) == "" {
		return errors.New("claude.path must not be empty")
	}
	if c.Claude.Timeout <= 0 {
		return fmt.Errorf("claude.timeout must be positive, got %s", c.Claude.Timeout)
	}
	if c.Claude.KillGrace < 0 {
		return fmt.Errorf("claude.kill_grace must not be negative, got %s", c.Claude.KillGrace)
	}
	if c.Status.Interval < minStatusInterval {
		return fmt.Errorf("status.interval must be at least %s, got %s", minStatusInterval, c.Status.Interval)
	}
	if c.Claude.PermissionMode != "" && !contains(PermissionModes, c.Claude.PermissionMode) {
		return fmt.Errorf("claude.permission_mode %q is not one of %s",
			c.Claude.PermissionMode, strings.Join(PermissionModes, ", "))
	}

	info, err := os.Stat(c.Workspace)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", c.Workspace, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace %s is not a directory", c.Workspace)
	}
	return nil
}

// SetWorkspace replaces the workspace, typically from a command-line flag,
// and re-validates the result.
func (c *Config) SetWorkspace(dir string) error {
	c.Workspace = dir
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

// Path returns the config file path this Config was loaded from.
func (c *Config) Path() string {
	return c.filePath
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
