// Package runconfig loads and schema-validates ralph.yml: the declarative
// project configuration covering task source, gates, agents, services,
// test paths, and limits. It layers environment variables over project
// config over XDG user config (see Load for the full order), the same
// precedence the teacher codebase uses for its own settings.
package runconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ralph-orchestrator/ralph/pkg/ralphmodel"
)

// Config is the fully parsed, schema-validated ralph.yml.
type Config struct {
	TaskSource string                                      `mapstructure:"task_source" yaml:"task_source"`
	Gates      GatesConfig                                  `mapstructure:"gates" yaml:"gates"`
	Agents     map[string]ralphmodel.AgentRoleConfig        `mapstructure:"agents" yaml:"agents"`
	Backend    *ralphmodel.ServiceConfig                    `mapstructure:"backend" yaml:"backend,omitempty"`
	Frontend   *ralphmodel.ServiceConfig                    `mapstructure:"frontend" yaml:"frontend,omitempty"`
	TestPaths  []string                                     `mapstructure:"test_paths" yaml:"test_paths"`
	Limits     LimitsConfig                                 `mapstructure:"limits" yaml:"limits"`
	UI         UIConfig                                     `mapstructure:"ui" yaml:"ui,omitempty"`
	Anthropic  AnthropicConfig                              `mapstructure:"anthropic" yaml:"anthropic,omitempty"`
}

// GatesConfig holds the two ordered gate lists: build-only and full.
type GatesConfig struct {
	Build []ralphmodel.GateConfig `mapstructure:"build" yaml:"build,omitempty"`
	Full  []ralphmodel.GateConfig `mapstructure:"full" yaml:"full,omitempty"`
}

// Get returns the ordered gate list for the requested gate type.
func (g GatesConfig) Get(t ralphmodel.GateType) []ralphmodel.GateConfig {
	switch t {
	case ralphmodel.GateTypeBuild:
		return g.Build
	case ralphmodel.GateTypeFull:
		return g.Full
	default:
		return nil
	}
}

// LimitsConfig is ralph.yml's `limits` block.
type LimitsConfig struct {
	AgentTimeout  time.Duration `mapstructure:"agent_timeout" yaml:"agent_timeout"`
	FixIterations int           `mapstructure:"fix_iterations" yaml:"fix_iterations"`
	MaxIterations int           `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// UIConfig describes enabled UI/Robot test harnesses. The core treats
// each as an opaque, gate-like subprocess suite; this struct only
// carries the handful of fields the verify driver needs to invoke them.
type UIConfig struct {
	Suites []UISuite `mapstructure:"suites" yaml:"suites,omitempty"`
}

// UISuite is one configured UI test suite.
type UISuite struct {
	Name    string `mapstructure:"name" yaml:"name"`
	Cmd     string `mapstructure:"cmd" yaml:"cmd"`
	Kind    string `mapstructure:"kind" yaml:"kind"` // "ui" or "robot" — selects ui-plan/robot-plan signal names
	Timeout int    `mapstructure:"timeout" yaml:"timeout"`
}

// AnthropicConfig holds the API key used by the direct-API agent backend.
type AnthropicConfig struct {
	APIKey        string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock" yaml:"use_aws_bedrock,omitempty"`
	AWSRegion     string `mapstructure:"aws_region" yaml:"aws_region,omitempty"`
	AWSProfile    string `mapstructure:"aws_profile" yaml:"aws_profile,omitempty"`
}

// Load loads configuration from XDG paths, the project's ralph.yml, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (RALPH_*, ANTHROPIC_API_KEY)
//  2. Project config (ralph.yml in the current directory or a parent)
//  3. User config ($XDG_CONFIG_HOME/ralph/config.yml)
//  4. Built-in defaults
//
// The project file, once located, is additionally decoded in strict
// mode with gopkg.in/yaml.v3 so that unrecognized top-level keys are a
// hard configuration error — schema validation viper's merge-based
// loading cannot express on its own.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfigPath := findProjectConfig()
	if projectConfigPath != "" {
		if err := validateStrictSchema(projectConfigPath); err != nil {
			return nil, fmt.Errorf("%s: %w", projectConfigPath, err)
		}

		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfigPath)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config: %w", err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	v.SetEnvPrefix("RALPH")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific ralph.yml path,
// bypassing XDG/project discovery. Used by tests and by
// internal/watchconfig to revalidate an edited ralph.yml.
func LoadFromPath(path string) (*Config, error) {
	if err := validateStrictSchema(path); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// knownTopLevelKeys mirrors the published ralph.yml schema.
var knownTopLevelKeys = map[string]bool{
	"task_source": true, "gates": true, "agents": true, "backend": true,
	"frontend": true, "test_paths": true, "limits": true, "ui": true,
	"anthropic": true,
}

// validateStrictSchema decodes the raw YAML with strict unknown-field
// rejection at the top level, surfacing typos in ralph.yml as a
// configuration error instead of a silently-ignored key.
func validateStrictSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}

	var raw map[string]interface{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}

	for key := range raw {
		if !knownTopLevelKeys[key] {
			return fmt.Errorf("unknown top-level key %q", key)
		}
	}
	return nil
}

// Validate enforces the handful of schema requirements treated as
// invariants rather than defaults: a task source must be named, and
// limits must be positive.
func Validate(cfg *Config) error {
	if cfg.TaskSource == "" {
		return fmt.Errorf("task_source is required")
	}
	if cfg.Limits.MaxIterations <= 0 {
		return fmt.Errorf("limits.max_iterations must be positive")
	}
	if cfg.Limits.FixIterations < 0 {
		return fmt.Errorf("limits.fix_iterations must not be negative")
	}
	return nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yml")
	v := viper.New()
	v.SetConfigFile(configPath)
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("limits.agent_timeout", cfg.Limits.AgentTimeout.String())
	v.Set("limits.fix_iterations", cfg.Limits.FixIterations)
	v.Set("limits.max_iterations", cfg.Limits.MaxIterations)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yml")
}

// GetProjectConfigPath returns the path to the project ralph.yml if present.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("limits.agent_timeout", "15m")
	v.SetDefault("limits.fix_iterations", 3)
	v.SetDefault("limits.max_iterations", 5)
}

func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ralph")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ralph")
	}
	return filepath.Join(home, ".config", "ralph")
}

// findProjectConfig searches for ralph.yml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, "ralph.yml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with sensible built-in defaults.
func Default() *Config {
	return &Config{
		TaskSource: "prd.json",
		TestPaths:  []string{"tests/**", "**/*_test.go"},
		Limits: LimitsConfig{
			AgentTimeout:  15 * time.Minute,
			FixIterations: 3,
			MaxIterations: 5,
		},
		Agents: map[string]ralphmodel.AgentRoleConfig{
			string(ralphmodel.RoleImplementation): {Model: "sonnet", Timeout: 15 * time.Minute},
			string(ralphmodel.RoleTestWriting):     {Model: "sonnet", Timeout: 15 * time.Minute},
			string(ralphmodel.RoleReview):          {Model: "sonnet", Timeout: 10 * time.Minute},
			string(ralphmodel.RoleFix):             {Model: "sonnet", Timeout: 15 * time.Minute},
			string(ralphmodel.RolePlanning):        {Model: "sonnet", Timeout: 10 * time.Minute},
		},
	}
}
