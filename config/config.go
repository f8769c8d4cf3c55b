// Package config loads run configuration from YAML with environment
// overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thomcost/sweagent/agent"
)

// Duration wraps time.Duration so YAML can carry values like "90s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a duration string or a number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration: %s", node.Value)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full runner configuration.
type Config struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKey is normally left empty in the file and taken from the
	// environment.
	APIKey string `yaml:"api_key"`

	MaxTurns         int      `yaml:"max_turns"`
	MaxFormatRetries int      `yaml:"max_format_retries"`
	ModelTimeout     Duration `yaml:"model_timeout"`
	ExecTimeout      Duration `yaml:"exec_timeout"`

	ContextTokens int `yaml:"context_tokens"`
	KeepRecent    int `yaml:"keep_recent"`

	TokenCeiling       int     `yaml:"token_ceiling"`
	CostCeiling        float64 `yaml:"cost_ceiling"`
	GlobalTokenCeiling int     `yaml:"global_token_ceiling"`
	GlobalCostCeiling  float64 `yaml:"global_cost_ceiling"`

	Concurrency   int    `yaml:"concurrency"`
	TrajectoryDir string `yaml:"trajectory_dir"`
	StorePath     string `yaml:"store_path"`
	SandboxDir    string `yaml:"sandbox_dir"`

	Costs agent.CostTable `yaml:"costs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider:         "anthropic",
		Model:            "claude-sonnet-4-20250514",
		MaxTurns:         50,
		MaxFormatRetries: 3,
		ModelTimeout:     Duration(2 * time.Minute),
		ExecTimeout:      Duration(5 * time.Minute),
		ContextTokens:    128000,
		KeepRecent:       6,
		Concurrency:      4,
		TrajectoryDir:    "trajectories",
		StorePath:        "runs.db",
		Costs: agent.CostTable{
			"claude-sonnet-4-20250514": {InputUSD: 3.0, OutputUSD: 15.0},
			"claude-opus-4-20250514":   {InputUSD: 15.0, OutputUSD: 75.0},
			"gpt-4o":                   {InputUSD: 2.5, OutputUSD: 10.0},
			"gpt-4o-mini":              {InputUSD: 0.15, OutputUSD: 0.6},
		},
	}
}

// Load reads path (when non-empty) over the defaults, then applies
// environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv pulls credentials from the environment. Keys never come from the
// file in normal use.
func (c *Config) applyEnv() {
	if c.APIKey != "" {
		return
	}
	switch c.Provider {
	case "anthropic":
		c.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("SWEAGENT_API_KEY")
	}
}

// Validate checks the configuration is runnable.
func (c Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTurns <= 0 {
		return fmt.Errorf("max_turns must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	return nil
}
