// Package config loads and saves codewright configuration. Settings come
// from a YAML file layered over built-in defaults, with environment
// variables applied last. A missing file is not an error; the defaults are
// the product.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file name inside a state directory.
const FileName = "config.yaml"

// StateDir is the per-workspace state directory.
const StateDir = ".wright"

// Config holds all codewright configuration.
type Config struct {
	// Provider selects and configures the model backend.
	Provider ProviderConfig `yaml:"provider"`

	// Agent bounds the orchestration loop.
	Agent AgentConfig `yaml:"agent"`

	// Context controls the token budget.
	Context ContextConfig `yaml:"context"`

	// Safety controls the confirmation gate.
	Safety SafetyConfig `yaml:"safety"`

	// Tools configures the tool surface.
	Tools ToolsConfig `yaml:"tools"`

	// Store configures session persistence.
	Store StoreConfig `yaml:"store"`

	// Logging configures the category file logger.
	Logging LoggingConfig `yaml:"logging"`
}

// ProviderConfig configures the LLM backend.
type ProviderConfig struct {
	// Kind is anthropic, openai, gemini, or ollama. Empty means detect
	// from which API key is available.
	Kind    string `yaml:"kind"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	// MaxTokens caps the response size per model call.
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   string `yaml:"timeout"`
}

// AgentConfig bounds one turn of the orchestration loop.
type AgentConfig struct {
	MaxIterations        int    `yaml:"max_iterations"`
	MaxConsecutiveErrors int    `yaml:"max_consecutive_errors"`
	MaxTurnDuration      string `yaml:"max_turn_duration"`
	SystemPrompt         string `yaml:"system_prompt"`
}

// ContextConfig controls compaction and truncation.
type ContextConfig struct {
	MaxContextTokens      int `yaml:"max_context_tokens"`
	KeepRecentMessages    int `yaml:"keep_recent_messages"`
	KeepRecentToolResults int `yaml:"keep_recent_tool_results"`
	MaxToolResultSize     int `yaml:"max_tool_result_size"`
	// Estimator is heuristic or tiktoken.
	Estimator string `yaml:"estimator"`
}

// SafetyConfig controls the destructive-tool confirmation gate.
type SafetyConfig struct {
	// AutoApproveAll runs every destructive call without asking.
	AutoApproveAll bool `yaml:"auto_approve_all"`

	// AutoApprove lists tools that run without asking.
	AutoApprove []string `yaml:"auto_approve"`

	// DangerousPatterns are extra regexes flagged during confirmation.
	DangerousPatterns []string `yaml:"dangerous_patterns"`
}

// ToolsConfig configures the tool registry and builtins.
type ToolsConfig struct {
	// Enabled turns the whole tool surface on or off.
	Enabled bool `yaml:"enabled"`

	// FallbackEnabled turns fuzzy tool-name recovery on or off.
	FallbackEnabled bool `yaml:"fallback_enabled"`

	// ExtractToolCalls parses calls out of plain text for backends
	// without native tool use.
	ExtractToolCalls bool `yaml:"extract_tool_calls"`

	// ScriptDir holds user script tools, relative to the workspace.
	ScriptDir string `yaml:"script_dir"`

	BashTimeout string `yaml:"bash_timeout"`

	Matcher MatcherConfig `yaml:"matcher"`
}

// MatcherConfig tunes the fallback matcher thresholds. Zero values mean
// the registry defaults.
type MatcherConfig struct {
	AutoCorrectThreshold float64 `yaml:"auto_correct_threshold"`
	SuggestionThreshold  float64 `yaml:"suggestion_threshold"`
	TieMargin            float64 `yaml:"tie_margin"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	// DatabasePath is the sqlite file, relative to the workspace when not
	// absolute. Empty disables persistence.
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	// Debug enables file logging under .wright/logs.
	Debug bool `yaml:"debug"`

	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Categories filters which categories log. Empty means all.
	Categories []string `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			MaxTokens: 8192,
			Timeout:   "120s",
		},

		Agent: AgentConfig{
			MaxIterations:        50,
			MaxConsecutiveErrors: 3,
			MaxTurnDuration:      "30m",
		},

		Context: ContextConfig{
			MaxContextTokens:      100000,
			KeepRecentMessages:    10,
			KeepRecentToolResults: 3,
			MaxToolResultSize:     30000,
			Estimator:             "heuristic",
		},

		Safety: SafetyConfig{},

		Tools: ToolsConfig{
			Enabled:          true,
			FallbackEnabled:  true,
			ExtractToolCalls: true,
			ScriptDir:        filepath.Join(StateDir, "tools"),
			BashTimeout:      "120s",
		},

		Store: StoreConfig{
			DatabasePath: filepath.Join(StateDir, "sessions.db"),
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file returns the
// defaults; everything else layers the file over them. Environment
// variables are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating the directory.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// WorkspacePath is the workspace-local config file.
func WorkspacePath(workspace string) string {
	return filepath.Join(workspace, StateDir, FileName)
}

// GlobalPath is the per-user config file, empty when the home directory
// cannot be determined.
func GlobalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, StateDir, FileName)
}

// ResolvePath picks the config file to load: the workspace-local file when
// it exists, then the global one, then the workspace-local path as the
// place a new file would go.
func ResolvePath(workspace string) string {
	local := WorkspacePath(workspace)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if global := GlobalPath(); global != "" {
		if _, err := os.Stat(global); err == nil {
			return global
		}
	}
	return local
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if kind := os.Getenv("WRIGHT_PROVIDER"); kind != "" {
		c.Provider.Kind = kind
	}
	if model := os.Getenv("WRIGHT_MODEL"); model != "" {
		c.Provider.Model = model
	}
	if url := os.Getenv("WRIGHT_BASE_URL"); url != "" {
		c.Provider.BaseURL = url
	}

	// API keys in priority order. The first present key wins; it also
	// picks the provider when the config names none. A key for a
	// different backend than the configured one is ignored.
	candidates := []struct{ env, kind string }{
		{"ANTHROPIC_API_KEY", "anthropic"},
		{"OPENAI_API_KEY", "openai"},
		{"GEMINI_API_KEY", "gemini"},
	}
	for _, cand := range candidates {
		key := os.Getenv(cand.env)
		if key == "" {
			continue
		}
		if c.Provider.Kind == "" || c.Provider.Kind == cand.kind {
			c.Provider.APIKey = key
			if c.Provider.Kind == "" {
				c.Provider.Kind = cand.kind
			}
			break
		}
	}
}

// GetProviderTimeout returns the model-call timeout as a duration.
func (c *Config) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Provider.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetMaxTurnDuration returns the per-turn wall-clock ceiling as a
// duration. Zero disables the ceiling.
func (c *Config) GetMaxTurnDuration() time.Duration {
	if c.Agent.MaxTurnDuration == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Agent.MaxTurnDuration)
	if err != nil {
		return 30 * time.Minute
	}
	return d
}

// GetBashTimeout returns the bash tool timeout as a duration.
func (c *Config) GetBashTimeout() time.Duration {
	d, err := time.ParseDuration(c.Tools.BashTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}
