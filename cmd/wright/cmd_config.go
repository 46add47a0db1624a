// This file implements the config subcommands: show, init, and example.
package main

import (
	"fmt"
	"os"

	"codewright/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd manages the configuration file
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage wright configuration",
	Long: `Inspect and manage the configuration file.

wright reads .wright/config.yaml from the workspace, falling back to
$HOME/.wright/config.yaml, falling back to built-in defaults. Environment
variables supply provider credentials either way.

Subcommands:
  show     - Print the effective configuration
  init     - Write a default config.yaml to the workspace
  example  - Print a fully commented example configuration`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config.yaml to the workspace",
	RunE:  runConfigInit,
}

var configExampleCmd = &cobra.Command{
	Use:   "example",
	Short: "Print a fully commented example configuration",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(exampleConfig)
	},
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	path := config.ResolvePath(ws)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg)

	// Never print credentials.
	if cfg.Provider.APIKey != "" {
		cfg.Provider.APIKey = "(set)"
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("# %s\n", path)
	} else {
		fmt.Println("# built-in defaults (no config file found)")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	path := config.WorkspacePath(ws)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.DefaultConfig().Save(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

const exampleConfig = `# wright configuration. Place at .wright/config.yaml in the workspace,
# or at ~/.wright/config.yaml for user-wide defaults. Command-line flags
# override file values; environment variables fill empty credentials.

provider:
  # anthropic, openai, gemini, or ollama. Empty picks the first backend
  # with an API key in the environment, then falls back to ollama.
  kind: ""
  # Taken from ANTHROPIC_API_KEY / OPENAI_API_KEY / GEMINI_API_KEY when
  # empty. Prefer the environment over writing keys to disk.
  api_key: ""
  # Empty selects the backend's default model.
  model: ""
  # Override for proxies and self-hosted endpoints.
  base_url: ""
  # Reply size cap per model call.
  max_tokens: 8192
  # HTTP timeout per model call.
  timeout: 120s

agent:
  # Model round-trips allowed per turn.
  max_iterations: 50
  # Stop the turn after this many failed tool calls in a row.
  max_consecutive_errors: 3
  # Wall-clock ceiling per turn.
  max_turn_duration: 30m
  # Extra instructions prepended to every conversation.
  system_prompt: ""

context:
  # Compaction triggers when the conversation estimate crosses this.
  max_context_tokens: 100000
  # Recent messages kept verbatim through compaction.
  keep_recent_messages: 10
  # Recent tool results kept full-size; older ones are truncated.
  keep_recent_tool_results: 3
  # Truncation size for old tool results, in bytes.
  max_tool_result_size: 30000
  # heuristic (fast, approximate) or tiktoken (slower, accurate).
  estimator: heuristic

safety:
  # Run every destructive call without asking. The --yes flag sets this
  # for one invocation.
  auto_approve_all: false
  # Tools that never need confirmation.
  auto_approve: []
  # Extra regexes flagged as dangerous during confirmation, alongside
  # the built-in set.
  dangerous_patterns: []

tools:
  enabled: true
  # Fuzzy recovery for misspelled tool names from the model.
  fallback_enabled: true
  # Parse tool calls out of plain text for backends without native
  # tool use (ollama).
  extract_tool_calls: true
  # Script tools (.go files run by an embedded interpreter) are loaded
  # from here. Relative paths are anchored to the workspace.
  script_dir: .wright/tools
  # Default timeout for the bash tool; individual calls may override.
  bash_timeout: 120s
  matcher:
    # Similarity at or above this silently corrects the tool name.
    auto_correct_threshold: 0.70
    # Similarity at or above this suggests alternatives in the error.
    suggestion_threshold: 0.55
    # Two candidates closer than this are an ambiguous tie.
    tie_margin: 0.05

store:
  # SQLite file for saved sessions. Relative paths are anchored to the
  # workspace. Empty disables persistence.
  database_path: .wright/sessions.db

logging:
  # Write category log files under .wright/logs.
  debug: false
  # debug, info, warn, or error.
  level: info
  # Only these categories log when non-empty. Categories: boot, agent,
  # tools, provider, context, store, config.
  categories: []
`

func init() {
	configCmd.AddCommand(configShowCmd, configInitCmd, configExampleCmd)
}
