// Package main implements the wright CLI, a terminal coding agent.
// The root command starts an interactive REPL; -P runs a single prompt
// and exits. Subcommands manage configuration and saved sessions.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"codewright/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

var (
	// Global flags
	verbose      bool
	quiet        bool
	workspace    string
	providerKind string
	apiKey       string
	model        string
	baseURL      string

	// Root-only flags
	oneShotPrompt string
	outputFormat  string
	noTools       bool
	autoYes       bool
	sessionID     string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "wright",
	Short: "wright - a coding agent for your terminal",
	Long: `wright is a terminal coding agent. It pairs an LLM with workspace
tools: reading and editing files, searching, and running shell commands.
The model proposes tool calls, wright executes them, and destructive
operations stop for confirmation first.

Run without arguments to start the interactive REPL. Use -P to run a
single prompt non-interactively:

  wright -P "explain cmd/wright/main.go"
  wright -P "summarize the failing tests" --output-format json`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip logger init for interactive mode (it has its own UI)
		if cmd.Use == "wright" && oneShotPrompt == "" {
			return nil
		}

		zapCfg := zap.NewProductionConfig()
		switch {
		case verbose:
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		case quiet:
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
		default:
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if oneShotPrompt != "" {
			return runOneShot()
		}
		return runREPL()
	},
}

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the wright version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wright %s\n", version)
	},
}

// initCmd initializes wright in the current workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize wright in the current workspace",
	Long: `Creates the .wright/ directory with a default config.yaml and an
empty tools/ directory for script tools.

Run this once per project. Without it wright still works, using the
built-in defaults and environment variables for provider credentials.`,
	RunE: runInit,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&providerKind, "provider", "", "Provider backend: anthropic, openai, gemini, or ollama")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Provider API key (or set ANTHROPIC_API_KEY etc.)")
	rootCmd.PersistentFlags().StringVar(&model, "model", "", "Model identifier (default: provider default)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Provider base URL override")

	// Chat flags
	rootCmd.Flags().StringVarP(&oneShotPrompt, "prompt", "P", "", "Run a single prompt and exit")
	rootCmd.Flags().StringVar(&outputFormat, "output-format", "text", "One-shot output format: text or json")
	rootCmd.Flags().BoolVar(&noTools, "no-tools", false, "Disable tool use entirely")
	rootCmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "Auto-approve destructive tool calls")
	rootCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume or create the named session")

	// Add commands to root
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runInit bootstraps the .wright/ directory for a workspace.
func runInit(cmd *cobra.Command, args []string) error {
	ws := resolveWorkspace()
	cfgPath := config.WorkspacePath(ws)

	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Workspace already initialized (%s exists).\n", cfgPath)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(cfgPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	scriptDir := resolveUnder(ws, cfg.Tools.ScriptDir)
	if err := os.MkdirAll(scriptDir, 0755); err != nil {
		return fmt.Errorf("failed to create script directory: %w", err)
	}

	fmt.Println("Initialized wright workspace:")
	fmt.Printf("  %s\n", cfgPath)
	fmt.Printf("  %s%c\n", scriptDir, filepath.Separator)
	fmt.Println()
	fmt.Println("Edit config.yaml to pick a provider, or set ANTHROPIC_API_KEY,")
	fmt.Println("OPENAI_API_KEY, or GEMINI_API_KEY and let wright detect one.")
	return nil
}
