package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"codewright/internal/config"
	"codewright/internal/message"
)

func TestInitCmd(t *testing.T) {
	ws := t.TempDir()
	workspace = ws
	defer func() { workspace = "" }()

	cmd := &cobra.Command{}
	if err := runInit(cmd, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	if _, err := os.Stat(config.WorkspacePath(ws)); err != nil {
		t.Errorf("config file was not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, ".wright", "tools")); err != nil {
		t.Errorf("script directory was not created: %v", err)
	}

	// Running it again should notice the existing config and pass.
	if err := runInit(cmd, nil); err != nil {
		t.Errorf("runInit second run failed: %v", err)
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	providerKind = "openai"
	model = "gpt-4o"
	noTools = true
	autoYes = true
	defer func() {
		providerKind = ""
		model = ""
		noTools = false
		autoYes = false
	}()

	cfg := config.DefaultConfig()
	applyFlagOverrides(cfg)

	if cfg.Provider.Kind != "openai" {
		t.Errorf("provider kind = %q, want openai", cfg.Provider.Kind)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", cfg.Provider.Model)
	}
	if cfg.Tools.Enabled {
		t.Error("--no-tools did not disable tools")
	}
	if !cfg.Safety.AutoApproveAll {
		t.Error("--yes did not enable auto-approve")
	}
}

func TestAgentConfigMapping(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.MaxIterations = 7
	cfg.Safety.AutoApprove = []string{"read_file"}
	cfg.Safety.DangerousPatterns = []string{`rm\s+-rf`}

	ac := agentConfig(cfg)
	if ac.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7", ac.MaxIterations)
	}
	if ac.MaxTokens != 8192 {
		t.Errorf("MaxTokens = %d, want 8192", ac.MaxTokens)
	}
	if !ac.UseTools || !ac.ExtractToolCalls {
		t.Error("tool settings were not carried over")
	}
	if len(ac.AutoApproveTools) != 1 || ac.AutoApproveTools[0] != "read_file" {
		t.Errorf("AutoApproveTools = %v", ac.AutoApproveTools)
	}
	if len(ac.DangerousPatterns) != 1 {
		t.Errorf("DangerousPatterns = %v", ac.DangerousPatterns)
	}
}

func TestAgentConfigKeepsDefaultsForZeroValues(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.MaxIterations = 0
	cfg.Agent.MaxConsecutiveErrors = 0

	ac := agentConfig(cfg)
	if ac.MaxIterations != 50 {
		t.Errorf("MaxIterations = %d, want loop default 50", ac.MaxIterations)
	}
	if ac.MaxConsecutiveErrors != 3 {
		t.Errorf("MaxConsecutiveErrors = %d, want loop default 3", ac.MaxConsecutiveErrors)
	}
}

func TestMatcherConfigOverlay(t *testing.T) {
	cfg := config.DefaultConfig()
	mc := matcherConfig(cfg)
	if mc.AutoCorrectThreshold != 0.70 || mc.SuggestionThreshold != 0.55 {
		t.Errorf("unconfigured matcher should keep defaults, got %+v", mc)
	}

	cfg.Tools.Matcher.AutoCorrectThreshold = 0.9
	mc = matcherConfig(cfg)
	if mc.AutoCorrectThreshold != 0.9 {
		t.Errorf("AutoCorrectThreshold = %v, want 0.9", mc.AutoCorrectThreshold)
	}
	if mc.SuggestionThreshold != 0.55 {
		t.Errorf("unset threshold changed: %v", mc.SuggestionThreshold)
	}
}

func TestCategorySet(t *testing.T) {
	if categorySet(nil) != nil {
		t.Error("empty category list should map to nil (all categories)")
	}
	set := categorySet([]string{"agent", "tools"})
	if !set["agent"] || !set["tools"] || set["provider"] {
		t.Errorf("unexpected set: %v", set)
	}
}

func TestResolveUnder(t *testing.T) {
	if got := resolveUnder("/ws", ""); got != "" {
		t.Errorf("empty path should stay empty, got %q", got)
	}
	if got := resolveUnder("/ws", "/abs/dir"); got != "/abs/dir" {
		t.Errorf("absolute path should pass through, got %q", got)
	}
	want := filepath.Join("/ws", ".wright", "tools")
	if got := resolveUnder("/ws", filepath.Join(".wright", "tools")); got != want {
		t.Errorf("relative path = %q, want %q", got, want)
	}
}

func TestSessionTitle(t *testing.T) {
	msgs := []message.Message{
		message.NewText(message.RoleAssistant, "ignored"),
		message.NewUserText("  fix the login bug\nand add tests  "),
	}
	if got := sessionTitle(msgs); got != "fix the login bug" {
		t.Errorf("title = %q", got)
	}

	long := strings.Repeat("x", 70)
	got := sessionTitle([]message.Message{message.NewUserText(long)})
	if want := strings.Repeat("x", 59) + "…"; got != want {
		t.Errorf("long title = %q, want %q", got, want)
	}

	if got := sessionTitle(nil); got != "" {
		t.Errorf("no user message should give empty title, got %q", got)
	}
}
