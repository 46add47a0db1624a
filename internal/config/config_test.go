package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable the loader reads, so host environment
// does not leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
		"WRIGHT_PROVIDER", "WRIGHT_MODEL", "WRIGHT_BASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 50, cfg.Agent.MaxIterations)
	assert.Equal(t, 3, cfg.Agent.MaxConsecutiveErrors)
	assert.Equal(t, "30m", cfg.Agent.MaxTurnDuration)
	assert.Equal(t, 100000, cfg.Context.MaxContextTokens)
	assert.Equal(t, 10, cfg.Context.KeepRecentMessages)
	assert.Equal(t, "heuristic", cfg.Context.Estimator)
	assert.True(t, cfg.Tools.Enabled)
	assert.True(t, cfg.Tools.FallbackEnabled)
	assert.True(t, cfg.Tools.ExtractToolCalls)
	assert.Empty(t, cfg.Provider.Kind, "provider detection is the default")
	assert.False(t, cfg.Safety.AutoApproveAll)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("missing file should yield defaults (-want +got):\n%s", diff)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider:
  kind: anthropic
  model: claude-sonnet-4-20250514
agent:
  max_iterations: 25
safety:
  dangerous_patterns:
    - "curl.*\\|\\s*sh"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.Provider.Kind)
	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Provider.Model)
	assert.Equal(t, 25, cfg.Agent.MaxIterations)
	assert.Equal(t, []string{`curl.*\|\s*sh`}, cfg.Safety.DangerousPatterns)

	// Untouched sections keep their defaults through a partial file.
	assert.Equal(t, 3, cfg.Agent.MaxConsecutiveErrors)
	assert.Equal(t, 10, cfg.Context.KeepRecentMessages)
	assert.True(t, cfg.Tools.Enabled)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider: [broken\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_EnvOverrides(t *testing.T) {
	load := func(t *testing.T) *Config {
		t.Helper()
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		return cfg
	}

	t.Run("wright variables", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("WRIGHT_PROVIDER", "ollama")
		t.Setenv("WRIGHT_MODEL", "llama3.2")
		t.Setenv("WRIGHT_BASE_URL", "http://box:11434/v1")

		cfg := load(t)
		assert.Equal(t, "ollama", cfg.Provider.Kind)
		assert.Equal(t, "llama3.2", cfg.Provider.Model)
		assert.Equal(t, "http://box:11434/v1", cfg.Provider.BaseURL)
	})

	t.Run("anthropic key wins detection", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("OPENAI_API_KEY", "oai-key")

		cfg := load(t)
		assert.Equal(t, "anthropic", cfg.Provider.Kind)
		assert.Equal(t, "ant-key", cfg.Provider.APIKey)
	})

	t.Run("gemini key alone", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GEMINI_API_KEY", "gem-key")

		cfg := load(t)
		assert.Equal(t, "gemini", cfg.Provider.Kind)
		assert.Equal(t, "gem-key", cfg.Provider.APIKey)
	})

	t.Run("configured kind picks its own key", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("OPENAI_API_KEY", "oai-key")
		t.Setenv("WRIGHT_PROVIDER", "openai")

		cfg := load(t)
		assert.Equal(t, "openai", cfg.Provider.Kind)
		assert.Equal(t, "oai-key", cfg.Provider.APIKey)
	})

	t.Run("foreign key ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ANTHROPIC_API_KEY", "ant-key")
		t.Setenv("WRIGHT_PROVIDER", "ollama")

		cfg := load(t)
		assert.Equal(t, "ollama", cfg.Provider.Kind)
		assert.Empty(t, cfg.Provider.APIKey)
	})
}

func TestSave_RoundTrip(t *testing.T) {
	clearEnv(t)

	want := DefaultConfig()
	want.Provider.Kind = "anthropic"
	want.Provider.Model = "claude-sonnet-4-20250514"
	want.Agent.MaxIterations = 42
	want.Safety.AutoApprove = []string{"write_file"}
	want.Safety.DangerousPatterns = []string{`rm\s+-rf\s+/`}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, want.Save(path))

	got, err := Load(path)
	require.NoError(t, err)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvePath(t *testing.T) {
	t.Run("workspace file wins", func(t *testing.T) {
		workspace := t.TempDir()
		local := WorkspacePath(workspace)
		require.NoError(t, os.MkdirAll(filepath.Dir(local), 0o755))
		require.NoError(t, os.WriteFile(local, []byte("{}\n"), 0o644))

		assert.Equal(t, local, ResolvePath(workspace))
	})

	t.Run("global file as fallback", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		global := filepath.Join(home, StateDir, FileName)
		require.NoError(t, os.MkdirAll(filepath.Dir(global), 0o755))
		require.NoError(t, os.WriteFile(global, []byte("{}\n"), 0o644))

		workspace := t.TempDir()
		assert.Equal(t, global, ResolvePath(workspace))
	})

	t.Run("nothing exists", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		workspace := t.TempDir()

		assert.Equal(t, WorkspacePath(workspace), ResolvePath(workspace))
	})
}

func TestDurationGetters(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120*time.Second, cfg.GetProviderTimeout())
	assert.Equal(t, 30*time.Minute, cfg.GetMaxTurnDuration())
	assert.Equal(t, 120*time.Second, cfg.GetBashTimeout())

	cfg.Provider.Timeout = "45s"
	assert.Equal(t, 45*time.Second, cfg.GetProviderTimeout())

	cfg.Agent.MaxTurnDuration = ""
	assert.Equal(t, time.Duration(0), cfg.GetMaxTurnDuration(), "empty means no ceiling")

	cfg.Agent.MaxTurnDuration = "not-a-duration"
	assert.Equal(t, 30*time.Minute, cfg.GetMaxTurnDuration(), "garbage falls back")
}
