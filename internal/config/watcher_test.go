package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "agent:\n  max_iterations: 5\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeConfigFile(t, path, "agent:\n  max_iterations: 9\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9, cfg.Agent.MaxIterations)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after config write")
	}
}

func TestWatcher_SurvivesRenameReplace(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "agent:\n  max_iterations: 5\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// Editor-style save: write a temp file, rename it over the original.
	tmp := filepath.Join(dir, ".config.yaml.swp")
	writeConfigFile(t, tmp, "agent:\n  max_iterations: 7\n")
	require.NoError(t, os.Rename(tmp, path))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.Agent.MaxIterations)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed after rename-replace")
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "agent:\n  max_iterations: 5\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeConfigFile(t, filepath.Join(dir, "other.yaml"), "agent:\n  max_iterations: 99\n")

	time.Sleep(1200 * time.Millisecond)
	assert.Empty(t, reloaded, "sibling file changes must not trigger a reload")
}

func TestWatcher_KeepsRunningOnBadConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "agent:\n  max_iterations: 5\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	// A broken write is logged and skipped, never delivered.
	writeConfigFile(t, path, "agent: [broken\n")
	time.Sleep(1200 * time.Millisecond)
	require.Empty(t, reloaded)

	// The next good write still comes through.
	writeConfigFile(t, path, "agent:\n  max_iterations: 11\n")
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 11, cfg.Agent.MaxIterations)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher stopped delivering after a bad config")
	}
}

func TestWatcher_StopIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfigFile(t, path, "{}\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
