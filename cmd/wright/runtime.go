package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"codewright/internal/agent"
	"codewright/internal/config"
	ctxbudget "codewright/internal/context"
	"codewright/internal/logging"
	"codewright/internal/message"
	"codewright/internal/provider"
	"codewright/internal/store"
	"codewright/internal/tools"
	"codewright/internal/tools/builtin"
	"codewright/internal/tools/script"

	"github.com/google/uuid"
)

// runtime bundles everything a chat surface needs: the configured agent,
// its tool registry, optional persistence, and the config watcher.
type runtime struct {
	cfg       *config.Config
	cfgPath   string
	workspace string

	provider provider.Provider
	registry *tools.Registry
	agent    *agent.Agent

	store   *store.Store    // nil when persistence is disabled
	session *store.Session  // nil when nothing is being persisted
	watcher *config.Watcher // nil when hot reload is off
}

// buildRuntime loads configuration, initializes logging, and assembles
// the provider, tool registry, budgeter, and agent.
func buildRuntime(callbacks agent.Callbacks) (*runtime, error) {
	ws := resolveWorkspace()

	cfgPath := config.ResolvePath(ws)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlagOverrides(cfg)

	if err := logging.Initialize(ws, logging.Options{
		DebugMode:  cfg.Logging.Debug || verbose,
		Level:      cfg.Logging.Level,
		Categories: categorySet(cfg.Logging.Categories),
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	prov, err := provider.New(provider.Options{
		Kind:    provider.Kind(cfg.Provider.Kind),
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.Model,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: cfg.GetProviderTimeout(),
	})
	if err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg, ws)
	if err != nil {
		return nil, err
	}

	budgeter := ctxbudget.NewBudgeter(ctxbudget.BudgeterConfig{
		MaxContextTokens:      cfg.Context.MaxContextTokens,
		KeepRecentMessages:    cfg.Context.KeepRecentMessages,
		KeepRecentToolResults: cfg.Context.KeepRecentToolResults,
		MaxToolResultSize:     cfg.Context.MaxToolResultSize,
	}, ctxbudget.NewEstimator(cfg.Context.Estimator), agent.NewProviderSummarizer(prov))

	ag := agent.New(agent.Options{
		Provider:     prov,
		Registry:     registry,
		Budgeter:     budgeter,
		SystemPrompt: cfg.Agent.SystemPrompt,
		Config:       agentConfig(cfg),
		Callbacks:    callbacks,
	})

	rt := &runtime{
		cfg:       cfg,
		cfgPath:   cfgPath,
		workspace: ws,
		provider:  prov,
		registry:  registry,
		agent:     ag,
	}
	rt.openStore()
	return rt, nil
}

// agentConfig maps the file configuration onto the agent loop settings,
// starting from the loop defaults so unset values keep working behavior.
func agentConfig(cfg *config.Config) agent.Config {
	ac := agent.DefaultConfig()
	if cfg.Agent.MaxIterations > 0 {
		ac.MaxIterations = cfg.Agent.MaxIterations
	}
	if cfg.Agent.MaxConsecutiveErrors > 0 {
		ac.MaxConsecutiveErrors = cfg.Agent.MaxConsecutiveErrors
	}
	ac.MaxTurnDuration = cfg.GetMaxTurnDuration()
	ac.MaxTokens = cfg.Provider.MaxTokens
	ac.UseTools = cfg.Tools.Enabled
	ac.ExtractToolCalls = cfg.Tools.ExtractToolCalls
	ac.AutoApproveAll = cfg.Safety.AutoApproveAll
	ac.AutoApproveTools = cfg.Safety.AutoApprove
	ac.DangerousPatterns = cfg.Safety.DangerousPatterns
	return ac
}

// buildRegistry assembles the tool registry: builtins plus any script
// tools found in the configured script directory.
func buildRegistry(cfg *config.Config, ws string) (*tools.Registry, error) {
	registry := tools.NewRegistry()
	registry.SetFallbackEnabled(cfg.Tools.FallbackEnabled)
	registry.SetMatcherConfig(matcherConfig(cfg))

	if !cfg.Tools.Enabled {
		return registry, nil
	}

	builtin.SetCommandTimeout(cfg.GetBashTimeout())
	if err := builtin.RegisterAll(registry); err != nil {
		return nil, fmt.Errorf("failed to register builtin tools: %w", err)
	}

	if dir := resolveUnder(ws, cfg.Tools.ScriptDir); dir != "" {
		if _, err := script.RegisterDir(registry, dir); err != nil {
			logging.ToolsWarn("Script tools unavailable: %v", err)
		}
	}
	return registry, nil
}

// matcherConfig overlays configured matcher thresholds onto the registry
// defaults, so a config file only names the knobs it changes.
func matcherConfig(cfg *config.Config) tools.MatcherConfig {
	mc := tools.DefaultMatcherConfig()
	m := cfg.Tools.Matcher
	if m.AutoCorrectThreshold > 0 {
		mc.AutoCorrectThreshold = m.AutoCorrectThreshold
	}
	if m.SuggestionThreshold > 0 {
		mc.SuggestionThreshold = m.SuggestionThreshold
	}
	if m.TieMargin > 0 {
		mc.TieMargin = m.TieMargin
	}
	return mc
}

// applyFlagOverrides layers command-line flags over the loaded file.
// Flags always win.
func applyFlagOverrides(cfg *config.Config) {
	if providerKind != "" {
		cfg.Provider.Kind = providerKind
	}
	if apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if model != "" {
		cfg.Provider.Model = model
	}
	if baseURL != "" {
		cfg.Provider.BaseURL = baseURL
	}
	if noTools {
		cfg.Tools.Enabled = false
	}
	if autoYes {
		cfg.Safety.AutoApproveAll = true
	}
}

func categorySet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func resolveWorkspace() string {
	if workspace != "" {
		return workspace
	}
	ws, err := os.Getwd()
	if err != nil {
		return "."
	}
	return ws
}

// resolveUnder anchors a relative path to the workspace.
func resolveUnder(ws, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ws, path)
}

// openStore opens session persistence. Failure is non-fatal: chat still
// works, it just won't be saved.
func (rt *runtime) openStore() {
	path := rt.cfg.Store.DatabasePath
	if path == "" {
		return
	}
	st, err := store.NewStore(resolveUnder(rt.workspace, path))
	if err != nil {
		logging.StoreError("Session persistence disabled: %v", err)
		return
	}
	rt.store = st
}

// attachSession resumes the named session, or starts a fresh one. With
// an empty id a new session is created only when persist is set.
func (rt *runtime) attachSession(id string, persist bool) error {
	if rt.store == nil {
		if id != "" {
			return fmt.Errorf("cannot resume session %s: persistence is disabled", id)
		}
		return nil
	}

	if id == "" {
		if !persist {
			return nil
		}
		rt.session = rt.newSession(uuid.NewString()[:8])
		return nil
	}

	sess, msgs, err := rt.store.LoadSession(id)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if sess == nil {
		rt.session = rt.newSession(id)
		return nil
	}

	rt.agent.SetMessages(msgs)
	rt.agent.SetSummary(sess.Summary)
	rt.session = sess
	logging.Store("Resumed session %s with %d messages", sess.ID, len(msgs))
	return nil
}

func (rt *runtime) newSession(id string) *store.Session {
	return &store.Session{
		ID:       id,
		Provider: rt.provider.Name(),
		Model:    rt.provider.Model(),
	}
}

// saveSession persists the current conversation. Best effort: errors are
// logged, not surfaced.
func (rt *runtime) saveSession() {
	if rt.store == nil || rt.session == nil {
		return
	}
	msgs := rt.agent.Messages()
	rt.session.Summary = rt.agent.Summary()
	if rt.session.Title == "" {
		rt.session.Title = sessionTitle(msgs)
	}
	if err := rt.store.SaveSession(rt.session, msgs); err != nil {
		logging.StoreError("Failed to save session %s: %v", rt.session.ID, err)
	}
}

// sessionTitle derives a listing title from the first user message.
func sessionTitle(msgs []message.Message) string {
	for _, msg := range msgs {
		if msg.Role != message.RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.Text())
		if text == "" {
			continue
		}
		if line, _, ok := strings.Cut(text, "\n"); ok {
			text = line
		}
		return truncate(text, 60)
	}
	return ""
}

// watchConfig re-applies safety settings when the config file changes on
// disk, so tightening dangerous_patterns does not require a restart.
func (rt *runtime) watchConfig(ctx context.Context) {
	w, err := config.NewWatcher(rt.cfgPath, func(cfg *config.Config) {
		rt.agent.SetDangerousPatterns(cfg.Safety.DangerousPatterns)
		rt.agent.SetAutoApprove(cfg.Safety.AutoApproveAll || autoYes, cfg.Safety.AutoApprove)
	})
	if err != nil {
		logging.ConfigDebug("Config watch unavailable: %v", err)
		return
	}
	if err := w.Start(ctx); err != nil {
		logging.ConfigDebug("Config watch unavailable: %v", err)
		return
	}
	rt.watcher = w
}

// Close releases everything buildRuntime opened.
func (rt *runtime) Close() {
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			logging.StoreError("Failed to close store: %v", err)
		}
	}
	if closer, ok := rt.provider.(io.Closer); ok {
		_ = closer.Close()
	}
	logging.CloseAll()
}
