package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codewright/internal/agent"

	"go.uber.org/zap"
)

// oneShotStats is the stats object in --output-format json.
type oneShotStats struct {
	Iterations   int   `json:"iterations"`
	ToolCalls    int   `json:"tool_calls"`
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	DurationMS   int64 `json:"duration_ms"`
}

type oneShotResult struct {
	Response  string       `json:"response"`
	SessionID string       `json:"session_id,omitempty"`
	Stats     oneShotStats `json:"stats"`
}

// runOneShot executes a single prompt and prints the reply.
func runOneShot() error {
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("invalid output format %q (valid: text, json)", outputFormat)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var stats agent.TurnStats
	callbacks := agent.Callbacks{
		OnConfirm:      headlessConfirmer,
		OnTurnComplete: func(s agent.TurnStats) { stats = s },
	}
	if !quiet && outputFormat == "text" {
		callbacks.OnToolCall = func(name string, input map[string]any) {
			fmt.Fprintf(os.Stderr, "⚙ %s %s\n", name, compactArgs(input))
		}
	}

	rt, err := buildRuntime(callbacks)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.attachSession(sessionID, false); err != nil {
		return err
	}

	logger.Debug("runtime assembled",
		zap.String("provider", rt.provider.Name()),
		zap.String("model", rt.provider.Model()),
		zap.Int("tools", len(rt.registry.Names())))

	reply, err := rt.agent.Chat(ctx, oneShotPrompt)
	rt.saveSession()
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		res := oneShotResult{
			Response: reply,
			Stats: oneShotStats{
				Iterations:   stats.Iterations,
				ToolCalls:    stats.ToolCalls,
				InputTokens:  stats.InputTokens,
				OutputTokens: stats.OutputTokens,
				DurationMS:   stats.Duration.Milliseconds(),
			},
		}
		if rt.session != nil {
			res.SessionID = rt.session.ID
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(reply)
	return nil
}

// headlessConfirmer denies destructive calls in one-shot mode. There is
// no conversation to ask on; pass --yes to approve up front.
func headlessConfirmer(c agent.Confirmation) agent.ConfirmationResult {
	fmt.Fprintf(os.Stderr, "denied destructive call to %s (run with --yes to allow)\n", c.ToolName)
	return agent.Deny
}
