package builtin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"codewright/internal/logging"
	"codewright/internal/tools"
)

const (
	defaultCommandTimeout = 60
	maxCommandOutput      = 50000
)

// commandTimeout is the fallback when a call passes no timeout argument.
// Set once at startup, before any tool runs.
var commandTimeout = defaultCommandTimeout

// SetCommandTimeout overrides the default shell timeout. Non-positive
// values restore the built-in default.
func SetCommandTimeout(d time.Duration) {
	if d <= 0 {
		commandTimeout = defaultCommandTimeout
		return
	}
	commandTimeout = int(d.Seconds())
}

// BashTool returns a tool for executing shell commands.
func BashTool() *tools.Tool {
	return &tools.Tool{
		Name:        "bash",
		Description: "Execute a shell command and return its output",
		Category:    tools.CategoryShell,
		Destructive: true,
		Execute:     executeBash,
		Schema: tools.ToolSchema{
			Required: []string{"command"},
			Properties: map[string]tools.Property{
				"command": {
					Type:        "string",
					Description: "The command to execute",
				},
				"working_dir": {
					Type:        "string",
					Description: "Working directory for the command",
				},
				"timeout": {
					Type:        "integer",
					Description: "Timeout in seconds (default: 60)",
					Default:     defaultCommandTimeout,
				},
			},
		},
	}
}

func executeBash(ctx context.Context, args map[string]any) (string, error) {
	command := stringArg(args, "command")
	if command == "" {
		return "", fmt.Errorf("command is required")
	}

	workingDir := stringArg(args, "working_dir")

	timeout := commandTimeout
	if t, ok := intArg(args, "timeout"); ok && t > 0 {
		timeout = t
	}

	logging.ToolsDebug("bash: cmd=%s, dir=%s, timeout=%ds", command, workingDir, timeout)

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(execCtx, "cmd", "/C", command)
	} else {
		cmd = exec.CommandContext(execCtx, "sh", "-c", command)
	}
	if workingDir != "" {
		cmd.Dir = workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	output := stdout.String()
	if stderr.Len() > 0 {
		if output != "" {
			output += "\n--- stderr ---\n"
		}
		output += stderr.String()
	}

	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + "\n...[truncated]"
	}

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("command timed out after %d seconds", timeout)
		}
		logging.Tools("bash failed: %s (%v)", command, err)
		return output, fmt.Errorf("command failed: %w\nOutput:\n%s", err, output)
	}

	logging.Tools("bash completed: %s (%d bytes output)", command, len(output))
	return output, nil
}
