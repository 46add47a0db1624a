package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"codewright/internal/diff"
	"codewright/internal/logging"
)

// previewMaxLines caps the rendered diff shown in a confirmation prompt.
const previewMaxLines = 60

type dangerPattern struct {
	re     *regexp.Regexp
	reason string
}

// builtinDangers covers the commands most likely to destroy data or escalate
// privileges. Callers extend the set via Config.DangerousPatterns.
var builtinDangers = []dangerPattern{
	{regexp.MustCompile(`(?i)\brm\s+-[a-z]*[rf]`), "recursive or forced deletion"},
	{regexp.MustCompile(`(?i)\bsudo\b`), "runs with elevated privileges"},
	{regexp.MustCompile(`(?i)\bdd\s+\S*if=`), "raw disk write"},
	{regexp.MustCompile(`(?i)\bmkfs\b`), "formats a filesystem"},
	{regexp.MustCompile(`(?i)\bgit\s+push\b.*(--force\b|-f\b)`), "force push rewrites remote history"},
	{regexp.MustCompile(`(?i)>\s*/dev/(sd|nvme|hd)`), "writes directly to a block device"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*777\b`), "makes files world-writable"},
}

// compileDangerPatterns builds the custom pattern list. Patterns that fail
// to compile are logged and skipped rather than blocking startup.
func compileDangerPatterns(patterns []string) []dangerPattern {
	out := make([]dangerPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logging.AgentWarn("Ignoring invalid dangerous pattern %q: %v", p, err)
			continue
		}
		out = append(out, dangerPattern{re: re, reason: fmt.Sprintf("matches configured pattern %q", p)})
	}
	return out
}

// assessDanger matches the call's command text against the built-in and
// custom pattern sets. The scan target is the command argument when present,
// otherwise every string-valued argument.
func assessDanger(input map[string]any, custom []dangerPattern) (bool, string) {
	target := dangerScanTarget(input)
	if target == "" {
		return false, ""
	}
	for _, p := range builtinDangers {
		if p.re.MatchString(target) {
			return true, p.reason
		}
	}
	for _, p := range custom {
		if p.re.MatchString(target) {
			return true, p.reason
		}
	}
	return false, ""
}

func dangerScanTarget(input map[string]any) string {
	if cmd, ok := input["command"].(string); ok && cmd != "" {
		return cmd
	}
	var parts []string
	for _, v := range input {
		if s, ok := v.(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// diffPreview renders the pending change for file-mutating tools by
// simulating the edit against the current file contents. Best effort: any
// failure yields an empty preview, never an error, so a broken preview can
// not block confirmation.
func diffPreview(toolName string, input map[string]any) string {
	path, _ := input["file_path"].(string)
	if path == "" {
		return ""
	}

	var oldContent string
	if raw, err := os.ReadFile(path); err == nil {
		oldContent = string(raw)
	}

	var newContent string
	switch toolName {
	case "write_file":
		content, ok := input["content"].(string)
		if !ok {
			return ""
		}
		newContent = content

	case "edit_file":
		oldString, _ := input["old_string"].(string)
		newString, _ := input["new_string"].(string)
		if oldString == "" || !strings.Contains(oldContent, oldString) {
			return ""
		}
		if replaceAll, _ := input["replace_all"].(bool); replaceAll {
			newContent = strings.ReplaceAll(oldContent, oldString, newString)
		} else {
			newContent = strings.Replace(oldContent, oldString, newString, 1)
		}

	case "insert_line":
		line, ok := previewInt(input["line_number"])
		if !ok {
			return ""
		}
		content, _ := input["content"].(string)
		lines := strings.Split(oldContent, "\n")
		if line < 1 || line > len(lines)+1 {
			return ""
		}
		idx := line - 1
		updated := make([]string, 0, len(lines)+1)
		updated = append(updated, lines[:idx]...)
		updated = append(updated, content)
		updated = append(updated, lines[idx:]...)
		newContent = strings.Join(updated, "\n")

	default:
		return ""
	}

	fd := diff.Compute(path, path, oldContent, newContent)
	if !fd.HasChanges() {
		return ""
	}
	return diff.Render(fd, previewMaxLines)
}

// previewInt mirrors tool-argument number coercion: model JSON delivers
// numbers as float64.
func previewInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// awaitConfirmation runs the confirmer and waits for its answer or for the
// context to end, whichever comes first. A cancelled context reads as Abort;
// the confirmer goroutine drains into the buffered channel whenever the
// human eventually answers.
func awaitConfirmation(ctx context.Context, confirm Confirmer, conf Confirmation) ConfirmationResult {
	ch := make(chan ConfirmationResult, 1)
	go func() {
		ch <- confirm(conf)
	}()
	select {
	case result := <-ch:
		return result
	case <-ctx.Done():
		return Abort
	}
}
