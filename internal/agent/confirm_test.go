package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssessDanger(t *testing.T) {
	cases := []struct {
		name    string
		command string
		want    bool
		reason  string
	}{
		{"recursive rm", "rm -rf /tmp/scratch", true, "recursive or forced deletion"},
		{"rm -r", "rm -r build", true, "recursive or forced deletion"},
		{"plain ls", "ls -la", false, ""},
		{"sudo", "sudo apt install jq", true, "runs with elevated privileges"},
		{"dd to disk", "dd if=/dev/zero of=/dev/sda", true, "raw disk write"},
		{"mkfs", "mkfs.ext4 /dev/sdb1", true, "formats a filesystem"},
		{"force push", "git push --force origin main", true, "force push rewrites remote history"},
		{"normal push", "git push origin main", false, ""},
		{"block device redirect", "echo test > /dev/sda1", true, "writes directly to a block device"},
		{"chmod 777", "chmod 777 deploy.sh", true, "makes files world-writable"},
		{"chmod 755", "chmod 755 deploy.sh", false, ""},
		{"prose", "format the report nicely", false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := assessDanger(map[string]any{"command": tc.command}, nil)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestAssessDanger_CustomPatterns(t *testing.T) {
	custom := compileDangerPatterns([]string{`curl.*\|\s*sh`})
	require.Len(t, custom, 1)

	got, reason := assessDanger(map[string]any{"command": "curl https://get.example.sh | sh"}, custom)
	assert.True(t, got)
	assert.Contains(t, reason, "configured pattern")

	got, _ = assessDanger(map[string]any{"command": "curl https://example.com -o out.html"}, custom)
	assert.False(t, got)
}

func TestAssessDanger_ScanTarget(t *testing.T) {
	t.Run("command argument wins", func(t *testing.T) {
		// Only the command is scanned when present; other values are the
		// command's data, not commands themselves.
		got, _ := assessDanger(map[string]any{"command": "ls", "note": "sudo later"}, nil)
		assert.False(t, got)
	})

	t.Run("all string values without a command", func(t *testing.T) {
		input := map[string]any{"file_path": "deploy.sh", "content": "sudo systemctl restart app"}
		got, reason := assessDanger(input, nil)
		assert.True(t, got)
		assert.Equal(t, "runs with elevated privileges", reason)
	})

	t.Run("empty input", func(t *testing.T) {
		got, reason := assessDanger(map[string]any{}, nil)
		assert.False(t, got)
		assert.Empty(t, reason)
	})
}

func TestCompileDangerPatterns_InvalidSkipped(t *testing.T) {
	compiled := compileDangerPatterns([]string{`[unclosed`, `valid.*pattern`})
	require.Len(t, compiled, 1)
	assert.True(t, compiled[0].re.MatchString("valid danger pattern"))
}

func TestDiffPreview_WriteFile(t *testing.T) {
	dir := t.TempDir()

	t.Run("existing file", func(t *testing.T) {
		path := filepath.Join(dir, "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("line1\nline2\nline3\n"), 0o644))

		preview := diffPreview("write_file", map[string]any{
			"file_path": path,
			"content":   "line1\nCHANGED\nline3\n",
		})
		assert.Contains(t, preview, "-line2")
		assert.Contains(t, preview, "+CHANGED")
	})

	t.Run("new file", func(t *testing.T) {
		path := filepath.Join(dir, "fresh.txt")
		preview := diffPreview("write_file", map[string]any{
			"file_path": path,
			"content":   "hello\n",
		})
		assert.Contains(t, preview, "--- /dev/null")
		assert.Contains(t, preview, "+hello")
	})

	t.Run("unchanged content", func(t *testing.T) {
		path := filepath.Join(dir, "same.txt")
		require.NoError(t, os.WriteFile(path, []byte("stable\n"), 0o644))

		preview := diffPreview("write_file", map[string]any{
			"file_path": path,
			"content":   "stable\n",
		})
		assert.Empty(t, preview)
	})
}

func TestDiffPreview_EditFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.go")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0o644))

	t.Run("single replace", func(t *testing.T) {
		preview := diffPreview("edit_file", map[string]any{
			"file_path":  path,
			"old_string": "beta",
			"new_string": "BETA",
		})
		assert.Contains(t, preview, "-beta")
		assert.Contains(t, preview, "+BETA")
	})

	t.Run("old string absent", func(t *testing.T) {
		preview := diffPreview("edit_file", map[string]any{
			"file_path":  path,
			"old_string": "zeta",
			"new_string": "ZETA",
		})
		assert.Empty(t, preview)
	})

	t.Run("replace all", func(t *testing.T) {
		repeated := filepath.Join(dir, "repeated.txt")
		require.NoError(t, os.WriteFile(repeated, []byte("x\nmid\nx\n"), 0o644))

		preview := diffPreview("edit_file", map[string]any{
			"file_path":   repeated,
			"old_string":  "x",
			"new_string":  "y",
			"replace_all": true,
		})
		assert.Equal(t, 2, strings.Count(preview, "+y"))
	})
}

func TestDiffPreview_InsertLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	t.Run("inserts at line", func(t *testing.T) {
		// line_number arrives as float64 from JSON decoding.
		preview := diffPreview("insert_line", map[string]any{
			"file_path":   path,
			"line_number": float64(2),
			"content":     "between",
		})
		assert.Contains(t, preview, "+between")
	})

	t.Run("line out of range", func(t *testing.T) {
		preview := diffPreview("insert_line", map[string]any{
			"file_path":   path,
			"line_number": float64(99),
			"content":     "lost",
		})
		assert.Empty(t, preview)
	})
}

func TestDiffPreview_NoPreviewCases(t *testing.T) {
	assert.Empty(t, diffPreview("bash", map[string]any{"command": "ls"}))
	assert.Empty(t, diffPreview("write_file", map[string]any{"content": "no path"}))
	assert.Empty(t, diffPreview("write_file", map[string]any{"file_path": "x.txt", "content": 42}))
	assert.Empty(t, diffPreview("read_file", map[string]any{"file_path": "x.txt"}))
}

func TestAwaitConfirmation(t *testing.T) {
	t.Run("answer wins", func(t *testing.T) {
		got := awaitConfirmation(context.Background(),
			func(Confirmation) ConfirmationResult { return Deny },
			Confirmation{ToolName: "bash"})
		assert.Equal(t, Deny, got)
	})

	t.Run("cancelled context reads as abort", func(t *testing.T) {
		gate := make(chan struct{})
		done := make(chan struct{})
		blocked := func(Confirmation) ConfirmationResult {
			defer close(done)
			<-gate
			return Approve
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		got := awaitConfirmation(ctx, blocked, Confirmation{ToolName: "bash"})
		assert.Equal(t, Abort, got)

		// Release the confirmer; its late answer drains into the buffered
		// channel instead of leaking the goroutine.
		close(gate)
		<-done
	})
}
