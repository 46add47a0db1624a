package builtin

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"codewright/internal/message"
)

// Smallest valid PNG header bytes; content does not matter for loading.
var tinyPNG = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}

func TestViewImageTool_Definition(t *testing.T) {
	t.Parallel()

	tool := ViewImageTool()

	if tool.Name != "view_image" {
		t.Errorf("Name mismatch: got %q", tool.Name)
	}
	if tool.Destructive {
		t.Error("view_image must not be destructive")
	}
}

func TestViewImageTool_Execute_Success(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "shot.png")
	if err := os.WriteFile(path, tinyPNG, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := executeViewImage(context.Background(), map[string]any{
		"file_path": path,
	})
	if err != nil {
		t.Fatalf("executeViewImage error: %v", err)
	}

	block, ok := message.ParseImageSentinel(result)
	if !ok {
		t.Fatalf("result is not an image sentinel: %q", result)
	}
	if block.MediaType != "image/png" {
		t.Errorf("got media type %q, want image/png", block.MediaType)
	}

	decoded, err := base64.StdEncoding.DecodeString(block.Data)
	if err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}
	if string(decoded) != string(tinyPNG) {
		t.Error("decoded payload does not round-trip")
	}
}

func TestViewImageTool_Execute_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "doc.pdf")
	os.WriteFile(path, []byte("%PDF"), 0644)

	_, err := executeViewImage(context.Background(), map[string]any{
		"file_path": path,
	})
	if err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestViewImageTool_Execute_NotFound(t *testing.T) {
	t.Parallel()

	_, err := executeViewImage(context.Background(), map[string]any{
		"file_path": "/nonexistent/image.png",
	})
	if err == nil {
		t.Error("expected error for missing file")
	}
}
