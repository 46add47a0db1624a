package builtin

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codewright/internal/logging"
	"codewright/internal/message"
	"codewright/internal/tools"
)

// Images above this size make the request body unreasonably large.
const maxImageBytes = 8 << 20 // 8MB

var imageMediaTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ViewImageTool returns a tool for loading an image file into the
// conversation. The result is an encoded payload the loop converts into a
// proper image block for vision-capable backends.
func ViewImageTool() *tools.Tool {
	return &tools.Tool{
		Name:        "view_image",
		Description: "Load an image file (png, jpeg, gif, webp) so the model can see it",
		Category:    tools.CategoryFile,
		Execute:     executeViewImage,
		Schema: tools.ToolSchema{
			Required: []string{"file_path"},
			Properties: map[string]tools.Property{
				"file_path": {
					Type:        "string",
					Description: "Path to the image file",
				},
			},
		},
	}
}

func executeViewImage(ctx context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "file_path")
	if path == "" {
		return "", fmt.Errorf("file_path is required")
	}

	ext := strings.ToLower(filepath.Ext(path))
	mediaType, ok := imageMediaTypes[ext]
	if !ok {
		return "", fmt.Errorf("unsupported image format %q (supported: png, jpg, jpeg, gif, webp)", ext)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Size() > maxImageBytes {
		return "", fmt.Errorf("image too large: %d bytes (max %d)", info.Size(), maxImageBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	logging.Tools("view_image: %s (%d bytes, %s)", path, len(data), mediaType)
	return message.FormatImageSentinel(mediaType, base64.StdEncoding.EncodeToString(data)), nil
}
