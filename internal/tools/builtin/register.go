package builtin

import (
	"codewright/internal/tools"
)

// RegisterAll registers the standard tool set with the given registry.
func RegisterAll(registry *tools.Registry) error {
	allTools := []*tools.Tool{
		// File operations
		ReadFileTool(),
		WriteFileTool(),
		EditFileTool(),
		InsertLineTool(),
		ListDirTool(),
		ViewImageTool(),

		// Search operations
		GlobTool(),
		GrepTool(),

		// Shell
		BashTool(),

		// Network
		WebFetchTool(),
	}

	for _, tool := range allTools {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}

	return nil
}
