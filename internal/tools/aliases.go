package tools

import (
	"fmt"
	"sort"
)

// Models trained on other tool surfaces supply near-miss parameter names:
// query for pattern, cmd for command, path for file_path. Rather than bounce
// the call, map the key to its schema equivalent and tell the model what
// happened via a transparency note.
//
// An alias applies only when the caller's key is absent from the target
// schema and the canonical key is present in it, so a tool whose schema
// legitimately uses "path" or "limit" never has those rewritten.
var parameterAliases = map[string]string{
	// search
	"query":       "pattern",
	"regex":       "pattern",
	"search":      "pattern",
	"max_results": "head_limit",
	"limit":       "head_limit",

	// shell
	"cmd":    "command",
	"script": "command",

	// files
	"path":     "file_path",
	"filename": "file_path",
	"file":     "file_path",
	"text":     "content",
	"old":      "old_string",
	"new":      "new_string",
	"line":     "line_number",

	// directories
	"dir":       "path",
	"directory": "path",

	// network
	"uri": "url",
}

// CanonicalizeArgs rewrites aliased parameter keys to the schema's canonical
// keys. An explicit canonical key always wins over an alias; unmapped keys
// pass through untouched. Returns the rewritten map and one note per
// substitution, in deterministic order.
func CanonicalizeArgs(schema ToolSchema, args map[string]any) (map[string]any, []string) {
	if len(args) == 0 || len(schema.Properties) == 0 {
		return args, nil
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(args))
	var notes []string

	for _, key := range keys {
		value := args[key]

		if _, inSchema := schema.Properties[key]; inSchema {
			out[key] = value
			continue
		}

		canonical, hasAlias := parameterAliases[key]
		if !hasAlias {
			out[key] = value
			continue
		}
		if _, targetInSchema := schema.Properties[canonical]; !targetInSchema {
			out[key] = value
			continue
		}

		if _, explicit := args[canonical]; explicit {
			// Canonical key supplied too; the alias loses and is dropped.
			notes = append(notes, fmt.Sprintf("ignored parameter '%s': '%s' was provided explicitly", key, canonical))
			continue
		}
		if _, taken := out[canonical]; taken {
			// A previous alias already claimed the canonical key.
			notes = append(notes, fmt.Sprintf("ignored parameter '%s': '%s' already mapped", key, canonical))
			continue
		}

		out[canonical] = value
		notes = append(notes, fmt.Sprintf("mapped parameter '%s' to '%s'", key, canonical))
	}

	return out, notes
}
