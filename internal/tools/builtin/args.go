// Package builtin provides the standard tool set registered at startup:
// file operations, directory listing, glob and grep search, shell execution,
// web fetching, and image loading.
package builtin

import "encoding/json"

// Tool inputs are decoded from model JSON, so numbers arrive as float64 and
// occasionally as json.Number. These helpers normalize the common cases.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
	}
	return 0, false
}

func boolArg(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}
