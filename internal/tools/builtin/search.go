package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"codewright/internal/logging"
	"codewright/internal/tools"
)

// GrepTool returns a tool for searching file contents.
func GrepTool() *tools.Tool {
	return &tools.Tool{
		Name:        "grep",
		Description: "Search for a regular expression pattern in file contents",
		Category:    tools.CategorySearch,
		Execute:     executeGrep,
		Schema: tools.ToolSchema{
			Required: []string{"pattern"},
			Properties: map[string]tools.Property{
				"pattern": {
					Type:        "string",
					Description: "Regular expression pattern to search for",
				},
				"path": {
					Type:        "string",
					Description: "File or directory to search (default: current directory)",
				},
				"include": {
					Type:        "string",
					Description: "Glob pattern for files to search (e.g., '*.go')",
				},
				"head_limit": {
					Type:        "integer",
					Description: "Maximum number of matches (default: 50)",
					Default:     50,
				},
				"ignore_case": {
					Type:        "boolean",
					Description: "Case insensitive search (default: false)",
					Default:     false,
				},
			},
		},
	}
}

// grepMatch is a single matching line.
type grepMatch struct {
	file       string
	lineNumber int
	line       string
}

func executeGrep(ctx context.Context, args map[string]any) (string, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}

	path := "."
	if p := stringArg(args, "path"); p != "" {
		path = p
	}

	includePattern := stringArg(args, "include")

	maxResults := 50
	if mr, ok := intArg(args, "head_limit"); ok && mr > 0 {
		maxResults = mr
	}

	if boolArg(args, "ignore_case", false) {
		pattern = "(?i)" + pattern
	}

	logging.ToolsDebug("grep: pattern=%s, path=%s", pattern, path)

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid regex pattern: %w", err)
	}

	var files []string
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("path not found: %w", err)
	}

	if info.IsDir() {
		err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return nil
			}

			if info.IsDir() {
				// Skip hidden and common excluded directories
				name := info.Name()
				if (strings.HasPrefix(name, ".") && p != path) || name == "node_modules" || name == "vendor" {
					return filepath.SkipDir
				}
				return nil
			}

			if includePattern != "" {
				matched, _ := filepath.Match(includePattern, info.Name())
				if !matched {
					return nil
				}
			}

			files = append(files, p)
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		files = []string{path}
	}

	var matches []grepMatch
	for _, file := range files {
		if len(matches) >= maxResults {
			break
		}

		fileMatches, err := searchFile(file, re, maxResults-len(matches))
		if err != nil {
			continue // Skip unreadable files
		}

		matches = append(matches, fileMatches...)
	}

	logging.Tools("grep completed: %s (%d matches)", pattern, len(matches))

	if len(matches) == 0 {
		return "No matches found for pattern: " + pattern, nil
	}

	var sb strings.Builder
	for _, m := range matches {
		fmt.Fprintf(&sb, "%s:%d: %s\n", m.file, m.lineNumber, m.line)
	}
	return sb.String(), nil
}

func searchFile(path string, re *regexp.Regexp, maxMatches int) ([]grepMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var matches []grepMatch

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if re.MatchString(line) {
			matches = append(matches, grepMatch{
				file:       path,
				lineNumber: lineNum,
				line:       strings.TrimSpace(line),
			})

			if len(matches) >= maxMatches {
				break
			}
		}
	}

	return matches, scanner.Err()
}
