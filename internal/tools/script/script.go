// Package script loads user-defined tools from a directory of Go source
// files and executes them with the yaegi interpreter, so adding a tool
// never requires recompiling the binary. Each script exports two functions:
//
//	func Describe() map[string]any
//	func Run(input map[string]any) (string, error)
//
// Describe supplies the tool name, description, and parameter schema; Run
// handles a single call. Scripts may import only whitelisted stdlib
// packages.
package script

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"codewright/internal/logging"
	"codewright/internal/tools"
)

// allowedImports is the whitelist of stdlib packages a script may use.
var allowedImports = map[string]bool{
	"bytes":           true,
	"encoding/base64": true,
	"encoding/csv":    true,
	"encoding/json":   true,
	"errors":          true,
	"fmt":             true,
	"math":            true,
	"math/rand":       true,
	"path":            true,
	"path/filepath":   true,
	"regexp":          true,
	"sort":            true,
	"strconv":         true,
	"strings":         true,
	"time":            true,
	"unicode":         true,
	"unicode/utf8":    true,

	// EXPLICITLY BLOCKED (unsafe packages):
	// "os" - filesystem access
	// "os/exec" - command execution
	// "net", "net/http" - network access
	// "syscall", "unsafe" - system-level operations
}

// scriptTool holds the parsed source of one user script. The interpreter
// state is rebuilt for every execution so calls never share globals.
type scriptTool struct {
	path   string
	pkg    string
	source string
}

// LoadDir parses every .go file in dir into a registerable tool. Files that
// fail to load are logged and skipped; a missing directory is not an error.
func LoadDir(dir string) ([]*tools.Tool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logging.ToolsDebug("No script tool directory at %s", dir)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read script directory: %w", err)
	}

	var loaded []*tools.Tool
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".go" {
			continue
		}
		if strings.HasSuffix(name, "_test.go") || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}

		tool, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			logging.ToolsWarn("Skipping script tool %s: %v", name, err)
			continue
		}
		loaded = append(loaded, tool)
	}
	return loaded, nil
}

// RegisterDir loads the scripts in dir and registers them with the
// registry. Returns the number of tools registered.
func RegisterDir(registry *tools.Registry, dir string) (int, error) {
	loaded, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, tool := range loaded {
		if err := registry.Register(tool); err != nil {
			logging.ToolsWarn("Failed to register script tool %q: %v", tool.Name, err)
			continue
		}
		logging.Tools("Registered script tool: %s", tool.Name)
		count++
	}
	return count, nil
}

// loadFile validates one script and builds its tool definition. The script
// is evaluated once here so Describe can run; executions re-evaluate it in
// a fresh interpreter.
func loadFile(path string) (*tools.Tool, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	fset := token.NewFileSet()
	parsed, err := parser.ParseFile(fset, path, src, parser.ImportsOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if err := validateImports(parsed.Imports); err != nil {
		return nil, err
	}

	st := &scriptTool{path: path, pkg: parsed.Name.Name, source: string(src)}
	meta, err := st.describe()
	if err != nil {
		return nil, err
	}

	name, _ := meta["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("Describe() must return a non-empty \"name\"")
	}
	description, _ := meta["description"].(string)
	destructive, _ := meta["destructive"].(bool)

	return &tools.Tool{
		Name:        name,
		Description: description,
		Category:    tools.CategoryScript,
		Destructive: destructive,
		Execute:     st.execute,
		Schema:      schemaFromMeta(meta),
	}, nil
}

// validateImports rejects any import outside the whitelist.
func validateImports(imports []*ast.ImportSpec) error {
	var forbidden []string
	for _, spec := range imports {
		pkg, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return fmt.Errorf("malformed import %s", spec.Path.Value)
		}
		if !allowedImports[pkg] {
			forbidden = append(forbidden, pkg)
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("forbidden imports: %v (allowed: %v)", forbidden, allowedList())
	}
	return nil
}

// allowedList returns the whitelist sorted for stable error messages.
func allowedList() []string {
	pkgs := make([]string, 0, len(allowedImports))
	for pkg := range allowedImports {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

// describe evaluates the script and calls its Describe function.
func (st *scriptTool) describe() (meta map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("Describe() panicked: %v", r)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if _, err := i.Eval(st.source); err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}

	v, err := i.Eval(st.pkg + ".Describe")
	if err != nil {
		return nil, fmt.Errorf("Describe function not found: %w", err)
	}
	describeFn, ok := v.Interface().(func() map[string]any)
	if !ok {
		return nil, fmt.Errorf("Describe has wrong signature (want func() map[string]any)")
	}
	return describeFn(), nil
}

// execute runs the script's Run function in a fresh interpreter. All
// interpreter work happens on a separate goroutine so a hung script cannot
// outlive the call's context.
func (st *scriptTool) execute(ctx context.Context, args map[string]any) (string, error) {
	resultCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("script panicked: %v", r)
			}
		}()

		i := interp.New(interp.Options{})
		if err := i.Use(stdlib.Symbols); err != nil {
			errCh <- fmt.Errorf("failed to load stdlib symbols: %w", err)
			return
		}
		if _, err := i.Eval(st.source); err != nil {
			errCh <- fmt.Errorf("script evaluation failed: %w", err)
			return
		}
		v, err := i.Eval(st.pkg + ".Run")
		if err != nil {
			errCh <- fmt.Errorf("Run function not found: %w", err)
			return
		}
		run, ok := v.Interface().(func(map[string]any) (string, error))
		if !ok {
			errCh <- fmt.Errorf("Run has wrong signature (want func(map[string]any) (string, error))")
			return
		}

		out, err := run(args)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- out
	}()

	select {
	case out := <-resultCh:
		return out, nil
	case err := <-errCh:
		return "", err
	case <-ctx.Done():
		return "", fmt.Errorf("script execution cancelled: %w", ctx.Err())
	}
}

// schemaFromMeta converts the Describe() "input" map into a tool schema.
// Each entry maps a parameter name to a spec with "type", "description",
// optional "required", "default", and "enum" keys.
func schemaFromMeta(meta map[string]any) tools.ToolSchema {
	schema := tools.ToolSchema{Properties: map[string]tools.Property{}}

	input, _ := meta["input"].(map[string]any)
	for param, raw := range input {
		spec, _ := raw.(map[string]any)
		if spec == nil {
			continue
		}

		prop := tools.Property{}
		prop.Type, _ = spec["type"].(string)
		if prop.Type == "" {
			prop.Type = "string"
		}
		prop.Description, _ = spec["description"].(string)
		prop.Default = spec["default"]
		if enum, ok := spec["enum"].([]any); ok {
			prop.Enum = enum
		}
		schema.Properties[param] = prop

		if required, _ := spec["required"].(bool); required {
			schema.Required = append(schema.Required, param)
		}
	}
	sort.Strings(schema.Required)
	return schema
}
