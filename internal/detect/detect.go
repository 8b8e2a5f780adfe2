// Package detect infers how to start a candidate server from the manifests
// found in its project directory.
//
// Sources are consulted in order and the first usable one wins:
//  1. .vscode/mcp.json, then mcp.json
//  2. pyproject.toml scripts ([project.scripts] merged with [tool.poetry.scripts])
//  3. package.json scripts (start, then dev)
//  4. go.mod (a single ./cmd/<name> main package, or a main package at the root)
package detect

import (
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/mattjoyce/qacheck/internal/log"
)

// Source names where a command came from.
type Source string

const (
	SourceMCPConfig Source = "mcp.json"
	SourcePyProject Source = "pyproject.toml"
	SourcePackage   Source = "package.json"
	SourceGoModule  Source = "go.mod"
)

// Detection is a resolved start command.
type Detection struct {
	Command []string `json:"command"`
	Source  Source   `json:"source"`
	File    string   `json:"file"`
}

// preferredScriptNames mark server-like entrypoints when several are declared.
var preferredScriptNames = []string{"mcp", "server", "serve", "start", "run"}

// pythonLauncher runs Python inside the project's managed environment.
var pythonLauncher = []string{"uv", "run", "python"}

// Resolve returns the start command for the project at dir, or nil.
func Resolve(dir string) []string {
	d, ok := Detect(dir)
	if !ok {
		return nil
	}
	return d.Command
}

// Detect returns the first start command found for the project at dir.
// Unreadable or malformed manifests are skipped.
func Detect(dir string) (Detection, bool) {
	logger := log.WithComponent("detect")

	detectors := []func(string) (Detection, bool, error){
		fromMCPConfig,
		fromPyProject,
		fromPackageJSON,
		fromGoModule,
	}
	for _, detect := range detectors {
		d, ok, err := detect(dir)
		if err != nil {
			logger.Debug("skipping manifest", "dir", dir, "error", err)
			continue
		}
		if ok {
			logger.Debug("start command detected", "source", d.Source, "command", d.Command)
			return d, true
		}
	}
	return Detection{}, false
}

type mcpServer struct {
	Type    string `json:"type"`
	Command any    `json:"command"`
	Args    any    `json:"args"`
}

func fromMCPConfig(dir string) (Detection, bool, error) {
	for _, path := range []string{
		filepath.Join(dir, ".vscode", "mcp.json"),
		filepath.Join(dir, "mcp.json"),
	} {
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return Detection{}, false, fmt.Errorf("read %s: %w", path, err)
		}

		cmd, err := commandFromMCPConfig(data)
		if err != nil {
			log.WithComponent("detect").Debug("invalid mcp config", "path", path, "error", err)
			continue
		}
		if cmd != nil {
			return Detection{Command: cmd, Source: SourceMCPConfig, File: path}, true, nil
		}
	}
	return Detection{}, false, nil
}

func commandFromMCPConfig(data []byte) ([]string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	var servers map[string]json.RawMessage
	for _, key := range []string{"servers", "mcpServers"} {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &servers); err == nil && len(servers) > 0 {
			break
		}
		servers = nil
	}
	if len(servers) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)

	var items []mcpServer
	for _, name := range names {
		var s mcpServer
		if err := json.Unmarshal(servers[name], &s); err != nil {
			continue
		}
		items = append(items, s)
	}
	if len(items) == 0 {
		return nil, nil
	}

	chosen := items[0]
	for _, s := range items {
		if s.Type == "stdio" {
			chosen = s
			break
		}
	}

	command, ok := chosen.Command.(string)
	if !ok {
		return nil, nil
	}
	var args []string
	if list, ok := chosen.Args.([]any); ok {
		for _, a := range list {
			args = append(args, fmt.Sprint(a))
		}
	}

	if isPython(command) {
		return append(append([]string{}, pythonLauncher...), args...), nil
	}
	return append([]string{command}, args...), nil
}

func isPython(command string) bool {
	low := strings.ToLower(command)
	return low == "python" || low == "python3" || strings.HasSuffix(low, "python.exe")
}

type pyProject struct {
	Project struct {
		Scripts map[string]any `toml:"scripts"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Scripts map[string]any `toml:"scripts"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func fromPyProject(dir string) (Detection, bool, error) {
	path := filepath.Join(dir, "pyproject.toml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Detection{}, false, nil
	}
	if err != nil {
		return Detection{}, false, fmt.Errorf("read %s: %w", path, err)
	}

	var doc pyProject
	if err := toml.Unmarshal(data, &doc); err != nil {
		return Detection{}, false, fmt.Errorf("parse %s: %w", path, err)
	}

	merged := make(map[string]any, len(doc.Project.Scripts)+len(doc.Tool.Poetry.Scripts))
	for k, v := range doc.Project.Scripts {
		merged[k] = v
	}
	for k, v := range doc.Tool.Poetry.Scripts {
		merged[k] = v
	}

	cmd := commandFromEntrypoint(pickEntrypoint(merged))
	if cmd == nil {
		return Detection{}, false, nil
	}
	return Detection{Command: cmd, Source: SourcePyProject, File: path}, true, nil
}

// pickEntrypoint chooses among declared scripts: the only one, else the first
// (by name) whose name looks server-like, else the first by name.
func pickEntrypoint(scripts map[string]any) any {
	if len(scripts) == 0 {
		return nil
	}
	names := make([]string, 0, len(scripts))
	for name := range scripts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		low := strings.ToLower(name)
		for _, preferred := range preferredScriptNames {
			if strings.Contains(low, preferred) {
				return scripts[name]
			}
		}
	}
	return scripts[names[0]]
}

// commandFromEntrypoint turns "pkg.mod:func" or "pkg.mod" into a command.
func commandFromEntrypoint(entrypoint any) []string {
	ep, ok := entrypoint.(string)
	if !ok {
		return nil
	}
	ep = strings.TrimSpace(ep)
	if ep == "" {
		return nil
	}

	cmd := append([]string{}, pythonLauncher...)
	module, fn, hasFunc := strings.Cut(ep, ":")
	if !hasFunc {
		return append(cmd, "-m", ep)
	}
	module, fn = strings.TrimSpace(module), strings.TrimSpace(fn)
	if module == "" || fn == "" {
		return nil
	}
	code := fmt.Sprintf("import importlib;m=importlib.import_module('%s');getattr(m,'%s')()", module, fn)
	return append(cmd, "-c", code)
}

func fromPackageJSON(dir string) (Detection, bool, error) {
	path := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Detection{}, false, nil
	}
	if err != nil {
		return Detection{}, false, fmt.Errorf("read %s: %w", path, err)
	}

	var pkg struct {
		Scripts map[string]any `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Detection{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, script := range []string{"start", "dev"} {
		if _, ok := pkg.Scripts[script]; ok {
			return Detection{Command: []string{"npm", "run", script}, Source: SourcePackage, File: path}, true, nil
		}
	}
	return Detection{}, false, nil
}

func fromGoModule(dir string) (Detection, bool, error) {
	path := filepath.Join(dir, "go.mod")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Detection{}, false, nil
		}
		return Detection{}, false, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, "cmd"))
	if err == nil {
		var mains []string
		for _, e := range entries {
			if e.IsDir() && isMainPackage(filepath.Join(dir, "cmd", e.Name())) {
				mains = append(mains, e.Name())
			}
		}
		if len(mains) == 1 {
			return Detection{Command: []string{"go", "run", "./cmd/" + mains[0]}, Source: SourceGoModule, File: path}, true, nil
		}
	}

	if isMainPackage(dir) {
		return Detection{Command: []string{"go", "run", "."}, Source: SourceGoModule, File: path}, true, nil
	}
	return Detection{}, false, nil
}

// isMainPackage reports whether dir holds non-test Go files of package main.
func isMainPackage(dir string) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "*.go"))
	if err != nil {
		return false
	}
	fset := token.NewFileSet()
	for _, file := range matches {
		if strings.HasSuffix(file, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, file, nil, parser.PackageClauseOnly)
		if err != nil {
			continue
		}
		if f.Name.Name == "main" {
			return true
		}
	}
	return false
}
