package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/qacheck/internal/lock"
)

// DefaultBaseName names report files written into a directory.
const DefaultBaseName = "qa_report"

// ErrOutsideProject is returned for output paths that escape the project.
var ErrOutsideProject = errors.New("output path must be inside the project path")

// Write stores content under projectPath and returns the written file.
//
// outputPath is resolved relative to projectPath and must stay inside it. An
// existing directory, a path ending in a separator, or a path without an
// extension is treated as a directory and receives DefaultBaseName+ext.
// Anything else is written exactly. Parent directories are created and the
// file is locked while written.
func Write(projectPath, outputPath, ext, content string) (string, error) {
	outputPath = strings.TrimSpace(outputPath)
	if outputPath == "" {
		return "", errors.New("empty output path")
	}

	target, err := resolveUnder(projectPath, outputPath)
	if err != nil {
		return "", err
	}

	if isDirectoryTarget(outputPath, target) {
		target = filepath.Join(target, DefaultBaseName+ext)
	}

	if err := lock.WriteFile(target, []byte(content)); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return target, nil
}

func resolveUnder(projectPath, outputPath string) (string, error) {
	if projectPath == "" {
		projectPath = "."
	}
	root, err := filepath.Abs(projectPath)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	candidate := outputPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideProject, outputPath)
	}
	return candidate, nil
}

func isDirectoryTarget(raw, resolved string) bool {
	if strings.HasSuffix(raw, "/") || strings.HasSuffix(raw, `\`) {
		return true
	}
	if info, err := os.Stat(resolved); err == nil && info.IsDir() {
		return true
	}
	return filepath.Ext(resolved) == ""
}
