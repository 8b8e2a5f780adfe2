package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then QACHECK_* environment overrides. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", path, err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or omit --config to use defaults", absPath)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
		}
		cfg.SourceFile = absPath
		cfg.Digest = Digest(data)
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	interpolate(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadForTarget loads explicit when set, else the target's config file when
// one exists, else defaults plus environment.
func LoadForTarget(target, explicit string) (*Config, error) {
	if explicit != "" {
		return Load(explicit)
	}
	path, _ := Discover(target)
	return Load(path)
}

// ParseEnv applies QACHECK_* environment overrides onto target. Variables
// that are unset leave the existing value untouched.
func ParseEnv(target *Config) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}
	return nil
}

// interpolate expands ${VAR} references in the command and candidate env.
func interpolate(cfg *Config) {
	for i, arg := range cfg.Command {
		cfg.Command[i] = interpolateEnv(arg)
	}
	for k, v := range cfg.Env {
		cfg.Env[k] = interpolateEnv(v)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func sortedPairs(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
