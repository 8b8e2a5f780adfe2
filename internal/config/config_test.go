package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file keeps defaults",
			yaml: "",
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 5*time.Second, cfg.Timeout)
				assert.True(t, cfg.FailFast)
				assert.Equal(t, "capability", cfg.Dialect)
				assert.Equal(t, ReportText, cfg.Report.Format)
				assert.NotNil(t, cfg.Env)
			},
		},
		{
			name: "full file",
			yaml: `
command: [python, -m, server]
timeout: 12s
fail_fast: false
dialect: mcp
checks: [startup, invocation]
env:
  API_MODE: test
log:
  level: debug
  format: json
report:
  format: json
  output: out/report.json
`,
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"python", "-m", "server"}, cfg.Command)
				assert.Equal(t, 12*time.Second, cfg.Timeout)
				assert.False(t, cfg.FailFast)
				assert.Equal(t, "mcp", cfg.Dialect)
				assert.Equal(t, []string{"startup", "invocation"}, cfg.Checks)
				assert.Equal(t, []string{"API_MODE=test"}, cfg.EnvList())
				assert.Equal(t, "debug", cfg.Log.Level)
				assert.Equal(t, "json", cfg.Report.Format)
				assert.Equal(t, "out/report.json", cfg.Report.Output)
			},
		},
		{
			name: "environment overrides file",
			yaml: "timeout: 12s\ndialect: mcp\n",
			env: map[string]string{
				"QACHECK_TIMEOUT":   "3s",
				"QACHECK_DIALECT":   "capability",
				"QACHECK_COMMAND":   "node server.js",
				"QACHECK_CHECKS":    "startup,stdio",
				"QACHECK_FAIL_FAST": "false",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3*time.Second, cfg.Timeout)
				assert.Equal(t, "capability", cfg.Dialect)
				assert.Equal(t, []string{"node", "server.js"}, cfg.Command)
				assert.Equal(t, []string{"startup", "stdio"}, cfg.Checks)
				assert.False(t, cfg.FailFast)
			},
		},
		{
			name: "interpolates command and env",
			yaml: "command: [\"${QA_TEST_PY}\", server.py]\nenv:\n  TOKEN: \"${QA_TEST_TOKEN}\"\n  KEEP: \"${QA_TEST_UNSET_VAR}\"\n",
			env: map[string]string{
				"QA_TEST_PY":    "/usr/bin/python3",
				"QA_TEST_TOKEN": "s3cret",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []string{"/usr/bin/python3", "server.py"}, cfg.Command)
				assert.Equal(t, "s3cret", cfg.Env["TOKEN"])
				assert.Equal(t, "${QA_TEST_UNSET_VAR}", cfg.Env["KEEP"])
			},
		},
		{
			name:    "unknown field rejected",
			yaml:    "timeout: 5s\nfailfast: true\n",
			wantErr: "field failfast not found",
		},
		{
			name:    "unknown dialect rejected",
			yaml:    "dialect: grpc\n",
			wantErr: `unknown dialect "grpc"`,
		},
		{
			name:    "unknown check rejected",
			yaml:    "checks: [startup, latency]\n",
			wantErr: `unknown check "latency"`,
		},
		{
			name:    "non-positive timeout rejected",
			yaml:    "timeout: 0s\n",
			wantErr: "timeout must be positive",
		},
		{
			name:    "bad report format rejected",
			yaml:    "report:\n  format: html\n",
			wantErr: "report.format must be one of",
		},
		{
			name:    "bad env override rejected",
			env:     map[string]string{"QACHECK_TIMEOUT": "soon"},
			wantErr: "parse env",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), ".qacheck.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoad_RecordsSourceAndDigest(t *testing.T) {
	body := "timeout: 7s\n"
	path := writeConfig(t, t.TempDir(), "qa.yaml", body)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.SourceFile)
	assert.Equal(t, Digest([]byte(body)), cfg.Digest)

	fromFile, err := ComputeBlake3Hash(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Digest, fromFile)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoad_NoPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.SourceFile)
	assert.Empty(t, cfg.Digest)
	assert.Equal(t, Defaults().Timeout, cfg.Timeout)
}

func TestLoadForTarget(t *testing.T) {
	t.Run("discovers project file", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, ".qacheck.yml", "dialect: mcp\n")

		cfg, err := LoadForTarget(dir, "")
		require.NoError(t, err)
		assert.Equal(t, "mcp", cfg.Dialect)
		assert.True(t, strings.HasSuffix(cfg.SourceFile, ".qacheck.yml"))
	})

	t.Run("explicit path wins", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, ".qacheck.yaml", "dialect: mcp\n")
		explicit := writeConfig(t, t.TempDir(), "other.yaml", "dialect: capability\n")

		cfg, err := LoadForTarget(dir, explicit)
		require.NoError(t, err)
		assert.Equal(t, "capability", cfg.Dialect)
	})

	t.Run("no file falls back to defaults", func(t *testing.T) {
		cfg, err := LoadForTarget(t.TempDir(), "")
		require.NoError(t, err)
		assert.Empty(t, cfg.SourceFile)
	})
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	_, ok := Discover(dir)
	assert.False(t, ok)

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".qacheck.yaml"), 0o755))
	_, ok = Discover(dir)
	assert.False(t, ok, "directories are ignored")

	yml := writeConfig(t, dir, ".qacheck.yml", "")
	path, ok := Discover(dir)
	require.True(t, ok)
	assert.Equal(t, yml, path)
}

func TestDigest(t *testing.T) {
	a := Digest([]byte("timeout: 5s\n"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Digest([]byte("timeout: 5s\n")))
	assert.NotEqual(t, a, Digest([]byte("timeout: 6s\n")))
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))

	cfg.Command = []string{"python", " "}
	assert.ErrorContains(t, Validate(cfg), "command[1] is empty")

	cfg = Defaults()
	cfg.Env["BAD=KEY"] = "x"
	assert.ErrorContains(t, Validate(cfg), "invalid variable name")

	cfg = Defaults()
	cfg.Log.Level = "verbose"
	assert.ErrorContains(t, Validate(cfg), "log.level")

	cfg = Defaults()
	cfg.Log.Format = "xml"
	assert.ErrorContains(t, Validate(cfg), "log.format")
}
