package config

import "time"

// Config is the resolved configuration of one qacheck run.
//
// Values come from Defaults, then the YAML file, then QACHECK_* environment
// variables, then command-line flags (applied by the caller).
type Config struct {
	// Command is the explicit start command; empty means auto-detect.
	Command  []string      `yaml:"command" env:"QACHECK_COMMAND" envSeparator:" "`
	Timeout  time.Duration `yaml:"timeout" env:"QACHECK_TIMEOUT"`
	FailFast bool          `yaml:"fail_fast" env:"QACHECK_FAIL_FAST"`
	Dialect  string        `yaml:"dialect" env:"QACHECK_DIALECT"`
	// Checks selects check ids; empty runs the standard set.
	Checks []string `yaml:"checks" env:"QACHECK_CHECKS" envSeparator:","`
	// Env is passed to the candidate in addition to the inherited environment.
	Env map[string]string `yaml:"env"`

	Log    LogConfig    `yaml:"log"`
	Report ReportConfig `yaml:"report"`

	// SourceFile is the file the config was read from, if any.
	SourceFile string `yaml:"-"`
	// Digest is the BLAKE3 hash of SourceFile's content.
	Digest string `yaml:"-"`
}

// LogConfig controls the harness's own logging (always on stderr).
type LogConfig struct {
	Level  string `yaml:"level" env:"QACHECK_LOG_LEVEL"`
	Format string `yaml:"format" env:"QACHECK_LOG_FORMAT"`
}

// ReportConfig controls report rendering and output.
type ReportConfig struct {
	Format string `yaml:"format" env:"QACHECK_REPORT_FORMAT"`
	Output string `yaml:"output" env:"QACHECK_OUTPUT"`
}

const (
	ReportText   = "text"
	ReportJSON   = "json"
	ReportStyled = "styled"
)

// Defaults returns a Config with the standard settings.
func Defaults() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		FailFast: true,
		Dialect:  "capability",
		Env:      make(map[string]string),
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Report: ReportConfig{
			Format: ReportText,
		},
	}
}

// EnvList renders Env as sorted KEY=VALUE entries.
func (c *Config) EnvList() []string {
	return sortedPairs(c.Env)
}
