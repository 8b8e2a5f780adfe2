package config

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/qacheck/internal/check"
	"github.com/mattjoyce/qacheck/internal/protocol"
)

var (
	validLogLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats   = map[string]bool{"json": true, "text": true}
	validReportFormat = map[string]bool{ReportText: true, ReportJSON: true, ReportStyled: true}
)

// Validate checks a fully merged configuration.
func Validate(cfg *Config) error {
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if _, err := protocol.DialectByName(cfg.Dialect); err != nil {
		return fmt.Errorf("dialect: %w", err)
	}

	if _, err := check.Select(cfg.Checks); err != nil {
		return fmt.Errorf("checks: %w", err)
	}

	for i, arg := range cfg.Command {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("command[%d] is empty", i)
		}
	}

	for key := range cfg.Env {
		if key == "" || strings.ContainsAny(key, "= ") {
			return fmt.Errorf("env: invalid variable name %q", key)
		}
	}

	level := strings.ToLower(cfg.Log.Level)
	if !validLogLevels[level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if !validLogFormats[strings.ToLower(cfg.Log.Format)] {
		return fmt.Errorf("log.format must be one of: json, text (got %q)", cfg.Log.Format)
	}
	if !validReportFormat[strings.ToLower(cfg.Report.Format)] {
		return fmt.Errorf("report.format must be one of: text, json, styled (got %q)", cfg.Report.Format)
	}
	return nil
}
