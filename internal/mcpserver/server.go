// Package mcpserver exposes the QA pass as MCP tools over stdio so the
// harness can be driven from an agent.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mattjoyce/qacheck/internal/harness"
	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/report"
)

const serverName = "qa-report"

const qaReportDescription = `Run protocol-level QA checks on a local stdio server project.

Typical usage:
- Self-check: run against the current project (project_path='.')
- External check: validate another project by providing project_path

Inputs:
- project_path: Path to the target project. Defaults to the server working directory.
- command: Optional explicit start command. If omitted, the tool attempts
  best-effort auto-detection from common manifest files. Python projects are
  started with 'uv run'.
- fail_fast: Stop on first failure (default: true).
- output_path: Optional file or directory path to write the report.
  A directory (or a path without extension) receives 'qa_report.txt'.
  A file path is written exactly.
- dialect: 'capability' (default) or 'mcp'.

Output:
- Without output_path, the checklist report as text.
- With output_path, a short confirmation naming the written file. Invalid
  output paths do not abort the run; the report is still returned inline.`

// Runner executes a QA pass.
type Runner func(ctx context.Context, opts harness.Options) (*harness.Outcome, error)

// Config configures the MCP shell.
type Config struct {
	Version string
	// Defaults seed every qa_report call; tool arguments override them.
	Defaults harness.Options
	// Run defaults to harness.Run.
	Run    Runner
	Logger *slog.Logger
}

// QAReportInput are the qa_report tool arguments.
type QAReportInput struct {
	ProjectPath string   `json:"project_path,omitempty" jsonschema:"path to the target project, defaults to the server working directory"`
	Command     []string `json:"command,omitempty" jsonschema:"explicit start command for the target server"`
	FailFast    *bool    `json:"fail_fast,omitempty" jsonschema:"stop on first failure (default true)"`
	OutputPath  string   `json:"output_path,omitempty" jsonschema:"file or directory under project_path to write the report to"`
	Dialect     string   `json:"dialect,omitempty" jsonschema:"protocol dialect: capability or mcp"`
}

// PingInput takes no arguments.
type PingInput struct{}

type tools struct {
	cfg    Config
	logger *slog.Logger
}

// New builds the MCP server with the qa_report and ping tools registered.
func New(cfg Config) *mcp.Server {
	if cfg.Run == nil {
		cfg.Run = harness.Run
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	t := &tools{cfg: cfg, logger: log.Or(cfg.Logger, "mcpserver")}

	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: cfg.Version}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "qa_report", Description: qaReportDescription}, t.qaReport)
	mcp.AddTool(server, &mcp.Tool{Name: "ping", Description: "Health check tool. Returns ok."}, t.ping)
	return server
}

// Serve runs the MCP server on stdin/stdout until ctx ends or the peer
// disconnects.
func Serve(ctx context.Context, cfg Config) error {
	return New(cfg).Run(ctx, &mcp.StdioTransport{})
}

func (t *tools) ping(context.Context, *mcp.CallToolRequest, PingInput) (*mcp.CallToolResult, any, error) {
	return textResult("ok"), nil, nil
}

func (t *tools) qaReport(ctx context.Context, _ *mcp.CallToolRequest, in QAReportInput) (*mcp.CallToolResult, any, error) {
	opts := t.cfg.Defaults
	opts.Target = strings.TrimSpace(in.ProjectPath)
	if opts.Target == "" {
		opts.Target = "."
	}
	if len(in.Command) > 0 {
		opts.Command = in.Command
	}
	opts.FailFast = true
	if in.FailFast != nil {
		opts.FailFast = *in.FailFast
	}
	if in.Dialect != "" {
		opts.Dialect = in.Dialect
	}
	if opts.Logger == nil {
		opts.Logger = t.logger
	}

	t.logger.Info("qa_report called", "project_path", opts.Target, "command", opts.Command, "fail_fast", opts.FailFast)
	outcome, err := t.cfg.Run(ctx, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("qa run failed: %w", err)
	}
	text := report.Text(outcome.Results())

	output := strings.TrimSpace(in.OutputPath)
	if output == "" {
		return textResult(text), nil, nil
	}
	path, err := report.Write(opts.Target, output, ".txt", text)
	if err != nil {
		t.logger.Warn("report write failed", "output_path", output, "error", err)
		return textResult(fmt.Sprintf("Failed writing report to file: %v\n\nReport:\n%s", err, text)), nil, nil
	}
	return textResult("Wrote report to: " + path), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
