package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/qacheck/internal/check"
	"github.com/mattjoyce/qacheck/internal/config"
	"github.com/mattjoyce/qacheck/internal/detect"
	"github.com/mattjoyce/qacheck/internal/fakeserver"
	"github.com/mattjoyce/qacheck/internal/harness"
	"github.com/mattjoyce/qacheck/internal/log"
	"github.com/mattjoyce/qacheck/internal/mcpserver"
	"github.com/mattjoyce/qacheck/internal/orchestrator"
	"github.com/mattjoyce/qacheck/internal/report"
	"github.com/mattjoyce/qacheck/internal/tui"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
	exitDefect = 3
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage(os.Stderr)
		return exitUsage
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "run":
		return runQA(args)
	case "serve":
		return runServe(args)
	case "detect":
		return runDetect(args)
	case "checks":
		return runChecks(args)
	case "fake-server":
		return runFakeServer(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return exitUsage
	}
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// splitCommand separates the arguments before "--" from the candidate argv.
func splitCommand(args []string) ([]string, []string) {
	for i, a := range args {
		if a == "--" {
			return args[:i], args[i+1:]
		}
	}
	return args, nil
}

// parseInterleaved parses flags that may appear before or after positional
// arguments and returns the positionals.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

type runFlags struct {
	configPath string
	failFast   bool
	timeout    time.Duration
	dialect    string
	checks     string
	format     string
	output     string
	watch      bool
	env        stringList
	logLevel   string
	logFormat  string
}

func newRunFlagSet(rf *runFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&rf.configPath, "config", "", "Path to a config file (default: <target>/.qacheck.yaml)")
	fs.BoolVar(&rf.failFast, "fail-fast", true, "Stop at the first failing check")
	fs.DurationVar(&rf.timeout, "timeout", 0, "Per-operation transport timeout")
	fs.StringVar(&rf.dialect, "dialect", "", "Protocol dialect: capability or mcp")
	fs.StringVar(&rf.checks, "checks", "", "Comma-separated check ids (default: all)")
	fs.StringVar(&rf.format, "format", "", "Report format: text, json or styled")
	fs.StringVar(&rf.output, "output", "", "Write the report to this file or directory under the target")
	fs.BoolVar(&rf.watch, "watch", false, "Show live progress while checks run")
	fs.Var(&rf.env, "env", "Extra KEY=VALUE for the candidate (repeatable)")
	fs.StringVar(&rf.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&rf.logFormat, "log-format", "", "Log format: text or json")
	return fs
}

// applyRunFlags overlays explicitly set flags onto cfg.
func applyRunFlags(fs *flag.FlagSet, rf *runFlags, cfg *config.Config, command []string) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "fail-fast":
			cfg.FailFast = rf.failFast
		case "timeout":
			cfg.Timeout = rf.timeout
		case "dialect":
			cfg.Dialect = rf.dialect
		case "checks":
			cfg.Checks = splitList(rf.checks)
		case "format":
			cfg.Report.Format = rf.format
		case "output":
			cfg.Report.Output = rf.output
		case "log-level":
			cfg.Log.Level = rf.logLevel
		case "log-format":
			cfg.Log.Format = rf.logFormat
		case "env":
			for _, kv := range rf.env {
				key, value, ok := strings.Cut(kv, "=")
				if !ok || key == "" {
					err = fmt.Errorf("--env expects KEY=VALUE, got %q", kv)
					return
				}
				cfg.Env[key] = value
			}
		}
	})
	if err != nil {
		return err
	}
	if len(command) > 0 {
		cfg.Command = command
	}
	return config.Validate(cfg)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runQA(args []string) int {
	if hasHelpFlag(args) {
		printRunHelp()
		return exitOK
	}

	var rf runFlags
	fs := newRunFlagSet(&rf)
	flagArgs, command := splitCommand(args)
	positional, err := parseInterleaved(fs, flagArgs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if len(positional) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: qacheck run [flags] [target] [-- command...]")
		return exitUsage
	}
	target := "."
	if len(positional) == 1 {
		target = positional[0]
	}

	cfg, err := config.LoadForTarget(target, rf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return exitUsage
	}
	if err := applyRunFlags(fs, &rf, cfg, command); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return exitUsage
	}

	logger := log.Setup(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if cfg.SourceFile != "" {
		logger.Debug("config loaded", "file", cfg.SourceFile, "digest", cfg.Digest)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := harness.FromConfig(cfg, target)
	opts.Logger = logger

	var outcome *harness.Outcome
	if rf.watch {
		outcome, err = tui.Run(ctx, opts, os.Stdin, os.Stderr)
	} else {
		outcome, err = harness.Run(ctx, opts)
	}

	var defect *orchestrator.DefectError
	switch {
	case errors.As(err, &defect):
		fmt.Fprintf(os.Stderr, "Harness defect: %v\n", defect)
		return exitDefect
	case outcome == nil && err != nil:
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return exitUsage
	case err != nil:
		fmt.Fprintf(os.Stderr, "Run interrupted: %v\n", err)
	}

	if code := emitReport(cfg, target, outcome); code != exitOK {
		return code
	}
	if err != nil || outcome.Failed() {
		return exitFailed
	}
	return exitOK
}

func emitReport(cfg *config.Config, target string, outcome *harness.Outcome) int {
	rendered, err := report.Render(cfg.Report.Format, outcome.Document)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Report error: %v\n", err)
		return exitUsage
	}

	if cfg.Report.Output != "" {
		path, err := report.Write(target, cfg.Report.Output, report.Extension(cfg.Report.Format), rendered)
		if err == nil {
			fmt.Printf("Wrote report to: %s\n", path)
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Failed writing report to file: %v\n", err)
	}
	fmt.Println(rendered)
	return exitOK
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 0, "Per-operation transport timeout for qa_report runs")
	dialect := fs.String("dialect", "", "Default protocol dialect for qa_report runs")
	logLevel := fs.String("log-level", "info", "Log level (logs go to stderr)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: qacheck serve [--timeout d] [--dialect d] [--log-level l]")
		return exitUsage
	}

	logger := log.Setup(log.Options{Level: *logLevel, Format: "json"})
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("serving MCP over stdio", "version", currentVersionInfo().Version)
	err := mcpserver.Serve(ctx, mcpserver.Config{
		Version:  currentVersionInfo().Version,
		Defaults: harness.Options{Timeout: *timeout, Dialect: *dialect},
		Logger:   logger,
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		logger.Error("mcp server stopped", "error", err)
		return exitFailed
	}
	return exitOK
}

func runDetect(args []string) int {
	fs := flag.NewFlagSet("detect", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output the detection as JSON")
	positional, err := parseInterleaved(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if len(positional) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: qacheck detect [--json] [target]")
		return exitUsage
	}
	target := "."
	if len(positional) == 1 {
		target = positional[0]
	}

	d, ok := detect.Detect(target)
	if !ok {
		fmt.Fprintf(os.Stderr, "No start command detected in %s\n", target)
		return exitFailed
	}

	if *jsonOut {
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render detection JSON: %v\n", err)
			return exitFailed
		}
		fmt.Println(string(data))
		return exitOK
	}
	fmt.Printf("command: %s\n", strings.Join(d.Command, " "))
	fmt.Printf("source:  %s (%s)\n", d.Source, d.File)
	return exitOK
}

func runChecks(args []string) int {
	fs := flag.NewFlagSet("checks", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output the check list as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}

	infos := check.Describe()
	if *jsonOut {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render checks JSON: %v\n", err)
			return exitFailed
		}
		fmt.Println(string(data))
		return exitOK
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\n", info.ID, info.Name)
	}
	_ = w.Flush()
	return exitOK
}

func runFakeServer(args []string) int {
	fs := flag.NewFlagSet("fake-server", flag.ContinueOnError)
	mode := fs.String("mode", "healthy", "Behaviour preset: "+strings.Join(fakeserver.Presets(), ", "))
	dialect := fs.String("dialect", "", "Protocol dialect: capability or mcp")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	script, err := fakeserver.Build(*mode, *dialect)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	log.Setup(log.Options{Level: "error"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fakeserver.Run(ctx, script)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: qacheck version [--json]")
		return exitUsage
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return exitFailed
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("qacheck %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func hasHelpFlag(args []string) bool {
	flagArgs, _ := splitCommand(args)
	for _, a := range flagArgs {
		if a == "-h" || a == "--help" || a == "help" {
			return true
		}
	}
	return false
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `qacheck - conformance checks for stdio JSON-RPC servers

Usage:
  qacheck <command> [flags]

Commands:
  run [target] [-- cmd...]  Launch the server and run the checks
  serve                     Serve the qa_report and ping tools over MCP stdio
  detect [target]           Show the start command qacheck would use
  checks                    List the available checks
  fake-server               Run a scripted test server on stdio
  version                   Show version information
  help                      Show this help message

Exit codes:
  0  all checks passed or warned
  1  at least one check failed
  2  usage or configuration error
  3  harness defect

Use 'qacheck run --help' for run flags.
`)
}

func printRunHelp() {
	fmt.Print(`Usage: qacheck run [flags] [target] [-- command...]

Launches the server in target (default ".") and runs the checks against it.
Without an explicit command after "--", the start command is detected from
.vscode/mcp.json, mcp.json, pyproject.toml, package.json or go.mod.

Flags:
  --config PATH       Config file (default: <target>/.qacheck.yaml)
  --fail-fast         Stop at the first failing check (default true)
  --timeout DURATION  Per-operation transport timeout (default 5s)
  --dialect NAME      capability (default) or mcp
  --checks IDS        Comma-separated check ids (see 'qacheck checks')
  --format FORMAT     text (default), json or styled
  --output PATH       Write the report under target instead of stdout
  --watch             Show live progress on stderr
  --env KEY=VALUE     Extra environment for the server (repeatable)
  --log-level LEVEL   debug, info, warn (default) or error
  --log-format FORMAT text (default) or json

Environment:
  QACHECK_TIMEOUT, QACHECK_FAIL_FAST, QACHECK_DIALECT, QACHECK_COMMAND,
  QACHECK_CHECKS, QACHECK_LOG_LEVEL, QACHECK_LOG_FORMAT,
  QACHECK_REPORT_FORMAT, QACHECK_OUTPUT
`)
}
