// Package process supervises a candidate server subprocess.
//
// A Runner spawns the candidate with piped stdin/stdout for protocol traffic
// and drains stderr concurrently into a bounded ring of lines so a chatty or
// crashing server never blocks the request/response flow.
//
// Termination is escalating and best effort:
//   - stdin is closed first so a well-behaved server exits on EOF
//   - after ExitGrace, SIGTERM is sent
//   - after KillGrace, SIGKILL is sent
//   - the stderr drain goroutine is always stopped and awaited
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/qacheck/internal/log"
)

const (
	// DefaultStderrCapacity is the number of stderr lines retained.
	DefaultStderrCapacity = 200

	// DefaultTailLines is the number of lines StderrTail returns by default.
	DefaultTailLines = 20

	// DefaultExitGrace is how long we wait for a natural exit after closing stdin.
	DefaultExitGrace = 1 * time.Second

	// DefaultKillGrace is how long we wait after SIGTERM before sending SIGKILL.
	DefaultKillGrace = 1 * time.Second

	// SearchPathVar is the module search path variable augmented at launch.
	SearchPathVar = "PYTHONPATH"

	sourceDirName = "src"

	// drainGrace bounds how long we wait for stderr EOF once the process is gone.
	// A grandchild holding the pipe open would otherwise keep the drain alive.
	drainGrace = 500 * time.Millisecond

	// maxLineBytes caps a single captured stderr line.
	maxLineBytes = 64 * 1024
)

// LaunchError is returned when the candidate cannot be spawned.
type LaunchError struct {
	Command []string
	Dir     string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %q in %q: %v", strings.Join(e.Command, " "), e.Dir, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Config describes how to launch a candidate.
type Config struct {
	Command []string
	Dir     string
	Env     []string // extra KEY=VALUE entries appended to the inherited environment

	ExitGrace      time.Duration
	KillGrace      time.Duration
	StderrCapacity int
}

// Runner owns one candidate subprocess and its streams.
type Runner struct {
	cfg    Config
	logger *slog.Logger
	tail   *lineRing

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	stderr  *os.File
	exited  chan struct{}
	drained chan struct{}
}

// NewRunner creates a Runner. A nil logger uses the process default.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.ExitGrace <= 0 {
		cfg.ExitGrace = DefaultExitGrace
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Runner{
		cfg:    cfg,
		logger: log.Or(logger, "process"),
		tail:   newLineRing(cfg.StderrCapacity),
	}
}

// Start spawns the candidate. It is a no-op while the process is running.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cmd != nil && !isClosed(r.exited) {
		return nil
	}
	if len(r.cfg.Command) == 0 {
		return &LaunchError{Dir: r.cfg.Dir, Err: errors.New("empty command")}
	}

	// Don't use CommandContext - termination is managed by Terminate.
	cmd := exec.Command(r.cfg.Command[0], r.cfg.Command[1:]...)
	cmd.Dir = r.cfg.Dir
	cmd.Env = BuildEnv(os.Environ(), r.cfg.Dir, r.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return r.launchErr(fmt.Errorf("create stdin pipe: %w", err))
	}

	// Own the read ends: exec would close StdoutPipe/StderrPipe readers on
	// Wait, dropping output the transport has not consumed yet.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return r.launchErr(fmt.Errorf("create stdout pipe: %w", err))
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return r.launchErr(fmt.Errorf("create stderr pipe: %w", err))
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		r.logger.Error("failed to start candidate", "command", r.cfg.Command, "dir", r.cfg.Dir, "error", err)
		return r.launchErr(err)
	}
	// The child holds its own copies; ours would keep the pipes from reaching EOF.
	closeAll(stdoutW, stderrW)

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	drained := make(chan struct{})
	go r.drain(stderrR, drained)

	r.cmd = cmd
	r.stdin = stdin
	r.stdout = stdoutR
	r.stderr = stderrR
	r.exited = exited
	r.drained = drained

	r.logger.Debug("candidate started", "pid", cmd.Process.Pid, "dir", r.cfg.Dir, "command", r.cfg.Command)
	return nil
}

func (r *Runner) launchErr(err error) error {
	return &LaunchError{Command: r.cfg.Command, Dir: r.cfg.Dir, Err: err}
}

// drain copies stderr into the tail ring line by line until EOF or close.
func (r *Runner) drain(f *os.File, done chan<- struct{}) {
	defer close(done)

	br := bufio.NewReader(f)
	var pending []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if room := maxLineBytes - len(pending); room > 0 {
			pending = append(pending, chunk[:min(len(chunk), room)]...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if len(pending) > 0 {
			r.tail.push(cleanLine(pending))
			pending = pending[:0]
		}
		if err != nil {
			return
		}
	}
}

func cleanLine(b []byte) string {
	s := strings.TrimRight(string(b), "\r\n")
	return strings.ToValidUTF8(s, "�")
}

// Stdin returns the candidate's input stream, or nil before Start.
func (r *Runner) Stdin() io.WriteCloser {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdin
}

// Stdout returns the candidate's output stream, or nil before Start.
func (r *Runner) Stdout() io.Reader {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stdout == nil {
		return nil
	}
	return r.stdout
}

// Pid returns the process id, or 0 when not running.
func (r *Runner) Pid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return 0
	}
	return r.cmd.Process.Pid
}

// Running reports whether the candidate has been started and not yet exited.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil && !isClosed(r.exited)
}

// StderrTail returns the newest n captured stderr lines joined by newlines.
// n <= 0 selects DefaultTailLines. Safe to call after Terminate.
func (r *Runner) StderrTail(n int) string {
	if n <= 0 {
		n = DefaultTailLines
	}
	return r.tail.joined(n)
}

// Terminate stops the candidate and releases its streams. It is idempotent and
// never fails: cleanup errors are logged at debug level and swallowed.
func (r *Runner) Terminate() {
	r.mu.Lock()
	cmd, stdin, stdout, stderr := r.cmd, r.stdin, r.stdout, r.stderr
	exited, drained := r.exited, r.drained
	r.cmd, r.stdin, r.stdout, r.stderr = nil, nil, nil, nil
	r.mu.Unlock()

	if cmd == nil {
		return
	}
	pid := cmd.Process.Pid
	r.logger.Debug("terminating candidate", "pid", pid)

	if err := stdin.Close(); err != nil {
		r.logger.Debug("close stdin", "pid", pid, "error", err)
	}

	if !waitFor(exited, r.cfg.ExitGrace) {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			r.logger.Debug("failed to send SIGTERM", "pid", pid, "error", err)
		}
		if !waitFor(exited, r.cfg.KillGrace) {
			r.logger.Warn("candidate did not exit after SIGTERM, sending SIGKILL", "pid", pid)
			if err := cmd.Process.Kill(); err != nil {
				r.logger.Debug("failed to send SIGKILL", "pid", pid, "error", err)
			}
			waitFor(exited, r.cfg.KillGrace)
		}
	}

	if !waitFor(drained, drainGrace) {
		_ = stderr.Close()
		<-drained
	}
	closeAll(stderr, stdout)
}

// BuildEnv returns base plus extra, with SearchPathVar prefixed by the
// project's source directory when dir/src exists.
func BuildEnv(base []string, dir string, extra []string) []string {
	env := make([]string, 0, len(base)+len(extra)+1)
	env = append(env, base...)
	env = append(env, extra...)

	src := filepath.Join(dir, sourceDirName)
	if abs, err := filepath.Abs(src); err == nil {
		src = abs
	}
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return env
	}

	value := src
	if existing := lookupEnv(env, SearchPathVar); existing != "" {
		value += string(os.PathListSeparator) + existing
	}
	// exec keeps the last duplicate key, so appending overrides.
	return append(env, SearchPathVar+"="+value)
}

func lookupEnv(env []string, key string) string {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return strings.TrimPrefix(env[i], prefix)
		}
	}
	return ""
}

func waitFor(ch <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
