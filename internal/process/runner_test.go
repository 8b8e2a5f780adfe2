package process

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/qacheck/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup(log.Options{Level: "ERROR"}) // Suppress logs in tests
	os.Exit(m.Run())
}

func shRunner(t *testing.T, script string) *Runner {
	t.Helper()
	r := NewRunner(Config{
		Command:   []string{"sh", "-c", script},
		Dir:       t.TempDir(),
		ExitGrace: 200 * time.Millisecond,
		KillGrace: 200 * time.Millisecond,
	}, log.Discard())
	t.Cleanup(r.Terminate)
	return r
}

func TestRunner_EchoesStdinToStdout(t *testing.T) {
	r := shRunner(t, `read line; echo "got:$line"; cat >/dev/null`)
	require.NoError(t, r.Start())
	assert.True(t, r.Running())
	assert.NotZero(t, r.Pid())

	_, err := fmt.Fprintln(r.Stdin(), "hello")
	require.NoError(t, err)

	line, err := bufio.NewReader(r.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "got:hello\n", line)
}

func TestRunner_CapturesStderrTail(t *testing.T) {
	r := shRunner(t, `for i in 1 2 3 4 5; do echo "err $i" >&2; done; cat >/dev/null`)
	require.NoError(t, r.Start())

	require.Eventually(t, func() bool {
		return strings.HasSuffix(r.StderrTail(0), "err 5")
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "err 4\nerr 5", r.StderrTail(2))

	r.Terminate()
	assert.False(t, r.Running())
	assert.Equal(t, "err 1\nerr 2\nerr 3\nerr 4\nerr 5", r.StderrTail(0), "tail survives termination")
}

func TestRunner_StderrAvailableAfterCrash(t *testing.T) {
	r := shRunner(t, `echo "Traceback: boom" >&2; exit 3`)
	require.NoError(t, r.Start())

	// Stdout reaches EOF once the process is gone.
	_, err := bufio.NewReader(r.Stdout()).ReadString('\n')
	assert.Error(t, err)

	r.Terminate()
	assert.Equal(t, "Traceback: boom", r.StderrTail(0))
}

func TestRunner_EmptyTail(t *testing.T) {
	r := shRunner(t, `cat >/dev/null`)
	require.NoError(t, r.Start())
	r.Terminate()
	assert.Equal(t, "", r.StderrTail(20))
}

func TestRunner_LaunchError(t *testing.T) {
	r := NewRunner(Config{Command: []string{filepath.Join(t.TempDir(), "does-not-exist")}}, log.Discard())
	err := r.Start()

	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr), "expected LaunchError, got %v", err)
	assert.Contains(t, launchErr.Error(), "does-not-exist")
	assert.False(t, r.Running())

	// Terminate after a failed start is a no-op.
	r.Terminate()
}

func TestRunner_EmptyCommand(t *testing.T) {
	err := NewRunner(Config{}, log.Discard()).Start()
	var launchErr *LaunchError
	assert.True(t, errors.As(err, &launchErr))
}

func TestRunner_StartIsIdempotentWhileRunning(t *testing.T) {
	r := shRunner(t, `cat >/dev/null`)
	require.NoError(t, r.Start())
	pid := r.Pid()
	require.NoError(t, r.Start())
	assert.Equal(t, pid, r.Pid())
}

func TestRunner_TerminateIsIdempotent(t *testing.T) {
	r := shRunner(t, `cat >/dev/null`)
	require.NoError(t, r.Start())

	r.Terminate()
	r.Terminate()
	assert.False(t, r.Running())
	assert.Nil(t, r.Stdin())
	assert.Nil(t, r.Stdout())
}

func TestRunner_TerminateBeforeStart(t *testing.T) {
	r := NewRunner(Config{Command: []string{"true"}}, nil)
	r.Terminate()
	assert.Equal(t, 0, r.Pid())
}

func TestRunner_KillsProcessIgnoringTerm(t *testing.T) {
	r := shRunner(t, `trap '' TERM; echo ready >&2; while :; do sleep 0.05; done`)
	require.NoError(t, r.Start())
	require.Eventually(t, func() bool { return r.StderrTail(1) == "ready" }, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	r.Terminate()
	assert.False(t, r.Running())
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestRunner_PassesExtraEnv(t *testing.T) {
	r := NewRunner(Config{
		Command: []string{"sh", "-c", `echo "$QACHECK_PROBE"; cat >/dev/null`},
		Env:     []string{"QACHECK_PROBE=present"},
	}, log.Discard())
	t.Cleanup(r.Terminate)
	require.NoError(t, r.Start())

	line, err := bufio.NewReader(r.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "present\n", line)
}

func TestBuildEnv(t *testing.T) {
	t.Run("no src directory", func(t *testing.T) {
		dir := t.TempDir()
		env := BuildEnv([]string{"A=1"}, dir, []string{"B=2"})
		assert.Equal(t, []string{"A=1", "B=2"}, env)
	})

	t.Run("src prefixes search path", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o755))

		env := BuildEnv([]string{SearchPathVar + "=/existing"}, dir, nil)
		want := SearchPathVar + "=" + filepath.Join(dir, "src") + string(os.PathListSeparator) + "/existing"
		assert.Equal(t, want, env[len(env)-1])
	})

	t.Run("src without existing search path", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o755))

		env := BuildEnv(nil, dir, nil)
		assert.Equal(t, []string{SearchPathVar + "=" + filepath.Join(dir, "src")}, env)
	})

	t.Run("src file is ignored", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "src"), nil, 0o644))
		assert.Empty(t, BuildEnv(nil, dir, nil))
	})
}

func TestRunner_SearchPathVisibleToChild(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "src"), 0o755))

	r := NewRunner(Config{
		Command: []string{"sh", "-c", `echo "$` + SearchPathVar + `"; cat >/dev/null`},
		Dir:     dir,
	}, log.Discard())
	t.Cleanup(r.Terminate)
	require.NoError(t, r.Start())

	line, err := bufio.NewReader(r.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, filepath.Join(dir, "src")), "got %q", line)
}
