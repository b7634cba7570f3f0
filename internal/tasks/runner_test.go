package tasks

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sidepeek/internal/config"
	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func shellTask(name, line string) *Task {
	return &Task{Name: name, Source: Source, Command: &ShellCommand{CommandLine: line}}
}

func newTestRunner(t *testing.T, opts ...RunnerOption) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests use a POSIX shell")
	}
	r := NewRunner(logging.NewNop(), opts...)
	t.Cleanup(r.Close)
	return r
}

func wait(t *testing.T, e *Execution) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := e.Wait(ctx)
	require.NoError(t, err)
	return result
}

func TestRunnerSuccess(t *testing.T) {
	out := &syncBuffer{}
	r := newTestRunner(t, WithOutput(out))

	e, err := r.Execute(context.Background(), shellTask("echo", "echo hello; echo world 1>&2"))
	require.NoError(t, err)

	result := wait(t, e)
	assert.True(t, result.Success())
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Output, "hello")
	assert.Contains(t, result.Output, "world")
	assert.Contains(t, out.String(), "hello")
}

func TestRunnerFailure(t *testing.T) {
	r := newTestRunner(t)

	e, err := r.Execute(context.Background(), shellTask("fail", "echo nope; exit 3"))
	require.NoError(t, err)

	result := wait(t, e)
	assert.False(t, result.Success())
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.Killed)
	assert.Equal(t, errors.ErrorTypeTask, errors.TypeOf(result.Err))
}

func TestRunnerProblems(t *testing.T) {
	r := newTestRunner(t)

	e, err := r.Execute(context.Background(), shellTask("typst", "echo 'error: unknown variable: x' >&2; echo '  ┌─ paper.typ:4:2' >&2; exit 1"))
	require.NoError(t, err)

	result := wait(t, e)
	require.Len(t, result.Problems, 1)
	assert.Equal(t, errors.Problem{
		File: "paper.typ", Line: 4, Column: 2,
		Severity: errors.SeverityError, Message: "unknown variable: x",
	}, result.Problems[0])
}

func TestProblemsOf(t *testing.T) {
	output := "0 errors found\nmain.typ:3:1: warning: unused\n"
	assert.Equal(t, []errors.Problem{
		{File: "main.typ", Line: 3, Column: 1, Severity: errors.SeverityWarning, Message: "unused"},
	}, problemsOf(output, true))
	assert.Len(t, problemsOf(output, false), 2)
	assert.Nil(t, problemsOf("done\n", true))
}

func TestRunnerRevealNever(t *testing.T) {
	out := &syncBuffer{}
	r := newTestRunner(t, WithOutput(out))

	task := shellTask("quiet", "echo hidden")
	task.Presentation.Reveal = "never"
	e, err := r.Execute(context.Background(), task)
	require.NoError(t, err)

	result := wait(t, e)
	assert.Contains(t, result.Output, "hidden")
	assert.Empty(t, out.String())
}

func TestRunnerOptions(t *testing.T) {
	r := newTestRunner(t)
	dir := t.TempDir()

	task := &Task{Name: "env", Command: &ShellCommand{
		CommandLine: `printf '%s' "$GREETING" > out.txt`,
		Options:     Options{Cwd: dir, Env: map[string]string{"GREETING": "hi"}},
	}}
	e, err := r.Execute(context.Background(), task)
	require.NoError(t, err)
	require.True(t, wait(t, e).Success())

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestRunnerUsesConfigDirectory(t *testing.T) {
	r := newTestRunner(t)
	scope, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(scope, "build"), 0o755))

	provider := NewConfigProvider(config.TaskDefinitions{
		{Label: "default", Type: "shell", Command: "pwd"},
		{Label: "dot", Type: "shell", Command: "pwd", Options: config.TaskOptions{Cwd: "."}},
		{Label: "nested", Type: "shell", Command: "pwd", Options: config.TaskOptions{Cwd: "build"}},
	}, scope)
	list, err := provider.Tasks(context.Background())
	require.NoError(t, err)

	want := map[string]string{
		"default": scope,
		"dot":     scope,
		"nested":  filepath.Join(scope, "build"),
	}
	for _, task := range list {
		e, err := r.Execute(context.Background(), task)
		require.NoError(t, err)
		result := wait(t, e)
		require.True(t, result.Success(), task.Name)
		assert.Equal(t, want[task.Name], strings.TrimSpace(result.Output), task.Name)
	}
}

func TestRunnerProcessCommand(t *testing.T) {
	r := newTestRunner(t)

	e, err := r.Execute(context.Background(), &Task{Name: "p", Command: &ProcessCommand{Process: "echo", Args: []string{"direct"}}})
	require.NoError(t, err)
	result := wait(t, e)
	assert.True(t, result.Success())
	assert.Equal(t, "direct\n", result.Output)
}

func TestRunnerRejectsEmptyCommand(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.Execute(context.Background(), shellTask("empty", ""))
	assert.Error(t, err)

	_, err = r.Execute(context.Background(), nil)
	assert.Error(t, err)

	_, err = r.Execute(context.Background(), &Task{Name: "missing", Command: &ProcessCommand{Process: "/definitely/not/here"}})
	assert.Error(t, err)
}

func TestRunnerEndEventsCorrelate(t *testing.T) {
	r := newTestRunner(t)

	events, unsubscribe := r.Subscribe()
	defer unsubscribe()

	slow, err := r.Execute(context.Background(), shellTask("slow", "sleep 0.2"))
	require.NoError(t, err)
	fast, err := r.Execute(context.Background(), shellTask("fast", "true"))
	require.NoError(t, err)

	seen := map[uint64]*Task{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-events:
			seen[ev.Execution.ID()] = ev.Execution.Task()
		case <-timeout:
			t.Fatal("timed out waiting for end events")
		}
	}

	assert.Same(t, slow.Task(), seen[slow.ID()])
	assert.Same(t, fast.Task(), seen[fast.ID()])
	assert.NotEqual(t, slow.ID(), fast.ID())
}

func TestRunnerUnsubscribeDoesNotBlock(t *testing.T) {
	r := newTestRunner(t)

	_, unsubscribe := r.Subscribe()
	unsubscribe()
	unsubscribe()

	e, err := r.Execute(context.Background(), shellTask("t", "true"))
	require.NoError(t, err)
	wait(t, e)
}

func TestRunnerIdleSubscriberDoesNotBlockClose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("runner tests use a POSIX shell")
	}
	r := NewRunner(logging.NewNop())
	_, unsubscribe := r.Subscribe()
	defer unsubscribe()

	for i := 0; i < 40; i++ {
		e, err := r.Execute(context.Background(), shellTask("t", "true"))
		require.NoError(t, err)
		wait(t, e)
	}

	closed := make(chan struct{})
	go func() {
		r.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a subscriber that never reads")
	}
}

func TestExecutionWaitHonoursContext(t *testing.T) {
	r := newTestRunner(t)

	e, err := r.Execute(context.Background(), shellTask("sleep", "sleep 2"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = e.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-e.Done():
		t.Fatal("execution must keep running after the waiter gives up")
	default:
	}
}

func TestRunnerCloseKillsExecutions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("runner tests use a POSIX shell")
	}
	r := NewRunner(logging.NewNop())

	e, err := r.Execute(context.Background(), shellTask("sleep", "sleep 30"))
	require.NoError(t, err)

	start := time.Now()
	r.Close()
	assert.Less(t, time.Since(start), 10*time.Second)

	select {
	case <-e.Done():
	default:
		t.Fatal("execution not finished after Close")
	}
	assert.False(t, e.Result().Success())
	assert.True(t, e.Result().Killed)

	_, err = r.Execute(context.Background(), shellTask("late", "true"))
	assert.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	tail := &tailBuffer{limit: 8}
	tail.WriteLine("abc")
	tail.WriteLine("defgh")
	assert.Equal(t, "c\ndefgh\n", tail.String())
	assert.True(t, strings.HasSuffix(tail.String(), "defgh\n"))
}
