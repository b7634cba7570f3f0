package tasks

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
)

// outputTail bounds how much output a Result keeps.
const outputTail = 16 * 1024

// Result describes a finished execution.
type Result struct {
	ExitCode int
	// Output holds the tail of the combined stdout and stderr.
	Output   string
	Duration time.Duration
	// Err is set when the process could not run or exited non-zero.
	Err error
	// Killed is set when the runner was closed before the task ended.
	Killed bool
	// Problems are the diagnostics found in Output.
	Problems []errors.Problem
}

// Success reports whether the task ran and exited zero.
func (r Result) Success() bool {
	return r.Err == nil
}

// Execution is a running or finished task. It completes exactly once.
type Execution struct {
	id     uint64
	task   *Task
	start  time.Time
	done   chan struct{}
	result Result
}

// ID identifies the execution within its runner.
func (e *Execution) ID() uint64 { return e.id }

// Task returns the task instance that was executed.
func (e *Execution) Task() *Task { return e.task }

// Done is closed when the execution ends.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Result returns the outcome. It is only meaningful after Done is closed.
func (e *Execution) Result() Result { return e.result }

// Wait blocks until the execution ends or ctx is done. Cancelling ctx does
// not stop the execution.
func (e *Execution) Wait(ctx context.Context) (Result, error) {
	select {
	case <-e.done:
		return e.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// EndEvent is published once per execution when it ends.
type EndEvent struct {
	Execution *Execution
}

type subscriber struct {
	ch   chan EndEvent
	done chan struct{}
}

// Runner starts task executions and publishes their completion.
type Runner struct {
	logger logging.Logger
	output io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextID  atomic.Uint64
	mu      sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithOutput forwards task output to w in addition to the logger.
func WithOutput(w io.Writer) RunnerOption {
	return func(r *Runner) { r.output = w }
}

// NewRunner creates a runner. Executions are killed when Close is called.
func NewRunner(logger logging.Logger, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		logger: logger.WithComponent("tasks"),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[uint64]*subscriber),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe returns the stream of task-ended events and a function that
// stops delivery. The channel is never closed. Events are dropped while the
// channel buffer is full.
func (r *Runner) Subscribe() (<-chan EndEvent, func()) {
	sub := &subscriber{ch: make(chan EndEvent, 16), done: make(chan struct{})}

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = sub
	r.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(sub.done)
		})
	}
}

// Execute starts task and returns without waiting for it. The execution is
// not bound to ctx: it outlives the request that started it.
func (r *Runner) Execute(ctx context.Context, task *Task) (*Execution, error) {
	if task == nil || task.Command == nil {
		return nil, errors.NewTaskError(errors.CodeTaskStart, "task has nothing to run", nil)
	}
	if err := r.ctx.Err(); err != nil {
		return nil, errors.NewTaskError(errors.CodeTaskStart, "runner is closed", err)
	}

	cmd, display, err := r.command(task)
	if err != nil {
		return nil, err
	}

	execution := &Execution{
		id:    r.nextID.Add(1),
		task:  task,
		start: time.Now(),
		done:  make(chan struct{}),
	}
	logger := r.logger.With("task", task.Name, "execution", execution.id)

	if task.Presentation.Echo {
		logger.Info(ctx, "Running task", "command", display)
	} else {
		logger.Debug(ctx, "Running task", "command", display)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		pr.Close()
		return nil, errors.NewTaskError(errors.CodeTaskStart,
			fmt.Sprintf("could not start task '%s'", task.Name), err)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		tail := &tailBuffer{limit: outputTail}
		copied := make(chan struct{})
		go func() {
			defer close(copied)
			r.pump(pr, tail, task, logger)
		}()

		waitErr := cmd.Wait()
		pw.Close()
		<-copied

		execution.result = Result{
			ExitCode: cmd.ProcessState.ExitCode(),
			Output:   tail.String(),
			Duration: time.Since(execution.start),
			Killed:   r.ctx.Err() != nil,
		}
		execution.result.Problems = problemsOf(execution.result.Output, waitErr == nil)
		if waitErr != nil {
			execution.result.Err = errors.NewTaskError(errors.CodeTaskFailed,
				fmt.Sprintf("task '%s' failed", task.Name), waitErr)
			logger.Warn(r.ctx, waitErr, "Task failed", "exit_code", execution.result.ExitCode)
		} else {
			logger.Debug(r.ctx, "Task finished", "duration_ms", execution.result.Duration.Milliseconds())
		}

		close(execution.done)
		r.publish(EndEvent{Execution: execution})
	}()

	return execution, nil
}

func (r *Runner) pump(src io.Reader, tail *tailBuffer, task *Task, logger logging.Logger) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		tail.WriteLine(line)
		logger.Debug(r.ctx, "Task output", "line", line)
		if r.output != nil && task.Presentation.Reveal != "never" {
			fmt.Fprintln(r.output, line)
		}
	}
	// drain so the process never blocks on a full pipe
	_, _ = io.Copy(io.Discard, src)
}

func (r *Runner) publish(event EndEvent) {
	r.mu.Lock()
	ids := make([]uint64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, r.subs[id])
	}
	r.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		case <-sub.done:
		default:
			r.logger.Debug(r.ctx, "Dropping end event for slow subscriber", "execution", event.Execution.ID())
		}
	}
}

func (r *Runner) command(task *Task) (*exec.Cmd, string, error) {
	var (
		cmd     *exec.Cmd
		display string
	)

	switch c := task.Command.(type) {
	case *ShellCommand:
		if c.CommandLine == "" {
			return nil, "", errors.NewTaskError(errors.CodeTaskNoCommand,
				fmt.Sprintf("Task '%s' must specify a command line", task.Name), nil)
		}
		shell, args := defaultShell()
		if c.Options.Shell != nil && c.Options.Shell.Executable != "" {
			shell, args = c.Options.Shell.Executable, c.Options.Shell.Args
		}
		cmd = exec.CommandContext(r.ctx, shell, append(append([]string{}, args...), c.CommandLine)...)
		display = c.CommandLine
	case *ProcessCommand:
		cmd = exec.CommandContext(r.ctx, c.Process, c.Args...)
		display = c.Process
	default:
		return nil, "", errors.NewTaskError(errors.CodeTaskNotShell,
			fmt.Sprintf("Task '%s' has an unknown command type", task.Name), nil)
	}

	// orphaned grandchildren must not keep Wait blocked on the output pipe
	cmd.WaitDelay = 2 * time.Second

	opts := task.Command.commandOptions()
	cmd.Dir = opts.Cwd
	if len(opts.Env) > 0 {
		env := os.Environ()
		keys := make([]string, 0, len(opts.Env))
		for k := range opts.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+opts.Env[k])
		}
		cmd.Env = env
	}
	return cmd, display, nil
}

func defaultShell() (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/d", "/c"}
	}
	return "/bin/sh", []string{"-c"}
}

// Close kills running executions and waits for them to be reported.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

// tailBuffer keeps the last limit bytes of written lines.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (t *tailBuffer) WriteLine(line string) {
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

// problemsOf extracts diagnostics from output. After a clean exit, error
// lines without a location are chatter rather than failures.
func problemsOf(output string, clean bool) []errors.Problem {
	problems := errors.ParseProblems(output)
	if !clean {
		return problems
	}
	kept := problems[:0]
	for _, p := range problems {
		if p.File != "" || p.Severity != errors.SeverityError {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
