// Package tasks models runnable build tasks and executes them.
//
// A Task is an immutable description: its Command says what to run, the
// remaining fields are carried along unchanged when a rule specialises the
// command for one variant.
package tasks

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/conneroisu/sidepeek/internal/config"
)

// Source is the task source reported for tasks read from configuration.
const Source = "sidepeek"

// Task is a named command together with its presentation settings.
type Task struct {
	Definition      map[string]any
	Scope           string
	Name            string
	Source          string
	Command         Command
	ProblemMatchers []string
	Presentation    PresentationOptions
}

// Command is either a *ShellCommand or a *ProcessCommand.
type Command interface {
	commandOptions() Options
}

// ShellCommand runs CommandLine through a shell.
type ShellCommand struct {
	CommandLine string
	Options     Options
}

// ProcessCommand runs Process directly with Args.
type ProcessCommand struct {
	Process string
	Args    []string
	Options Options
}

func (c *ShellCommand) commandOptions() Options   { return c.Options }
func (c *ProcessCommand) commandOptions() Options { return c.Options }

// Options controls the process environment.
type Options struct {
	Cwd string
	Env map[string]string
	// Shell overrides the default shell for ShellCommand.
	Shell *Shell
}

type Shell struct {
	Executable string
	Args       []string
}

// PresentationOptions controls how task output is surfaced.
type PresentationOptions struct {
	// Echo logs the command line before it runs.
	Echo bool
	// Reveal is "always", "silent" or "never". Output is forwarded to the
	// runner's writer unless it is "never".
	Reveal string
}

// WithCommand returns a copy of t that runs cmd instead. The definition map
// and problem matchers are shared with t; neither is mutated after
// construction.
func (t *Task) WithCommand(cmd Command) *Task {
	clone := *t
	clone.Command = cmd
	return &clone
}

// Shell returns the shell command of t, or nil when t runs a process.
func (t *Task) Shell() *ShellCommand {
	shell, _ := t.Command.(*ShellCommand)
	return shell
}

// Dir returns the working directory t runs in, or "" for the current one.
func (t *Task) Dir() string {
	if t.Command == nil {
		return ""
	}
	return t.Command.commandOptions().Cwd
}

// Provider lists the tasks rules can refer to.
type Provider interface {
	Tasks(ctx context.Context) ([]*Task, error)
}

// Static is a fixed task list.
type Static []*Task

// Tasks implements Provider.
func (s Static) Tasks(context.Context) ([]*Task, error) {
	return s, nil
}

// ConfigProvider serves the tasks section of the configuration.
type ConfigProvider struct {
	tasks []*Task
}

// NewConfigProvider converts task definitions once. scope is recorded on
// every task, normally the directory of the configuration file.
func NewConfigProvider(defs config.TaskDefinitions, scope string) *ConfigProvider {
	tasks := make([]*Task, 0, len(defs))
	for _, def := range defs {
		tasks = append(tasks, FromDefinition(def, scope))
	}
	return &ConfigProvider{tasks: tasks}
}

// Tasks implements Provider.
func (p *ConfigProvider) Tasks(context.Context) ([]*Task, error) {
	return p.tasks, nil
}

// FromDefinition converts one configured task. The working directory
// defaults to scope and a relative cwd is resolved against it.
func FromDefinition(def config.TaskDefinition, scope string) *Task {
	opts := Options{Cwd: workingDir(def.Options.Cwd, scope), Env: def.Options.Env}
	if def.Options.Shell != nil {
		opts.Shell = &Shell{Executable: def.Options.Shell.Executable, Args: def.Options.Shell.Args}
	}

	var cmd Command
	if def.Type == "process" {
		cmd = &ProcessCommand{Process: def.Command, Args: def.Args, Options: opts}
	} else {
		line := def.Command
		if len(def.Args) > 0 {
			line = strings.TrimSpace(line + " " + strings.Join(def.Args, " "))
		}
		cmd = &ShellCommand{CommandLine: line, Options: opts}
	}

	definition := map[string]any{"type": def.Type, "label": def.Label}
	if def.Group != "" {
		definition["group"] = def.Group
	}

	return &Task{
		Definition:      definition,
		Scope:           scope,
		Name:            def.Label,
		Source:          Source,
		Command:         cmd,
		ProblemMatchers: def.ProblemMatcher,
		Presentation: PresentationOptions{
			Echo:   def.Presentation.Echo,
			Reveal: def.Presentation.Reveal,
		},
	}
}

func workingDir(cwd, scope string) string {
	switch {
	case cwd == "":
		return scope
	case filepath.IsAbs(cwd) || scope == "":
		return cwd
	default:
		return filepath.Join(scope, cwd)
	}
}
