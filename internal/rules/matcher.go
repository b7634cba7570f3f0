// Package rules expands configured rule definitions into concrete,
// per-variant build rules and remembers which rule a source file uses.
package rules

import (
	"context"
	"fmt"

	"github.com/conneroisu/sidepeek/internal/config"
	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/substitute"
	"github.com/conneroisu/sidepeek/internal/tasks"
)

// Rule is a build directive for one source file and one variant.
type Rule struct {
	// Label is "<rule name>: <variant name>".
	Label  string
	Task   *tasks.Task
	Output string
}

// Labels returns the label of every rule in order.
func Labels(rules []Rule) []string {
	labels := make([]string, len(rules))
	for i, r := range rules {
		labels[i] = r.Label
	}
	return labels
}

// Matcher expands rule definitions for a path.
type Matcher struct {
	defs     config.RuleDefinitions
	provider tasks.Provider
	notifier notify.Notifier
	logger   logging.Logger
}

// NewMatcher returns a matcher over defs resolving task names through
// provider. Resolution problems go to notifier unless the context carries
// its own.
func NewMatcher(defs config.RuleDefinitions, provider tasks.Provider, notifier notify.Notifier, logger logging.Logger) *Matcher {
	return &Matcher{
		defs:     defs,
		provider: provider,
		notifier: notifier,
		logger:   logger.WithComponent("rules"),
	}
}

// Definitions returns the rule definitions the matcher expands.
func (m *Matcher) Definitions() config.RuleDefinitions {
	return m.defs
}

// Match returns every rule applying to path, in definition order and then
// variant order. A definition whose task cannot be resolved is reported and
// skipped.
func (m *Matcher) Match(ctx context.Context, path string) ([]Rule, error) {
	if len(m.defs) == 0 {
		return nil, nil
	}

	var (
		available []*tasks.Task
		fetched   bool
		rules     []Rule
	)

	for _, def := range m.defs {
		if def.Input == nil {
			continue
		}
		match := def.Input.FindStringSubmatchIndex(path)
		if match == nil {
			continue
		}

		if !fetched {
			var err error
			available, err = m.provider.Tasks(ctx)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeTask, errors.CodeTaskMissing, "could not list tasks")
			}
			fetched = true
		}

		task := m.resolveTask(ctx, def.Task, available)
		if task == nil {
			continue
		}

		values := captureGroups(def, path, match).
			Merge(substitute.PathValues(path)).
			Merge(substitute.Of("input", path))

		shell := task.Shell()
		command := substitute.Substitute(shell.CommandLine, values)
		output := substitute.Substitute(def.Output, values)

		for _, variant := range def.Variants {
			variantValues := substitute.Of("variant", variant.Name, "format", variant.Format)
			variantOutput := substitute.Substitute(output, variantValues)
			variantCommand := substitute.Substitute(command,
				substitute.Of("output", variantOutput).Merge(variantValues))

			rules = append(rules, Rule{
				Label:  fmt.Sprintf("%s: %s", def.Name, variant.Name),
				Task:   task.WithCommand(&tasks.ShellCommand{CommandLine: variantCommand, Options: shell.Options}),
				Output: variantOutput,
			})
		}
	}

	m.logger.Debug(ctx, "Matched rules", "path", path, "count", len(rules))
	return rules, nil
}

// captureGroups binds every named group of the input pattern. A group that
// did not take part in the match is bound to the empty string.
func captureGroups(def config.RuleDefinition, path string, match []int) substitute.Values {
	var values substitute.Values
	for i, name := range def.Input.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		value := ""
		if start, end := match[2*i], match[2*i+1]; start >= 0 {
			value = path[start:end]
		}
		values = values.Set(name, value)
	}
	return values
}

// resolveTask returns the first task called name that runs a non-empty shell
// command line. Unusable candidates are reported and skipped.
func (m *Matcher) resolveTask(ctx context.Context, name string, available []*tasks.Task) *tasks.Task {
	notifier := notify.FromContext(ctx, m.notifier)

	for _, task := range available {
		if task.Name != name {
			continue
		}
		shell := task.Shell()
		if shell == nil {
			m.report(ctx, notifier, errors.NewTaskError(errors.CodeTaskNotShell,
				fmt.Sprintf("Task '%s' must be of type shell", name), nil))
			continue
		}
		if shell.CommandLine == "" {
			m.report(ctx, notifier, errors.NewTaskError(errors.CodeTaskNoCommand,
				fmt.Sprintf("Task '%s' must specify a command line", name), nil))
			continue
		}
		return task
	}

	m.report(ctx, notifier, errors.NewTaskError(errors.CodeTaskMissing,
		fmt.Sprintf("No valid task for '%s'", name), nil))
	return nil
}

func (m *Matcher) report(ctx context.Context, notifier notify.Notifier, err *errors.SidepeekError) {
	m.logger.Warn(ctx, err, "Task resolution failed")
	notifier.Error(ctx, errors.UserMessage(err))
}
