package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/store"
	"github.com/conneroisu/sidepeek/internal/tasks"
)

const projectYAML = `
rules:
  copy:
    task: copy
    output: "{{dir}}/out/{{name}}.{{format}}"
    variants:
      html: html
      txt: txt
  broken:
    input: \.bad$
    task: fail
    variants:
      html: html
tasks:
  copy:
    command: mkdir -p {{dir}}/out && cp {{input}} {{output}}
  fail:
    command: exit 3
store:
  path: %s
`

type project struct {
	dir    string
	config string
	store  string
}

func newProject(t *testing.T) *project {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tasks run through /bin/sh")
	}
	dir := t.TempDir()
	p := &project{
		dir:    dir,
		config: filepath.Join(dir, ".sidepeek.yml"),
		store:  filepath.Join(dir, ".sidepeek", "choices.db"),
	}
	require.NoError(t, os.WriteFile(p.config, []byte(fmt.Sprintf(projectYAML, p.store)), 0o644))
	t.Cleanup(viper.Reset)
	return p
}

func (p *project) source(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(p.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes the root command with args and returns stdout and stderr.
func (p *project) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", p.config}, args...))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRulesCommand(t *testing.T) {
	p := newProject(t)
	src := p.source(t, "paper.md", "hello")

	stdout, _, err := p.run(t, "rules", src, "-o", "json")
	require.NoError(t, err)

	var rows []RuleRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "copy: html", rows[0].Label)
	assert.Equal(t, filepath.Join(p.dir, "out", "paper.html"), rows[0].Output)
	assert.Contains(t, rows[0].Command, "cp "+src)
	assert.Equal(t, "copy: txt", rows[1].Label)
	assert.False(t, rows[0].Selected)

	stdout, _, err = p.run(t, "rules", src, "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Label")
	assert.Contains(t, stdout, "Command")
	assert.Contains(t, stdout, "copy: txt")
}

func TestRulesCommandNoMatch(t *testing.T) {
	p := newProject(t)
	src := p.source(t, "notes.txt", "hello")

	stdout, stderr, err := p.run(t, "rules", src, "-o", "table")
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "No rule matches")
}

func TestBuildCommand(t *testing.T) {
	p := newProject(t)
	src := p.source(t, "paper.md", "hello")

	_, stderr, err := p.run(t, "build", src, "--rule", "copy: txt")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Built")

	data, err := os.ReadFile(filepath.Join(p.dir, "out", "paper.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// The choice is remembered for the next run.
	stdout, _, err := p.run(t, "rules", src, "-o", "json")
	require.NoError(t, err)
	var rows []RuleRow
	require.NoError(t, json.Unmarshal([]byte(stdout), &rows))
	require.Len(t, rows, 2)
	assert.True(t, rows[1].Selected)
}

func TestBuildCommandExitStatus(t *testing.T) {
	p := newProject(t)
	src := p.source(t, "paper.bad", "hello")

	_, stderr, err := p.run(t, "build", src, "--rule", "")
	require.Error(t, err)
	assert.Equal(t, 3, ExitCode(err))
	assert.Contains(t, stderr, "Build broken: html failed")
}

func TestBuildCommandNoRule(t *testing.T) {
	p := newProject(t)
	src := p.source(t, "notes.txt", "hello")

	_, stderr, err := p.run(t, "build", src, "--rule", "")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, stderr, "No rule matches")
}

func TestBuildCommandMissingFile(t *testing.T) {
	p := newProject(t)

	_, _, err := p.run(t, "build", filepath.Join(p.dir, "missing.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
}

func TestDisconnectCommand(t *testing.T) {
	p := newProject(t)
	src := p.source(t, "paper.md", "hello")

	db, err := store.Open(p.store)
	require.NoError(t, err)
	require.NoError(t, db.Put(src, "copy: txt"))
	require.NoError(t, db.Close())

	stdout, _, err := p.run(t, "disconnect", src)
	require.NoError(t, err)
	assert.Contains(t, stdout, `Forgot "copy: txt"`)

	stdout, _, err = p.run(t, "disconnect", src)
	require.NoError(t, err)
	assert.Contains(t, stdout, "No rule remembered")
}

func TestVersionCommand(t *testing.T) {
	p := newProject(t)

	stdout, _, err := p.run(t, "version", "--format", "json")
	require.NoError(t, err)

	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Contains(t, info, "version")
	assert.Contains(t, info, "platform")
	versionFormat = "text"
}

func TestFlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		check   func() error
		wantErr bool
	}{
		{"port zero", func() error { return ValidatePort("0") }, false},
		{"port max", func() error { return ValidatePort("65535") }, false},
		{"port too big", func() error { return ValidatePort("65536") }, true},
		{"port negative", func() error { return ValidatePort("-1") }, true},
		{"port not a number", func() error { return ValidatePort("http") }, true},
		{"choice", func() error { return ValidateChoice("json", []string{"table", "json"}) }, false},
		{"bad choice", func() error { return ValidateChoice("yaml", []string{"table", "json"}) }, true},
		{"file", func() error { return ValidateFileExists("cmd_test.go") }, false},
		{"directory", func() error { return ValidateFileExists(".") }, true},
		{"missing file", func() error { return ValidateFileExists("missing.md") }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServiceError(t *testing.T) {
	assert.NoError(t, serviceError(nil))

	err := serviceError(errors.ErrCancelled)
	assert.True(t, isExit(err))
	assert.Equal(t, 1, ExitCode(err))

	err = serviceError(errors.NewSelectionRequiredError("/a.md", []string{"copy: html", "copy: txt"}))
	assert.False(t, isExit(err))
	assert.Equal(t, `several rules match, choose one with --rule: "copy: html", "copy: txt"`, err.Error())

	err = serviceError(errors.NewNoRuleError("/a.md"))
	assert.True(t, isExit(err))

	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 4, ExitCode(reported(4, nil)))
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestReportBuilds(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("tasks run through /bin/sh")
	}
	var out lockedBuffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelInfo, Output: &out})
	runner := tasks.NewRunner(logging.NewNop())
	defer runner.Close()

	reporter := reportBuilds(runner, logger)
	defer reporter.Close()

	e, err := runner.Execute(context.Background(), &tasks.Task{
		Name:    "typst",
		Command: &tasks.ShellCommand{CommandLine: "echo 'paper.typ:3:1: error: unknown variable'; exit 1"},
	})
	require.NoError(t, err)
	<-e.Done()

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Build finished"))
	}, 5*time.Second, 20*time.Millisecond)
	line := out.String()
	assert.Contains(t, line, "task=typst")
	assert.Contains(t, line, "exit_code=1")
	assert.Contains(t, line, "problems=1")
}
