package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sidepeek/internal/config"
)

func TestFromDefinition(t *testing.T) {
	shell := FromDefinition(config.TaskDefinition{
		Label:          "pandoc",
		Type:           "shell",
		Command:        "pandoc {{input}}",
		Args:           []string{"-o", "{{output}}"},
		Options:        config.TaskOptions{Cwd: "/work", Env: map[string]string{"A": "1"}},
		ProblemMatcher: []string{"$pandoc"},
		Presentation:   config.PresentationConfig{Echo: true, Reveal: "silent"},
		Group:          "build",
	}, "/work")

	assert.Equal(t, "pandoc", shell.Name)
	assert.Equal(t, Source, shell.Source)
	assert.Equal(t, "/work", shell.Scope)
	assert.Equal(t, "build", shell.Definition["group"])
	assert.Equal(t, []string{"$pandoc"}, shell.ProblemMatchers)
	assert.Equal(t, PresentationOptions{Echo: true, Reveal: "silent"}, shell.Presentation)
	require.NotNil(t, shell.Shell())
	assert.Equal(t, "pandoc {{input}} -o {{output}}", shell.Shell().CommandLine)
	assert.Equal(t, "/work", shell.Shell().Options.Cwd)

	process := FromDefinition(config.TaskDefinition{Label: "make", Type: "process", Command: "make", Args: []string{"pdf"}}, "")
	assert.Nil(t, process.Shell())
	cmd, ok := process.Command.(*ProcessCommand)
	require.True(t, ok)
	assert.Equal(t, "make", cmd.Process)
	assert.Equal(t, []string{"pdf"}, cmd.Args)
}

func TestWithCommand(t *testing.T) {
	original := &Task{
		Definition:      map[string]any{"type": "shell"},
		Scope:           "/work",
		Name:            "pandoc",
		Source:          Source,
		Command:         &ShellCommand{CommandLine: "pandoc {{input}}", Options: Options{Cwd: "/work"}},
		ProblemMatchers: []string{"$x"},
		Presentation:    PresentationOptions{Echo: true},
	}

	variant := original.WithCommand(&ShellCommand{CommandLine: "pandoc a.md", Options: original.Shell().Options})

	assert.NotSame(t, original, variant)
	assert.Equal(t, "pandoc {{input}}", original.Shell().CommandLine)
	assert.Equal(t, "pandoc a.md", variant.Shell().CommandLine)
	assert.Equal(t, original.Name, variant.Name)
	assert.Equal(t, original.Scope, variant.Scope)
	assert.Equal(t, original.Source, variant.Source)
	assert.Equal(t, original.Definition, variant.Definition)
	assert.Equal(t, original.ProblemMatchers, variant.ProblemMatchers)
	assert.Equal(t, original.Presentation, variant.Presentation)
	assert.Equal(t, "/work", variant.Shell().Options.Cwd)
}

func TestConfigProvider(t *testing.T) {
	provider := NewConfigProvider(config.TaskDefinitions{
		{Label: "a", Type: "shell", Command: "echo a"},
		{Label: "b", Type: "shell", Command: "echo b"},
	}, "/scope")

	list, err := provider.Tasks(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, "b", list[1].Name)

	static, err := Static(list).Tasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, list, static)
}

func TestWorkingDir(t *testing.T) {
	tests := []struct {
		name  string
		cwd   string
		scope string
		want  string
	}{
		{"defaults to scope", "", "/proj", "/proj"},
		{"relative joins scope", "build", "/proj", "/proj/build"},
		{"dot is scope", ".", "/proj", "/proj"},
		{"absolute kept", "/elsewhere", "/proj", "/elsewhere"},
		{"no scope", "build", "", "build"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, workingDir(tt.cwd, tt.scope))
		})
	}
}
