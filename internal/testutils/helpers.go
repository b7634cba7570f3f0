package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sidepeek/internal/config"
)

// CreateTempProject creates a temporary project with a docs directory.
func CreateTempProject(t *testing.T) string {
	tempDir := t.TempDir()

	for _, dir := range []string{"docs", "docs/out"} {
		err := os.MkdirAll(filepath.Join(tempDir, dir), 0755)
		require.NoError(t, err)
	}

	return tempDir
}

// CreateTestSource writes a source file and returns its path.
func CreateTestSource(t *testing.T, dir, name, content string) string {
	path := filepath.Join(dir, name)
	err := os.WriteFile(path, []byte(content), 0644)
	require.NoError(t, err)
	return path
}

// CopyCommand builds outputs by copying the source, which is enough to
// exercise rules without external tools.
const CopyCommand = "mkdir -p {{dir}}/out && cp {{input}} {{output}}"

// CreateTestConfig returns a configuration with one rule per given variant
// format. Sources ending in .md are copied to docs/out.
func CreateTestConfig(projectDir string, formats ...string) *config.Config {
	if len(formats) == 0 {
		formats = []string{"html"}
	}
	variants := make(config.Variants, 0, len(formats))
	for _, f := range formats {
		variants = append(variants, config.Variant{Name: f, Format: f})
	}

	cfg := config.Default()
	cfg.Server.Open = false
	cfg.Viewer.Debounce = 20 * time.Millisecond
	cfg.Rules = config.RuleDefinitions{
		config.NewRuleDefinition("copy", config.DefaultInput, "copy", "{{dir}}/out/{{name}}.{{format}}", variants...),
	}
	cfg.Tasks = config.TaskDefinitions{
		{Label: "copy", Type: "shell", Command: CopyCommand, Options: config.TaskOptions{Cwd: projectDir}},
	}
	return cfg
}

// SecurityTestCases provides common security test vectors
var SecurityTestCases = struct {
	PathTraversal []string
}{
	PathTraversal: []string{
		"../../../etc/passwd",
		"..\\..\\..\\windows\\system32\\config\\sam",
		"....//....//....//etc/passwd",
		"..%2F..%2F..%2Fetc%2Fpasswd",
		"..%252F..%252F..%252Fetc%252Fpasswd",
		"/%2e%2e/%2e%2e/%2e%2e/etc/passwd",
		"/./../../etc/passwd",
		"../../../../../etc/passwd",
	},
}

// WaitForFileChange waits for a file to be modified (useful for testing file watchers)
func WaitForFileChange(
	t *testing.T,
	filePath string,
	originalModTime time.Time,
	timeout time.Duration,
) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		info, err := os.Stat(filePath)
		if err == nil && info.ModTime().After(originalModTime) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("File %s was not modified within %v", filePath, timeout)
}
