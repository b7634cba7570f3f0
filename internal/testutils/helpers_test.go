package testutils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTempProject(t *testing.T) {
	projectDir := CreateTempProject(t)

	for _, dir := range []string{"docs", "docs/out"} {
		info, err := os.Stat(filepath.Join(projectDir, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestCreateTestConfig(t *testing.T) {
	cfg := CreateTestConfig("/project", "html", "pdf")

	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "copy", cfg.Rules[0].Name)
	assert.Len(t, cfg.Rules[0].Variants, 2)
	assert.NotNil(t, cfg.Rules[0].Input)
	require.Len(t, cfg.Tasks, 1)
	assert.Equal(t, "/project", cfg.Tasks[0].Options.Cwd)
	assert.False(t, cfg.Server.Open)
	assert.NoError(t, cfg.Validate())
}

func TestFakeSurface(t *testing.T) {
	f := &FakeSurfaceFactory{}
	s, err := f.Create("Preview a.pdf", "/out")
	require.NoError(t, err)

	disposed := 0
	s.OnDispose(func() { disposed++ })
	s.SetHTML("<p>x</p>")
	require.NoError(t, s.PostMessage("reload-document"))
	s.Dispose()
	s.Dispose()

	fake := f.Last()
	assert.Equal(t, "<p>x</p>", fake.HTML())
	assert.Equal(t, []any{"reload-document"}, fake.Messages())
	assert.Equal(t, 1, disposed)
	assert.Error(t, s.PostMessage("late"))
	assert.Equal(t, []string{"/out"}, fake.Roots())
}

func TestFakeWatcher(t *testing.T) {
	w := &FakeWatcher{}
	watch, err := w.Func()("/out/a.pdf")
	require.NoError(t, err)

	changes := 0
	watch.OnChange(func() { changes++ })
	fake := w.Latest("/out/a.pdf")
	fake.Change()
	watch.Dispose()
	fake.Change()

	assert.Equal(t, 1, changes)
	assert.True(t, fake.Disposed())
	assert.Equal(t, 1, w.Count("/out/a.pdf"))
}

func TestWaitForFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))
	before := time.Now().Add(-time.Second)

	WaitForFileChange(t, path, before, time.Second)
}
