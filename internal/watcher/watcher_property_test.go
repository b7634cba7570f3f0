//go:build property

package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/sidepeek/internal/logging"
)

func TestFileWatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("a burst of writes settles into few change callbacks", prop.ForAll(
		func(writes int) bool {
			path := filepath.Join(t.TempDir(), "out.pdf")
			if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
				return false
			}

			fw, err := WatchFile(path, 40*time.Millisecond, logging.NewNop())
			if err != nil {
				return false
			}
			defer fw.Dispose()

			var changes, deletes atomic.Int32
			fw.OnChange(func() { changes.Add(1) })
			fw.OnDelete(func() { deletes.Add(1) })

			for i := 0; i < writes; i++ {
				if err := os.WriteFile(path, []byte(fmt.Sprint(i)), 0o644); err != nil {
					return false
				}
			}

			deadline := time.Now().Add(2 * time.Second)
			for changes.Load() == 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			time.Sleep(100 * time.Millisecond)

			return changes.Load() >= 1 && int(changes.Load()) <= writes && deletes.Load() == 0
		},
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}
