package preview

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/conneroisu/sidepeek/internal/errors"
)

// Document is a source file a build or view is requested for.
type Document interface {
	Path() string
	// Save persists unsaved content so the build sees it.
	Save(ctx context.Context) error
}

// FileDocument is a file on disk with optional unsaved content.
type FileDocument struct {
	path string

	mu      sync.Mutex
	content []byte
	dirty   bool
}

// NewFileDocument returns a document for path with nothing to save.
func NewFileDocument(path string) *FileDocument {
	return &FileDocument{path: Abs(path)}
}

// NewUnsavedDocument returns a document whose content is written on Save.
func NewUnsavedDocument(path string, content []byte) *FileDocument {
	d := NewFileDocument(path)
	d.SetContent(content)
	return d
}

func (d *FileDocument) Path() string { return d.path }

// SetContent replaces the unsaved content.
func (d *FileDocument) SetContent(content []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = append([]byte(nil), content...)
	d.dirty = true
}

// Dirty reports whether there is content waiting to be saved.
func (d *FileDocument) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// Save writes unsaved content through a temporary file and a rename so the
// build never reads a partial file.
func (d *FileDocument) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(d.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*")
	if err != nil {
		return errors.WrapIO(err, errors.CodeSave, "could not save document").WithPath(d.path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(d.content); err != nil {
		tmp.Close()
		return errors.WrapIO(err, errors.CodeSave, "could not save document").WithPath(d.path)
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapIO(err, errors.CodeSave, "could not save document").WithPath(d.path)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return errors.WrapIO(err, errors.CodeSave, "could not save document").WithPath(d.path)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		return errors.WrapIO(err, errors.CodeSave, "could not save document").WithPath(d.path)
	}

	d.dirty = false
	return nil
}

// Abs returns the absolute form of path used as the key for rules and
// viewers.
func Abs(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
