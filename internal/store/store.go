// Package store persists rule choices across sidepeek runs in a bbolt file.
package store

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/conneroisu/sidepeek/internal/errors"
)

const bucketChoices = "choices"

// ChoiceStore remembers which rule label was picked for a source path.
type ChoiceStore interface {
	Get(path string) (label string, ok bool, err error)
	Put(path, label string) error
	Delete(path string) error
}

// Choice is one remembered selection.
type Choice struct {
	Path  string
	Label string
}

// DB is a ChoiceStore backed by a bbolt database.
type DB struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.WrapIO(err, errors.CodeStore, "could not create store directory")
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.WrapIO(err, errors.CodeStore, "could not open store "+path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketChoices))
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.WrapIO(err, errors.CodeStore, "could not initialize store")
	}
	return &DB{db: db}, nil
}

// Get returns the label remembered for path.
func (s *DB) Get(path string) (string, bool, error) {
	var label []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(bucketChoices)).Get([]byte(path)); v != nil {
			label = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil || label == nil {
		return "", false, err
	}
	return string(label), true, nil
}

// Put remembers label for path.
func (s *DB) Put(path, label string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketChoices)).Put([]byte(path), []byte(label))
	})
}

// Delete forgets path. Deleting an unknown path is not an error.
func (s *DB) Delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketChoices)).Delete([]byte(path))
	})
}

// Choices lists every remembered selection ordered by path.
func (s *DB) Choices() ([]Choice, error) {
	var choices []Choice
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketChoices)).ForEach(func(k, v []byte) error {
			choices = append(choices, Choice{Path: string(k), Label: string(v)})
			return nil
		})
	})
	return choices, err
}

// Close releases the database file.
func (s *DB) Close() error {
	return s.db.Close()
}

// Memory is an in-process ChoiceStore.
type Memory struct {
	mu      sync.Mutex
	choices map[string]string
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{choices: make(map[string]string)}
}

func (m *Memory) Get(path string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label, ok := m.choices[path]
	return label, ok, nil
}

func (m *Memory) Put(path, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.choices[path] = label
	return nil
}

func (m *Memory) Delete(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.choices, path)
	return nil
}
