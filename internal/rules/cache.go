package rules

import (
	"context"
	"sort"
	"sync"

	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/store"
)

// Cache holds the rule chosen for each source path. When a choice store is
// configured, labels are written through so choices survive restarts.
type Cache struct {
	mu     sync.RWMutex
	rules  map[string]Rule
	store  store.ChoiceStore
	logger logging.Logger
}

// NewCache returns an empty cache. choices may be nil.
func NewCache(choices store.ChoiceStore, logger logging.Logger) *Cache {
	return &Cache{
		rules:  make(map[string]Rule),
		store:  choices,
		logger: logger.WithComponent("rule_cache"),
	}
}

// Get returns the rule cached for path.
func (c *Cache) Get(path string) (Rule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rule, ok := c.rules[path]
	return rule, ok
}

// Put caches rule for path and remembers its label.
func (c *Cache) Put(ctx context.Context, path string, rule Rule) {
	c.mu.Lock()
	c.rules[path] = rule
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Put(path, rule.Label); err != nil {
			c.logger.Warn(ctx, err, "Failed to remember rule choice", "path", path)
		}
	}
}

// Remembered returns the label stored for path by an earlier run.
func (c *Cache) Remembered(ctx context.Context, path string) (string, bool) {
	if c.store == nil {
		return "", false
	}
	label, ok, err := c.store.Get(path)
	if err != nil {
		c.logger.Warn(ctx, err, "Failed to read rule choice", "path", path)
		return "", false
	}
	return label, ok
}

// Delete forgets the rule for path, in memory and in the store.
func (c *Cache) Delete(ctx context.Context, path string) {
	c.mu.Lock()
	delete(c.rules, path)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(path); err != nil {
			c.logger.Warn(ctx, err, "Failed to forget rule choice", "path", path)
		}
	}
}

// Paths returns the cached source paths in sorted order.
func (c *Cache) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, 0, len(c.rules))
	for p := range c.rules {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
