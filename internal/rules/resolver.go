package rules

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/picker"
)

// SelectTitle is shown when several rules match.
const SelectTitle = "Select preview rule"

// Resolver picks the rule for a source path and keeps that choice sticky
// until the path is disconnected.
type Resolver struct {
	matcher  *Matcher
	cache    *Cache
	picker   picker.Picker
	notifier notify.Notifier
	logger   logging.Logger
	group    singleflight.Group
}

// NewResolver wires a matcher to a cache. The picker and notifier are
// fallbacks for contexts that do not carry their own.
func NewResolver(matcher *Matcher, cache *Cache, p picker.Picker, notifier notify.Notifier, logger logging.Logger) *Resolver {
	return &Resolver{
		matcher:  matcher,
		cache:    cache,
		picker:   p,
		notifier: notifier,
		logger:   logger.WithComponent("rules"),
	}
}

// Matcher returns the underlying matcher.
func (r *Resolver) Matcher() *Matcher { return r.matcher }

// Cache returns the underlying rule cache.
func (r *Resolver) Cache() *Cache { return r.cache }

// Rule returns the cached rule for path, or matches and selects one. With no
// match the user is told and a no-rule error is returned. A dismissed
// selection returns errors.ErrCancelled and caches nothing. Concurrent calls
// for the same path share one resolution.
func (r *Resolver) Rule(ctx context.Context, path string) (Rule, error) {
	if rule, ok := r.cache.Get(path); ok {
		return rule, nil
	}

	v, err, _ := r.group.Do(path, func() (interface{}, error) {
		if rule, ok := r.cache.Get(path); ok {
			return rule, nil
		}
		return r.resolve(ctx, path)
	})
	if err != nil {
		return Rule{}, err
	}
	return v.(Rule), nil
}

func (r *Resolver) resolve(ctx context.Context, path string) (Rule, error) {
	candidates, err := r.matcher.Match(ctx, path)
	if err != nil {
		return Rule{}, err
	}

	var rule Rule
	switch len(candidates) {
	case 0:
		noRule := errors.NewNoRuleError(path)
		notify.FromContext(ctx, r.notifier).Error(ctx, "No rule matches "+path)
		return Rule{}, noRule
	case 1:
		rule = candidates[0]
	default:
		if chosen, ok := r.remembered(ctx, path, candidates); ok {
			rule = chosen
			break
		}
		labels := Labels(candidates)
		i, err := picker.FromContext(ctx, r.picker).Pick(ctx, SelectTitle, labels)
		if errors.Is(err, errors.ErrSelectionRequired) {
			return Rule{}, errors.NewSelectionRequiredError(path, labels)
		}
		if err != nil {
			return Rule{}, err
		}
		if i < 0 || i >= len(candidates) {
			return Rule{}, errors.ErrCancelled
		}
		rule = candidates[i]
	}

	r.cache.Put(ctx, path, rule)
	r.logger.Info(ctx, "Selected rule", "path", path, "rule", rule.Label, "output", rule.Output)
	return rule, nil
}

func (r *Resolver) remembered(ctx context.Context, path string, candidates []Rule) (Rule, bool) {
	label, ok := r.cache.Remembered(ctx, path)
	if !ok {
		return Rule{}, false
	}
	for _, c := range candidates {
		if c.Label == label {
			return c, true
		}
	}
	return Rule{}, false
}

// Disconnect forgets the rule chosen for path.
func (r *Resolver) Disconnect(ctx context.Context, path string) {
	r.cache.Delete(ctx, path)
	r.logger.Debug(ctx, "Disconnected", "path", path)
}
