package rules

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/sidepeek/internal/errors"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/picker"
	"github.com/conneroisu/sidepeek/internal/store"
)

// scriptedPicker answers with the queued indexes and records prompts.
type scriptedPicker struct {
	mu      sync.Mutex
	answers []int
	prompts [][]string
}

func (p *scriptedPicker) Pick(_ context.Context, _ string, labels []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, labels)
	if len(p.answers) == 0 {
		return -1, errors.ErrCancelled
	}
	i := p.answers[0]
	p.answers = p.answers[1:]
	return i, nil
}

func (p *scriptedPicker) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

type fixture struct {
	resolver *Resolver
	provider *countingProvider
	notes    *notify.Collector
	picker   *scriptedPicker
	choices  *store.Memory
}

func newFixture(t *testing.T, answers ...int) *fixture {
	t.Helper()
	m, notes, provider := newMatcher(t, rulesYAML)
	p := &scriptedPicker{answers: answers}
	choices := store.NewMemory()
	cache := NewCache(choices, logging.NewNop())
	return &fixture{
		resolver: NewResolver(m, cache, p, notes, logging.NewNop()),
		provider: provider,
		notes:    notes,
		picker:   p,
		choices:  choices,
	}
}

func TestResolveSingleRuleIsSticky(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.resolver.Rule(ctx, "paper.typ")
	require.NoError(t, err)
	assert.Equal(t, "typst: pdf", first.Label)
	assert.Zero(t, f.picker.count())

	second, err := f.resolver.Rule(ctx, "paper.typ")
	require.NoError(t, err)
	assert.Same(t, first.Task, second.Task)
	assert.EqualValues(t, 1, f.provider.calls.Load())

	label, ok, err := f.choices.Get("paper.typ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "typst: pdf", label)
}

func TestResolveNoRule(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Rule(context.Background(), "notes.txt")
	assert.ErrorIs(t, err, errors.ErrNoRule)
	assert.Equal(t, []string{"No rule matches notes.txt"}, f.notes.Errors())
	assert.Empty(t, f.resolver.Cache().Paths())
}

func TestResolvePromptsOnce(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	rule, err := f.resolver.Rule(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "pandoc: pdf", rule.Label)
	assert.Equal(t, "docs/a.pdf", rule.Output)

	again, err := f.resolver.Rule(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Same(t, rule.Task, again.Task)
	assert.Equal(t, 1, f.picker.count())
	assert.Equal(t, []string{"pandoc: html", "pandoc: revealjs", "pandoc: pdf", "pandoc: beamer", "myst: pdf", "myst: html"}, f.picker.prompts[0])
}

func TestResolveCancelCachesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Rule(ctx, "docs/a.md")
	assert.True(t, errors.IsCancelled(err))
	assert.Empty(t, f.resolver.Cache().Paths())
	assert.Empty(t, f.notes.Messages())

	f.picker.answers = []int{0}
	rule, err := f.resolver.Rule(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "pandoc: html", rule.Label)
	assert.Equal(t, 2, f.picker.count())
}

func TestResolveOutOfRangeIsCancel(t *testing.T) {
	f := newFixture(t, 99)

	_, err := f.resolver.Rule(context.Background(), "docs/a.md")
	assert.True(t, errors.IsCancelled(err))
}

func TestResolveSelectionRequired(t *testing.T) {
	f := newFixture(t)
	ctx := picker.WithPicker(context.Background(), picker.Unavailable{})

	_, err := f.resolver.Rule(ctx, "docs/a.md")
	require.ErrorIs(t, err, errors.ErrSelectionRequired)
	assert.Len(t, errors.Candidates(err), 6)

	var se *errors.SidepeekError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "docs/a.md", se.Path)
	assert.Zero(t, f.picker.count())
}

func TestResolveContextPicker(t *testing.T) {
	f := newFixture(t)
	ctx := picker.WithPicker(context.Background(), picker.Fixed("myst: html"))

	rule, err := f.resolver.Rule(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "myst: html", rule.Label)
	assert.Equal(t, "docs/_build/a.html", rule.Output)
}

func TestResolveDisconnect(t *testing.T) {
	f := newFixture(t, 0, 4)
	ctx := context.Background()

	first, err := f.resolver.Rule(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "pandoc: html", first.Label)

	f.resolver.Disconnect(ctx, "docs/a.md")
	_, ok, err := f.choices.Get("docs/a.md")
	require.NoError(t, err)
	assert.False(t, ok)

	second, err := f.resolver.Rule(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "myst: pdf", second.Label)
	assert.Equal(t, 2, f.picker.count())
}

func TestResolveRememberedChoice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.choices.Put("docs/a.md", "pandoc: beamer"))

	rule, err := f.resolver.Rule(context.Background(), "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "pandoc: beamer", rule.Label)
	assert.Zero(t, f.picker.count())
}

func TestResolveStaleRememberedChoicePrompts(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.choices.Put("docs/a.md", "gone: pdf"))

	rule, err := f.resolver.Rule(context.Background(), "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "pandoc: revealjs", rule.Label)
	assert.Equal(t, 1, f.picker.count())

	label, _, err := f.choices.Get("docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, "pandoc: revealjs", label)
}

func TestResolveConcurrentCallsShareOnePrompt(t *testing.T) {
	m, notes, _ := newMatcher(t, rulesYAML)

	var prompts atomic.Int32
	release := make(chan struct{})
	slow := picker.Func(func(context.Context, string, []string) (int, error) {
		prompts.Add(1)
		<-release
		return 3, nil
	})
	r := NewResolver(m, NewCache(nil, logging.NewNop()), slow, notes, logging.NewNop())

	const callers = 8
	results := make(chan Rule, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rule, err := r.Rule(context.Background(), "docs/a.md")
			assert.NoError(t, err)
			results <- rule
		}()
	}

	close(release)
	wg.Wait()
	close(results)

	assert.EqualValues(t, 1, prompts.Load())
	for rule := range results {
		assert.Equal(t, "pandoc: beamer", rule.Label)
	}
}
