//go:build property

package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/conneroisu/sidepeek/internal/config"
	"github.com/conneroisu/sidepeek/internal/logging"
	"github.com/conneroisu/sidepeek/internal/notify"
	"github.com/conneroisu/sidepeek/internal/tasks"
)

func uniqueVariants(names []string) config.Variants {
	seen := map[string]bool{}
	var variants config.Variants
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		variants = append(variants, config.Variant{Name: n, Format: n})
	}
	return variants
}

func TestMatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1337)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	provider := tasks.Static{{
		Name:    "build",
		Source:  tasks.Source,
		Command: &tasks.ShellCommand{CommandLine: "build {{input}} -o {{output}}"},
	}}

	properties.Property("one rule per variant with distinct labels and outputs", prop.ForAll(
		func(names []string, stem string) bool {
			variants := uniqueVariants(names)
			if len(variants) == 0 {
				return true
			}
			def := config.NewRuleDefinition("r", "", "build", "", variants...)
			m := NewMatcher(config.RuleDefinitions{def}, provider, notify.Discard, logging.NewNop())

			rules, err := m.Match(context.Background(), "dir/"+stem+".md")
			if err != nil || len(rules) != len(variants) {
				return false
			}
			labels := map[string]bool{}
			outputs := map[string]bool{}
			for i, rule := range rules {
				if rule.Label != fmt.Sprintf("r: %s", variants[i].Name) {
					return false
				}
				labels[rule.Label] = true
				outputs[rule.Output] = true
			}
			return len(labels) == len(rules) && len(outputs) == len(rules)
		},
		gen.SliceOf(gen.Identifier()),
		gen.Identifier(),
	))

	properties.Property("matching is deterministic", prop.ForAll(
		func(names []string, stem string) bool {
			def := config.NewRuleDefinition("r", "", "build", "", uniqueVariants(names)...)
			m := NewMatcher(config.RuleDefinitions{def, def}, provider, notify.Discard, logging.NewNop())

			a, errA := m.Match(context.Background(), stem+".md")
			b, errB := m.Match(context.Background(), stem+".md")
			if errA != nil || errB != nil || len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].Label != b[i].Label || a[i].Output != b[i].Output ||
					a[i].Task.Shell().CommandLine != b[i].Task.Shell().CommandLine {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Identifier()),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
