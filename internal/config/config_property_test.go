//go:build property

package config

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestRuleOrderProperties checks that rule and variant order survives
// decoding for arbitrary names, including ones differing only in case.
func TestRuleOrderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1337)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("rule and variant order is preserved", prop.ForAll(
		func(names []string) bool {
			seen := map[string]bool{}
			var unique []string
			for _, name := range names {
				if name == "" || seen[name] {
					continue
				}
				seen[name] = true
				unique = append(unique, name)
			}

			var b strings.Builder
			b.WriteString("rules:\n")
			for _, name := range unique {
				fmt.Fprintf(&b, "  %s:\n    task: t\n    variants:\n", name)
				for _, variant := range unique {
					fmt.Fprintf(&b, "      %s: %s\n", variant, variant)
				}
			}

			sections, err := Parse([]byte(b.String()))
			if err != nil || len(sections.Rules) != len(unique) {
				return false
			}
			for i, def := range sections.Rules {
				if def.Name != unique[i] || len(def.Variants) != len(unique) {
					return false
				}
				for j, variant := range def.Variants {
					if variant.Name != unique[j] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.Identifier()),
	))

	properties.TestingRun(t)
}
