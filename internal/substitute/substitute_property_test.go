//go:build property

package substitute

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestSubstituteProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("text without placeholders is unchanged", prop.ForAll(
		func(text, key, value string) bool {
			if strings.Contains(text, "{{") {
				return true
			}
			return Substitute(text, Of(key, value)) == text
		},
		gen.AnyString(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("unknown placeholders survive", prop.ForAll(
		func(known, unknown, value string) bool {
			if known == unknown {
				return true
			}
			text := "{{" + known + "}}/{{" + unknown + "}}"
			return Substitute(text, Of(known, value)) == value+"/{{"+unknown+"}}"
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("substitution is deterministic", prop.ForAll(
		func(text, a, b string) bool {
			values := Of("a", a, "b", b)
			return Substitute(text, values) == Substitute(text, values)
		},
		gen.AnyString(),
		gen.AnyString(),
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
