//go:build property
// +build property

// Property-based checks for the deterministic kernel primitives:
// normalization, compaction, fidelity scoring, and redaction.
package pipeline_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/roundtree-labs/roundtree/pkg/compactor"
	"github.com/roundtree-labs/roundtree/pkg/fidelity"
	"github.com/roundtree-labs/roundtree/pkg/policy"
	"github.com/roundtree-labs/roundtree/pkg/redact"
)

func TestCompactionDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical text yields identical denotum", prop.ForAll(
		func(text string) bool {
			n := compactor.Normalize(text)
			a := compactor.Compact(n)
			b := compactor.Compact(n)
			if a.RootID != b.RootID || len(a.Bricks) != len(b.Bricks) {
				return false
			}
			for i := range a.Bricks {
				if a.Bricks[i] != b.Bricks[i] {
					return false
				}
			}
			return true
		},
		gen.AnyString(),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(text string) bool {
			once := compactor.Normalize(text)
			return compactor.Normalize(once) == once
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestFidelityScoreProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("score stays in [0,1]", prop.ForAll(
		func(a, b string) bool {
			s := fidelity.Score(a, b)
			return s >= 0 && s <= 1
		},
		gen.AnyString(), gen.AnyString(),
	))

	properties.Property("score is symmetric", prop.ForAll(
		func(a, b string) bool {
			return fidelity.Score(a, b) == fidelity.Score(b, a)
		},
		gen.AlphaString(), gen.AlphaString(),
	))

	properties.Property("identical strings score 1", prop.ForAll(
		func(a string) bool {
			return fidelity.Score(a, a) == 1
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestRedactionIdempotence(t *testing.T) {
	engine, err := policy.Compile(policy.Default())
	if err != nil {
		t.Fatal(err)
	}
	r := redact.New(engine.RedactPatterns())

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a redacted string redacts to itself", prop.ForAll(
		func(text string) bool {
			once, _ := r.Apply(text)
			twice, hit := r.Apply(once)
			return !hit && once == twice
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
