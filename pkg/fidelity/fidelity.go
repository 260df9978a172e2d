// Package fidelity computes the meaning-round-trip score: how closely
// the pipeline's rendering of its own output tracks the text that came
// in. A low score means the proposer drifted from the request, and the
// gate refuses the response.
package fidelity

import (
	"github.com/roundtree-labs/roundtree/pkg/compactor"
	"github.com/roundtree-labs/roundtree/pkg/contracts"
)

// Render produces the canonical text of a response: the normalized
// answer when one exists, otherwise the denotum's own text. Both sides
// of the score therefore pass through the same normalization.
func Render(d contracts.Denotum, answer string) string {
	if normalized := compactor.Normalize(answer); normalized != "" {
		return normalized
	}
	return compactor.Render(d)
}

// Score returns similarity in [0,1]: 1 minus the rune edit distance
// over the longer length. Two empty strings score 1.
func Score(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	s := 1 - float64(distance(ra, rb))/float64(longest)
	if s < 0 {
		return 0
	}
	return s
}

// distance is the Levenshtein edit distance with a two-row table.
func distance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
