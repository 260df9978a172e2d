package graph

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/roundtree-labs/roundtree/pkg/contracts"
)

// TokenIndex is the lexical working-set index: a token-to-node postings
// map used to assemble the bounded neighborhood a request operates over.
// Ranking is deterministic: score descending, node ID ascending.
type TokenIndex struct {
	mu       sync.RWMutex
	postings map[string]map[string]int
}

// NewTokenIndex builds an empty index.
func NewTokenIndex() *TokenIndex {
	return &TokenIndex{postings: make(map[string]map[string]int)}
}

// Tokenize lowercases and splits on non-alphanumeric runes.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Add indexes a node under every token of text. Re-adding accumulates
// weight, which is what repeated mentions should do.
func (ix *TokenIndex) Add(nodeID, text string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, tok := range Tokenize(text) {
		m, ok := ix.postings[tok]
		if !ok {
			m = make(map[string]int)
			ix.postings[tok] = m
		}
		m[nodeID]++
	}
}

// AddNode indexes a node under its textual content: the text attribute
// and, for claims, the claim key.
func (ix *TokenIndex) AddNode(n contracts.Node) {
	if t, ok := n.Attrs["text"]; ok {
		ix.Add(n.ID, t)
	}
	if n.ClaimKey != "" {
		ix.Add(n.ID, n.ClaimKey)
	}
}

// AddDelta indexes every node of a committed delta.
func (ix *TokenIndex) AddDelta(d contracts.GraphDelta) {
	for _, n := range d.Nodes {
		ix.AddNode(n)
	}
}

// Lookup returns up to limit node IDs matching the query, ranked by
// summed token weight descending, then node ID ascending.
func (ix *TokenIndex) Lookup(query string, limit int) []string {
	scores := make(map[string]int)
	ix.mu.RLock()
	for _, tok := range Tokenize(query) {
		for id, w := range ix.postings[tok] {
			scores[id] += w
		}
	}
	ix.mu.RUnlock()

	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
