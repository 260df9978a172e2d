// Package compactor deterministically reduces normalized input text to a
// denotum: a content-addressed root, ordered sentence bricks, and NEXT
// edges between consecutive bricks. Same text in, same fragment out,
// always.
package compactor

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roundtree-labs/roundtree/pkg/canonicalize"
	"github.com/roundtree-labs/roundtree/pkg/contracts"
)

// Normalize applies Unicode NFC, trims, and collapses internal runs of
// whitespace to single spaces. All downstream hashing sees only
// normalized text.
func Normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// brickID content-addresses one brick by its exact text.
func brickID(text string) string {
	return "b:" + canonicalize.HashString(text)[:16]
}

// Compact splits normalized text into sentence bricks and builds the
// denotum. Sentence boundaries are ., ! and ?, kept with their sentence.
// Empty input yields an empty denotum with an empty root.
func Compact(normalized string) contracts.Denotum {
	texts := splitSentences(normalized)
	d := contracts.Denotum{}
	ids := make([]string, 0, len(texts))
	for _, t := range texts {
		b := contracts.Brick{ID: brickID(t), Text: t}
		d.Bricks = append(d.Bricks, b)
		ids = append(ids, b.ID)
	}
	for i := 1; i < len(d.Bricks); i++ {
		d.Edges = append(d.Edges, contracts.Edge{
			Src:      d.Bricks[i-1].ID,
			Relation: contracts.RelNext,
			Dst:      d.Bricks[i].ID,
		})
	}
	if len(ids) > 0 {
		d.RootID = "d:" + canonicalize.HashString(strings.Join(ids, "|"))[:16]
	}
	return d
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// ToDelta expresses a denotum as a graph delta: one SYSTEM root node,
// one ENTITY node per brick carrying its text, the NEXT edges, and a
// DERIVED_FROM edge from each brick to the root.
func ToDelta(d contracts.Denotum) contracts.GraphDelta {
	if d.RootID == "" {
		return contracts.GraphDelta{}
	}
	delta := contracts.GraphDelta{
		Nodes: []contracts.Node{{ID: d.RootID, Kind: contracts.NodeSystem}},
	}
	for _, b := range d.Bricks {
		delta.Nodes = append(delta.Nodes, contracts.Node{
			ID:    b.ID,
			Kind:  contracts.NodeEntity,
			Attrs: map[string]string{"text": b.Text},
		})
		delta.Edges = append(delta.Edges, contracts.Edge{
			Src:      b.ID,
			Relation: contracts.RelDerivedFrom,
			Dst:      d.RootID,
		})
	}
	delta.Edges = append(delta.Edges, d.Edges...)
	return delta
}

// Render reconstructs the canonical text of a denotum: brick texts
// joined by single spaces, in order.
func Render(d contracts.Denotum) string {
	parts := make([]string, 0, len(d.Bricks))
	for _, b := range d.Bricks {
		parts = append(parts, b.Text)
	}
	return strings.Join(parts, " ")
}
