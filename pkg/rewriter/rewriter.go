// Package rewriter canonicalizes validated deltas with a closed rule
// list. Rules are plain functions over slices, applied to a bounded
// fixed point; the rule set is visible in full in this file, which is
// the point.
package rewriter

import (
	"github.com/roundtree-labs/roundtree/pkg/contracts"
)

// maxPasses bounds the fixed-point loop. Both rules shrink or converge,
// so the bound is slack in practice.
const maxPasses = 8

// Rewrite applies the rule list to delta until no rule fires (or the
// pass bound is hit), then re-applies the size bounds by dropping the
// most recently added entries first. workingEdges are the committed
// edges visible to this request; they count as already present for
// deduplication and as path material for promotion.
func Rewrite(delta contracts.GraphDelta, workingEdges []contracts.Edge, maxNodes, maxEdges int) contracts.GraphDelta {
	out := clone(delta)
	for pass := 0; pass < maxPasses; pass++ {
		changed := false
		if promoteSupportChains(&out, workingEdges) {
			changed = true
		}
		if dropDuplicateEdges(&out, workingEdges) {
			changed = true
		}
		if !changed {
			break
		}
	}
	truncate(&out, maxNodes, maxEdges)
	return out
}

func clone(d contracts.GraphDelta) contracts.GraphDelta {
	out := contracts.GraphDelta{
		Nodes: make([]contracts.Node, len(d.Nodes)),
		Edges: make([]contracts.Edge, len(d.Edges)),
	}
	copy(out.Nodes, d.Nodes)
	copy(out.Edges, d.Edges)
	return out
}

func edgeKey(e contracts.Edge) string {
	return e.Src + "|" + string(e.Relation) + "|" + e.Dst
}

// promoteSupportChains adds src DERIVED_FROM dst for every two-step
// support path src SUPPORTS mid SUPPORTS dst. Paths may run through
// committed edges; the derived edge is only ever added to the delta.
func promoteSupportChains(d *contracts.GraphDelta, working []contracts.Edge) bool {
	supports := make(map[string][]string)
	record := func(e contracts.Edge) {
		if e.Relation == contracts.RelSupports {
			supports[e.Src] = append(supports[e.Src], e.Dst)
		}
	}
	for _, e := range d.Edges {
		record(e)
	}
	for _, e := range working {
		record(e)
	}

	present := make(map[string]struct{}, len(d.Edges)+len(working))
	for _, e := range d.Edges {
		present[edgeKey(e)] = struct{}{}
	}
	for _, e := range working {
		present[edgeKey(e)] = struct{}{}
	}

	changed := false
	// Iterate the delta's own edges in order so added edges land
	// deterministically.
	for _, e := range d.Edges {
		if e.Relation != contracts.RelSupports {
			continue
		}
		for _, dst := range supports[e.Dst] {
			derived := contracts.Edge{Src: e.Src, Relation: contracts.RelDerivedFrom, Dst: dst}
			if _, ok := present[edgeKey(derived)]; ok {
				continue
			}
			d.Edges = append(d.Edges, derived)
			present[edgeKey(derived)] = struct{}{}
			changed = true
		}
	}
	return changed
}

// dropDuplicateEdges removes delta edges that repeat an earlier delta
// edge or an already-committed working edge.
func dropDuplicateEdges(d *contracts.GraphDelta, working []contracts.Edge) bool {
	seen := make(map[string]struct{}, len(working))
	for _, e := range working {
		seen[edgeKey(e)] = struct{}{}
	}
	kept := d.Edges[:0]
	changed := false
	for _, e := range d.Edges {
		k := edgeKey(e)
		if _, dup := seen[k]; dup {
			changed = true
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, e)
	}
	d.Edges = kept
	return changed
}

// truncate re-applies the size bounds after rewriting. Entries are
// dropped newest-first, then edges referencing dropped nodes go with
// them.
func truncate(d *contracts.GraphDelta, maxNodes, maxEdges int) {
	if maxNodes > 0 && len(d.Nodes) > maxNodes {
		dropped := make(map[string]struct{}, len(d.Nodes)-maxNodes)
		for _, n := range d.Nodes[maxNodes:] {
			dropped[n.ID] = struct{}{}
		}
		d.Nodes = d.Nodes[:maxNodes]
		edges := d.Edges[:0]
		for _, e := range d.Edges {
			if _, gone := dropped[e.Src]; gone {
				continue
			}
			if _, gone := dropped[e.Dst]; gone {
				continue
			}
			edges = append(edges, e)
		}
		d.Edges = edges
	}
	if maxEdges > 0 && len(d.Edges) > maxEdges {
		d.Edges = d.Edges[:maxEdges]
	}
}
