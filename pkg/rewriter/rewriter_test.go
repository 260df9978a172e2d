package rewriter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundtree-labs/roundtree/pkg/contracts"
)

func edge(src string, rel contracts.Relation, dst string) contracts.Edge {
	return contracts.Edge{Src: src, Relation: rel, Dst: dst}
}

func TestPromoteSupportChain(t *testing.T) {
	delta := contracts.GraphDelta{
		Edges: []contracts.Edge{
			edge("a", contracts.RelSupports, "b"),
			edge("b", contracts.RelSupports, "c"),
		},
	}
	out := Rewrite(delta, nil, 0, 0)
	require.Len(t, out.Edges, 3)
	assert.Equal(t, edge("a", contracts.RelDerivedFrom, "c"), out.Edges[2])
}

func TestPromoteThroughWorkingEdges(t *testing.T) {
	delta := contracts.GraphDelta{
		Edges: []contracts.Edge{edge("a", contracts.RelSupports, "b")},
	}
	working := []contracts.Edge{edge("b", contracts.RelSupports, "c")}
	out := Rewrite(delta, working, 0, 0)
	require.Len(t, out.Edges, 2)
	assert.Equal(t, edge("a", contracts.RelDerivedFrom, "c"), out.Edges[1])
}

func TestPromotionDoesNotDuplicateExistingDerived(t *testing.T) {
	delta := contracts.GraphDelta{
		Edges: []contracts.Edge{
			edge("a", contracts.RelSupports, "b"),
			edge("b", contracts.RelSupports, "c"),
			edge("a", contracts.RelDerivedFrom, "c"),
		},
	}
	out := Rewrite(delta, nil, 0, 0)
	assert.Len(t, out.Edges, 3)
}

func TestDropDuplicateEdges(t *testing.T) {
	delta := contracts.GraphDelta{
		Edges: []contracts.Edge{
			edge("a", contracts.RelNext, "b"),
			edge("a", contracts.RelNext, "b"),
			edge("a", contracts.RelNext, "b"),
		},
	}
	out := Rewrite(delta, nil, 0, 0)
	assert.Len(t, out.Edges, 1)
}

func TestDropEdgesAlreadyCommitted(t *testing.T) {
	delta := contracts.GraphDelta{
		Edges: []contracts.Edge{edge("a", contracts.RelNext, "b")},
	}
	working := []contracts.Edge{edge("a", contracts.RelNext, "b")}
	out := Rewrite(delta, working, 0, 0)
	assert.Empty(t, out.Edges)
}

func TestRewriteIsIdempotent(t *testing.T) {
	delta := contracts.GraphDelta{
		Edges: []contracts.Edge{
			edge("a", contracts.RelSupports, "b"),
			edge("b", contracts.RelSupports, "c"),
			edge("c", contracts.RelSupports, "d"),
		},
	}
	once := Rewrite(delta, nil, 0, 0)
	twice := Rewrite(once, nil, 0, 0)
	assert.Equal(t, once, twice)
}

func TestRewriteDoesNotMutateInput(t *testing.T) {
	delta := contracts.GraphDelta{
		Edges: []contracts.Edge{
			edge("a", contracts.RelNext, "b"),
			edge("a", contracts.RelNext, "b"),
		},
	}
	_ = Rewrite(delta, nil, 0, 0)
	assert.Len(t, delta.Edges, 2)
}

func TestTruncateDropsNewestFirst(t *testing.T) {
	var delta contracts.GraphDelta
	for i := 0; i < 6; i++ {
		delta.Nodes = append(delta.Nodes, contracts.Node{
			ID: fmt.Sprintf("n%d", i), Kind: contracts.NodeEntity,
		})
	}
	delta.Edges = []contracts.Edge{
		edge("n0", contracts.RelNext, "n1"),
		edge("n4", contracts.RelNext, "n5"),
	}
	out := Rewrite(delta, nil, 4, 0)
	require.Len(t, out.Nodes, 4)
	assert.Equal(t, "n0", out.Nodes[0].ID)
	assert.Equal(t, "n3", out.Nodes[3].ID)
	// Edges touching dropped nodes go with them.
	require.Len(t, out.Edges, 1)
	assert.Equal(t, "n0", out.Edges[0].Src)
}

func TestTruncateKeepsEdgesIntoWorkingSet(t *testing.T) {
	delta := contracts.GraphDelta{
		Nodes: []contracts.Node{
			{ID: "n0", Kind: contracts.NodeEntity},
			{ID: "n1", Kind: contracts.NodeEntity},
		},
		Edges: []contracts.Edge{edge("n0", contracts.RelSupports, "committed")},
	}
	out := Rewrite(delta, nil, 1, 0)
	require.Len(t, out.Nodes, 1)
	assert.Len(t, out.Edges, 1, "edge into committed state survives node truncation")
}

func TestEdgeBound(t *testing.T) {
	var delta contracts.GraphDelta
	for i := 0; i < 5; i++ {
		delta.Edges = append(delta.Edges, edge(fmt.Sprintf("s%d", i), contracts.RelNext, fmt.Sprintf("d%d", i)))
	}
	out := Rewrite(delta, nil, 0, 3)
	assert.Len(t, out.Edges, 3)
}
