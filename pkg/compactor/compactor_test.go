package compactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundtree-labs/roundtree/pkg/contracts"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello there", Normalize("  hello\t\nthere  "))
	assert.Equal(t, "", Normalize("   \n\t "))
	// NFC: e + combining acute composes to é.
	assert.Equal(t, "café", Normalize("café"))
}

func TestCompactDeterministic(t *testing.T) {
	a := Compact("First sentence. Second sentence!")
	b := Compact("First sentence. Second sentence!")
	assert.Equal(t, a, b)

	require.Len(t, a.Bricks, 2)
	assert.Equal(t, "First sentence.", a.Bricks[0].Text)
	assert.Equal(t, "Second sentence!", a.Bricks[1].Text)
	require.Len(t, a.Edges, 1)
	assert.Equal(t, contracts.RelNext, a.Edges[0].Relation)
	assert.Equal(t, a.Bricks[0].ID, a.Edges[0].Src)
	assert.Equal(t, a.Bricks[1].ID, a.Edges[0].Dst)
}

func TestCompactContentAddressing(t *testing.T) {
	a := Compact("Hello there.")
	b := Compact("Hello there.")
	c := Compact("Hello there?")
	assert.Equal(t, a.RootID, b.RootID)
	assert.NotEqual(t, a.RootID, c.RootID)
	assert.NotEqual(t, a.Bricks[0].ID, c.Bricks[0].ID)
}

func TestCompactOrderMatters(t *testing.T) {
	a := Compact("Alpha. Beta.")
	b := Compact("Beta. Alpha.")
	assert.NotEqual(t, a.RootID, b.RootID, "root hashes brick order")
}

func TestCompactEmpty(t *testing.T) {
	d := Compact("")
	assert.Empty(t, d.RootID)
	assert.Empty(t, d.Bricks)
	assert.True(t, ToDelta(d).Empty())
}

func TestCompactTrailingFragment(t *testing.T) {
	d := Compact("Complete. trailing words without terminator")
	require.Len(t, d.Bricks, 2)
	assert.Equal(t, "trailing words without terminator", d.Bricks[1].Text)
}

func TestToDelta(t *testing.T) {
	d := Compact("Hello there.")
	delta := ToDelta(d)

	require.Len(t, delta.Nodes, 2)
	assert.Equal(t, contracts.NodeSystem, delta.Nodes[0].Kind)
	assert.Equal(t, d.RootID, delta.Nodes[0].ID)
	assert.Equal(t, contracts.NodeEntity, delta.Nodes[1].Kind)
	assert.Equal(t, "Hello there.", delta.Nodes[1].Attrs["text"])

	require.Len(t, delta.Edges, 1)
	assert.Equal(t, contracts.RelDerivedFrom, delta.Edges[0].Relation)
	assert.Equal(t, d.RootID, delta.Edges[0].Dst)
}

func TestRenderRoundTrip(t *testing.T) {
	text := Normalize("Hello there. General greeting!")
	d := Compact(text)
	assert.Equal(t, text, Render(d))
}
