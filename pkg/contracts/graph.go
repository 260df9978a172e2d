// Package contracts defines the shared data model for the Roundtree
// governed loop: graph nodes and edges, uncommitted deltas, denotum
// fragments, signed receipts, and the pipeline result surface.
package contracts

// NodeKind classifies a knowledge-store node.
type NodeKind string

const (
	NodeSystem     NodeKind = "SYSTEM"
	NodeEntity     NodeKind = "ENTITY"
	NodeClaim      NodeKind = "CLAIM"
	NodePolicy     NodeKind = "POLICY"
	NodeProvenance NodeKind = "PROVENANCE"
)

// Polarity is the stance of a CLAIM node toward its claim key.
type Polarity string

const (
	PolarityPos Polarity = "pos"
	PolarityNeg Polarity = "neg"
)

// Opposite returns the inverse polarity.
func (p Polarity) Opposite() Polarity {
	if p == PolarityPos {
		return PolarityNeg
	}
	return PolarityPos
}

// Node is an immutable knowledge-store vertex. ClaimKey and Polarity are
// set only on CLAIM nodes and together form the unit of contradiction
// detection.
type Node struct {
	ID       string            `json:"id"`
	Kind     NodeKind          `json:"kind"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	ClaimKey string            `json:"claim_key,omitempty"`
	Polarity Polarity          `json:"polarity,omitempty"`
}

// Relation classifies a knowledge-store edge.
type Relation string

const (
	RelSupports     Relation = "SUPPORTS"
	RelContradicts  Relation = "CONTRADICTS"
	RelDerivedFrom  Relation = "DERIVED_FROM"
	RelNext         Relation = "NEXT"
	RelConsentBound Relation = "CONSENT_BOUND"
)

// Edge links two nodes. Immutable once committed.
type Edge struct {
	Src      string   `json:"src"`
	Relation Relation `json:"relation"`
	Dst      string   `json:"dst"`
}

// GraphDelta is an uncommitted bundle of nodes and edges, owned by a
// single request. It is validated and rewritten before it may be merged
// into the knowledge store.
type GraphDelta struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Empty reports whether the delta carries no changes.
func (d GraphDelta) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0
}

// MergeDeltas concatenates two deltas, compactor output first. Order is
// load-bearing: post-rewrite truncation drops most-recently-added first,
// so proposer-contributed entries are shed before compactor entries.
func MergeDeltas(a, b GraphDelta) GraphDelta {
	out := GraphDelta{
		Nodes: make([]Node, 0, len(a.Nodes)+len(b.Nodes)),
		Edges: make([]Edge, 0, len(a.Edges)+len(b.Edges)),
	}
	out.Nodes = append(out.Nodes, a.Nodes...)
	out.Nodes = append(out.Nodes, b.Nodes...)
	out.Edges = append(out.Edges, a.Edges...)
	out.Edges = append(out.Edges, b.Edges...)
	return out
}

// Brick is one content-addressed fragment of compacted text.
type Brick struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Denotum is the deterministic graph fragment produced by the text
// compactor: a root, ordered bricks, and NEXT edges between consecutive
// bricks. Produced fresh per request.
type Denotum struct {
	RootID string  `json:"root_id"`
	Bricks []Brick `json:"bricks"`
	Edges  []Edge  `json:"edges"`
}
