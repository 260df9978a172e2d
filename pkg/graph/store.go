// Package graph is the committed knowledge store: an append-only set of
// nodes and edges advanced only through all-or-nothing delta commits,
// each extending a hash chain over canonicalized deltas.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/roundtree-labs/roundtree/pkg/canonicalize"
	"github.com/roundtree-labs/roundtree/pkg/contracts"
)

// Genesis is the sentinel prev value of the first commit.
const Genesis = "genesis"

// CommitRecord is one journal entry: the delta plus its chain position.
type CommitRecord struct {
	Seq       int                  `json:"seq"`
	Delta     contracts.GraphDelta `json:"delta"`
	DeltaHash string               `json:"delta_hash"`
	Prev      string               `json:"prev"`
	Head      string               `json:"head"`
}

// Journal persists commit records in order.
type Journal interface {
	SaveCommit(rec CommitRecord) error
	LoadCommits() ([]CommitRecord, error)
}

// Store holds the committed graph. Nodes and edges are immutable once
// committed; a delta that conflicts with committed state is refused
// whole.
type Store struct {
	mu      sync.RWMutex
	nodes   map[string]contracts.Node
	edges   []contracts.Edge
	edgeSet map[string]struct{}
	head    string
	seq     int
	journal Journal
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithJournal attaches a persistent commit journal.
func WithJournal(j Journal) StoreOption {
	return func(s *Store) { s.journal = j }
}

// NewStore builds an empty store rooted at the genesis sentinel.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		nodes:   make(map[string]contracts.Node),
		edgeSet: make(map[string]struct{}),
		head:    Genesis,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func edgeKey(e contracts.Edge) string {
	return e.Src + "|" + string(e.Relation) + "|" + e.Dst
}

// CommitHead computes the chained head for one delta hash.
func CommitHead(prev, deltaHash string) string {
	return canonicalize.HashString("G|" + prev + "|" + deltaHash)
}

// Commit applies a delta atomically and returns the new graph head. A
// node ID that is already committed must carry identical content; edges
// already committed are absorbed, so identical deltas are idempotent on
// content (each commit still advances the head). On any error nothing
// is applied.
func (s *Store) Commit(delta contracts.GraphDelta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{}, len(delta.Nodes))
	for _, n := range delta.Nodes {
		if n.ID == "" {
			return "", fmt.Errorf("graph: node with empty id")
		}
		if existing, ok := s.nodes[n.ID]; ok && !nodesEqual(existing, n) {
			return "", fmt.Errorf("graph: node %s conflicts with committed content", n.ID)
		}
		known[n.ID] = struct{}{}
	}
	for _, e := range delta.Edges {
		if _, ok := s.nodes[e.Src]; !ok {
			if _, ok := known[e.Src]; !ok {
				return "", fmt.Errorf("graph: edge source %s unresolved", e.Src)
			}
		}
		if _, ok := s.nodes[e.Dst]; !ok {
			if _, ok := known[e.Dst]; !ok {
				return "", fmt.Errorf("graph: edge target %s unresolved", e.Dst)
			}
		}
	}

	deltaHash, err := canonicalize.CanonicalHash(delta)
	if err != nil {
		return "", fmt.Errorf("graph: hash delta: %w", err)
	}
	head := CommitHead(s.head, deltaHash)
	rec := CommitRecord{
		Seq:       s.seq + 1,
		Delta:     delta,
		DeltaHash: deltaHash,
		Prev:      s.head,
		Head:      head,
	}
	if s.journal != nil {
		if err := s.journal.SaveCommit(rec); err != nil {
			return "", fmt.Errorf("graph: journal commit %d: %w", rec.Seq, err)
		}
	}

	for _, n := range delta.Nodes {
		s.nodes[n.ID] = n
	}
	for _, e := range delta.Edges {
		if _, dup := s.edgeSet[edgeKey(e)]; dup {
			continue
		}
		s.edges = append(s.edges, e)
		s.edgeSet[edgeKey(e)] = struct{}{}
	}
	s.head = head
	s.seq = rec.Seq
	return head, nil
}

func nodesEqual(a, b contracts.Node) bool {
	if a.ID != b.ID || a.Kind != b.Kind || a.ClaimKey != b.ClaimKey || a.Polarity != b.Polarity {
		return false
	}
	if len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for k, v := range a.Attrs {
		if b.Attrs[k] != v {
			return false
		}
	}
	return true
}

// Head returns the current graph head.
func (s *Store) Head() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// NodeCount returns the number of committed nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of committed edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Node returns the committed node with the given ID.
func (s *Store) Node(id string) (contracts.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// HasEdge reports whether the exact edge is committed.
func (s *Store) HasEdge(e contracts.Edge) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edgeSet[edgeKey(e)]
	return ok
}

// Snapshot returns copies of the named nodes, sorted by ID. Unknown IDs
// are skipped.
func (s *Store) Snapshot(ids []string) []contracts.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.Node, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if n, ok := s.nodes[id]; ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EdgesAmong returns committed edges whose endpoints are both in ids, in
// commit order.
func (s *Store) EdgesAmong(ids []string) []contracts.Edge {
	member := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		member[id] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []contracts.Edge
	for _, e := range s.edges {
		if _, a := member[e.Src]; !a {
			continue
		}
		if _, b := member[e.Dst]; !b {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Replay rebuilds a store from journal records, verifying the hash chain
// as it goes.
func Replay(records []CommitRecord, opts ...StoreOption) (*Store, error) {
	s := NewStore()
	for i, rec := range records {
		deltaHash, err := canonicalize.CanonicalHash(rec.Delta)
		if err != nil {
			return nil, fmt.Errorf("graph: replay %d: hash: %w", i, err)
		}
		if deltaHash != rec.DeltaHash {
			return nil, fmt.Errorf("graph: replay %d: delta hash mismatch", i)
		}
		if rec.Prev != s.head {
			return nil, fmt.Errorf("graph: replay %d: broken prev link", i)
		}
		head, err := s.Commit(rec.Delta)
		if err != nil {
			return nil, fmt.Errorf("graph: replay %d: %w", i, err)
		}
		if head != rec.Head {
			return nil, fmt.Errorf("graph: replay %d: head mismatch", i)
		}
	}
	// Attach options (journal) only after replay so records are not
	// re-persisted.
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}
