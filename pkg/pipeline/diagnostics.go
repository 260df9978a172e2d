package pipeline

import (
	"fmt"

	"github.com/roundtree-labs/roundtree/pkg/contracts"
	"github.com/roundtree-labs/roundtree/pkg/policy"
)

// VerifyTail re-verifies the last n audit receipts (n <= 0 means all).
// Read-only diagnostic; a failure here never gates live traffic.
func (p *Pipeline) VerifyTail(n int) bool {
	return p.log.VerifyTail(n) == nil
}

// Heads returns the current audit and graph chain heads.
func (p *Pipeline) Heads() (auditHead, graphHead string) {
	return p.log.Head(), p.store.Head()
}

// Receipts returns a copy of the audit chain.
func (p *Pipeline) Receipts() []contracts.Receipt {
	return p.log.Entries()
}

// PublicKeyHex exposes the receipt-verification key.
func (p *Pipeline) PublicKeyHex() string {
	return p.log.PublicKeyHex()
}

// Invariants returns the non-overrideable rule set.
func (p *Pipeline) Invariants() []policy.Invariant {
	return policy.Invariants()
}

// Describe summarizes the active policy, chain heads, and store sizes.
func (p *Pipeline) Describe() string {
	auditHead, graphHead := p.Heads()
	return p.engine.Describe() +
		fmt.Sprintf("audit_head: %s\naudit_receipts: %d\ngraph_head: %s\ngraph_nodes: %d\ngraph_edges: %d\npublic_key: %s\n",
			auditHead, p.log.Len(), graphHead, p.store.NodeCount(), p.store.EdgeCount(), p.PublicKeyHex())
}
