// Package validator is the PRE-commit gauntlet for graph deltas. Checks
// run in a fixed order — size, shape, edge resolution, contradiction,
// secret material — and the first failure wins. A delta that passes is
// safe to hand to the rewriter and then the store.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roundtree-labs/roundtree/pkg/contracts"
	"github.com/roundtree-labs/roundtree/pkg/policy"
)

// DenyError carries the refusal code and a human-readable detail.
type DenyError struct {
	Code   contracts.DenyCode
	Detail string
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

const deltaSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "nodes": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id", "kind"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {"enum": ["SYSTEM", "ENTITY", "CLAIM", "POLICY", "PROVENANCE"]},
          "attrs": {"type": "object", "additionalProperties": {"type": "string"}},
          "claim_key": {"type": "string"},
          "polarity": {"enum": ["pos", "neg"]}
        },
        "if": {"properties": {"kind": {"const": "CLAIM"}}},
        "then": {"required": ["id", "kind", "claim_key", "polarity"]},
        "additionalProperties": false
      }
    },
    "edges": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["src", "relation", "dst"],
        "properties": {
          "src": {"type": "string", "minLength": 1},
          "relation": {"enum": ["SUPPORTS", "CONTRADICTS", "DERIVED_FROM", "NEXT", "CONSENT_BOUND"]},
          "dst": {"type": "string", "minLength": 1}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("delta.json", deltaSchema)

// Validator checks deltas against the active policy.
type Validator struct {
	engine *policy.Engine
}

// New builds a validator on a compiled policy engine.
func New(engine *policy.Engine) *Validator {
	return &Validator{engine: engine}
}

// Validate runs the gauntlet against delta in the context of the
// request's working set. Returns nil when the delta may proceed.
func (v *Validator) Validate(delta contracts.GraphDelta, working []contracts.Node) *DenyError {
	p := v.engine.Policy()

	if len(delta.Nodes) > p.MaxDeltaNodes {
		return &DenyError{
			Code:   contracts.DenyDeltaTooLarge,
			Detail: fmt.Sprintf("%d nodes exceeds bound %d", len(delta.Nodes), p.MaxDeltaNodes),
		}
	}
	if len(delta.Edges) > p.MaxDeltaEdges {
		return &DenyError{
			Code:   contracts.DenyDeltaTooLarge,
			Detail: fmt.Sprintf("%d edges exceeds bound %d", len(delta.Edges), p.MaxDeltaEdges),
		}
	}

	if err := checkShape(delta); err != nil {
		return err
	}
	if err := checkEdges(delta, working); err != nil {
		return err
	}
	if err := checkContradictions(delta, working); err != nil {
		return err
	}
	return v.checkSecrets(delta)
}

func checkShape(delta contracts.GraphDelta) *DenyError {
	raw, err := json.Marshal(delta)
	if err != nil {
		return &DenyError{Code: contracts.DenySchemaViolation, Detail: err.Error()}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return &DenyError{Code: contracts.DenySchemaViolation, Detail: err.Error()}
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return &DenyError{Code: contracts.DenySchemaViolation, Detail: err.Error()}
	}
	return nil
}

func checkEdges(delta contracts.GraphDelta, working []contracts.Node) *DenyError {
	known := make(map[string]struct{}, len(delta.Nodes)+len(working))
	for _, n := range delta.Nodes {
		known[n.ID] = struct{}{}
	}
	for _, n := range working {
		known[n.ID] = struct{}{}
	}
	for _, e := range delta.Edges {
		if _, ok := known[e.Src]; !ok {
			return &DenyError{Code: contracts.DenyDanglingEdge, Detail: fmt.Sprintf("source %s unresolved", e.Src)}
		}
		if _, ok := known[e.Dst]; !ok {
			return &DenyError{Code: contracts.DenyDanglingEdge, Detail: fmt.Sprintf("target %s unresolved", e.Dst)}
		}
	}
	return nil
}

// checkContradictions seeds a claim-key polarity map from the working
// set, then folds in the delta's claims. Two polarities for one key,
// whichever side came first, is a refusal.
func checkContradictions(delta contracts.GraphDelta, working []contracts.Node) *DenyError {
	seen := make(map[string]contracts.Polarity)
	for _, n := range working {
		if n.Kind == contracts.NodeClaim && n.ClaimKey != "" {
			seen[n.ClaimKey] = n.Polarity
		}
	}
	for _, n := range delta.Nodes {
		if n.Kind != contracts.NodeClaim || n.ClaimKey == "" {
			continue
		}
		if prev, ok := seen[n.ClaimKey]; ok && prev != n.Polarity {
			return &DenyError{
				Code:   contracts.DenyContradictionInDelta,
				Detail: fmt.Sprintf("claim %q asserted with both polarities", n.ClaimKey),
			}
		}
		seen[n.ClaimKey] = n.Polarity
	}
	return nil
}

func (v *Validator) checkSecrets(delta contracts.GraphDelta) *DenyError {
	for _, n := range delta.Nodes {
		for k, val := range n.Attrs {
			if pat, hit := v.engine.MatchSecretDeny(val); hit {
				return &DenyError{
					Code:   contracts.DenySecretInDelta,
					Detail: fmt.Sprintf("node %s attr %s matches %s", n.ID, k, pat),
				}
			}
		}
		if pat, hit := v.engine.MatchSecretDeny(n.ClaimKey); hit {
			return &DenyError{
				Code:   contracts.DenySecretInDelta,
				Detail: fmt.Sprintf("node %s claim key matches %s", n.ID, pat),
			}
		}
	}
	return nil
}
