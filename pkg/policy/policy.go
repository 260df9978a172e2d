// Package policy defines the versioned policy document the pipeline is
// parameterized by, and the compiled engine that evaluates it. Policy
// loading is fail-closed: a policy that does not compile in full is not
// a weaker policy, it is no policy, and the constructor refuses it.
package policy

import (
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SupportedVersions gates which policy documents this build will load.
const SupportedVersions = "1.x"

// Invariant names a rule that no policy document may relax.
type Invariant string

const (
	InvariantAntiBypass          Invariant = "ANTI_BYPASS"
	InvariantPolicyBeamsEnforced Invariant = "POLICY_BEAMS_ENFORCED"
	InvariantSignedReceipts      Invariant = "SIGNED_RECEIPTS"
	InvariantNoSecretEgress      Invariant = "NO_SECRET_EGRESS"
	InvariantAntiPhishing        Invariant = "ANTI_PHISHING"
	InvariantMRTFidelityMin      Invariant = "MRT_FIDELITY_MIN"
)

// Invariants returns the fixed, non-overrideable rule set in canonical
// order.
func Invariants() []Invariant {
	return []Invariant{
		InvariantAntiBypass,
		InvariantPolicyBeamsEnforced,
		InvariantSignedReceipts,
		InvariantNoSecretEgress,
		InvariantAntiPhishing,
		InvariantMRTFidelityMin,
	}
}

// Policy is the tunable-parameter document. Parameters may tighten or
// loosen thresholds, but cannot disable an invariant: there is no field
// that turns a check off.
type Policy struct {
	Version string `json:"version"`

	MRTMinFidelity  float64       `json:"mrt_min_fidelity"`
	ProposerCallTTL time.Duration `json:"proposer_call_ttl"`

	MaxWorkingNodes int `json:"max_working_nodes"`
	MaxDeltaNodes   int `json:"max_delta_nodes"`
	MaxDeltaEdges   int `json:"max_delta_edges"`

	// AntiPhishingPatterns are case-insensitive regexes matched against
	// normalized input text at PRE_CHECK.
	AntiPhishingPatterns []string `json:"anti_phishing_patterns"`
	// SecretDenyPatterns refuse the request outright wherever they match
	// (delta attributes, output text).
	SecretDenyPatterns []string `json:"secret_deny_patterns"`
	// SecretRedactPatterns are rewritten to the redaction marker at
	// EGRESS instead of refusing.
	SecretRedactPatterns []string `json:"secret_redact_patterns"`
	// DenyExpressions are CEL predicates over the variable `text`; any
	// expression evaluating true denies at PRE_CHECK.
	DenyExpressions []string `json:"deny_expressions"`
}

// Default returns the shipped baseline policy.
func Default() Policy {
	return Policy{
		Version:         "1.0.0",
		MRTMinFidelity:  0.985,
		ProposerCallTTL: 60 * time.Second,
		MaxWorkingNodes: 64,
		MaxDeltaNodes:   64,
		MaxDeltaEdges:   128,
		AntiPhishingPatterns: []string{
			`ignore (all )?(previous|prior) (instructions|rules)`,
			`disregard .{0,40}(instructions|policy|policies)`,
			`reveal .{0,40}(system prompt|hidden prompt|secret key)`,
			`you are now (dan|developer mode)`,
			`pretend (you have|there are) no (rules|restrictions)`,
			`(give|send|tell|show)\s+me\s+your\s+.{0,20}(password|credential|passphrase)`,
		},
		SecretDenyPatterns: []string{
			`-----BEGIN [A-Z ]*PRIVATE KEY-----`,
			`AKIA[0-9A-Z]{16}`,
			`xox[baprs]-[0-9A-Za-z-]{10,}`,
		},
		SecretRedactPatterns: []string{
			`(?i)\b(api[_-]?key|secret|token|password)\s*[:=]\s*\S+`,
			`\bgh[pousr]_[0-9A-Za-z]{20,}\b`,
			`\beyJ[0-9A-Za-z_-]{10,}\.[0-9A-Za-z_-]{10,}\.[0-9A-Za-z_-]{10,}\b`,
		},
		DenyExpressions: []string{
			`text.contains("BEGIN PRIVATE KEY")`,
		},
	}
}

// Validate checks internal consistency before compilation.
func (p Policy) Validate() error {
	c, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return fmt.Errorf("policy: constraint: %w", err)
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return fmt.Errorf("policy: parse version %q: %w", p.Version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("policy: version %s outside supported range %s", p.Version, SupportedVersions)
	}
	if p.MRTMinFidelity < 0 || p.MRTMinFidelity > 1 {
		return fmt.Errorf("policy: mrt_min_fidelity %v outside [0,1]", p.MRTMinFidelity)
	}
	if p.ProposerCallTTL <= 0 {
		return fmt.Errorf("policy: proposer_call_ttl must be positive")
	}
	if p.MaxWorkingNodes <= 0 || p.MaxDeltaNodes <= 0 || p.MaxDeltaEdges <= 0 {
		return fmt.Errorf("policy: size bounds must be positive")
	}
	return nil
}
