package contracts

// Stage names a pipeline state.
type Stage string

const (
	StageIngress   Stage = "INGRESS"
	StagePreCheck  Stage = "PRE_CHECK"
	StageKernel    Stage = "KERNEL"
	StagePostCheck Stage = "POST_CHECK"
	StageEgress    Stage = "EGRESS"
)

// DenyCode categorizes why a request was refused. Every refusal is
// receipted; none are silently retried.
type DenyCode string

const (
	DenyEmptyInput           DenyCode = "EMPTY_INPUT"
	DenyPhishingRisk         DenyCode = "PHISHING_RISK"
	DenyResourceExhausted    DenyCode = "RESOURCE_EXHAUSTED"
	DenyCapabilityMissing    DenyCode = "CAPABILITY_MISSING"
	DenyCapabilityExpired    DenyCode = "CAPABILITY_EXPIRED"
	DenyCapabilityMismatch   DenyCode = "CAPABILITY_MISMATCH"
	DenyDeltaTooLarge        DenyCode = "DELTA_TOO_LARGE"
	DenySchemaViolation      DenyCode = "SCHEMA_VIOLATION"
	DenyDanglingEdge         DenyCode = "DANGLING_EDGE"
	DenyContradictionInDelta DenyCode = "CONTRADICTION_IN_DELTA"
	DenySecretInDelta        DenyCode = "SECRET_IN_DELTA"
	DenyMRTGateFail          DenyCode = "MRT_GATE_FAIL"
	DenySecretInOutput       DenyCode = "SECRET_IN_OUTPUT"
	DenyProposerFailure      DenyCode = "PROPOSER_FAILURE"
	DenyCommitFailure        DenyCode = "COMMIT_FAILURE"
)

// Witness is the verifiable summary attached to every allowed response.
// All fields are present or absent together.
type Witness struct {
	AuditHead          string  `json:"audit_head"`
	GraphHead          string  `json:"graph_head"`
	DenotumRoot        string  `json:"denotum_root"`
	MRT                float64 `json:"mrt"`
	WorkingNodeCount   uint    `json:"working_node_count"`
	CommittedNodeCount uint    `json:"committed_node_count"`
	CommittedEdgeCount uint    `json:"committed_edge_count"`
}

// PipelineResult is the outcome of one Submit call: either an allowed
// answer with its witness, or a staged denial.
type PipelineResult struct {
	Allowed    bool     `json:"allowed"`
	AnswerText string   `json:"answer_text,omitempty"`
	Witness    *Witness `json:"witness,omitempty"`
	Stage      Stage    `json:"stage,omitempty"`
	Code       DenyCode `json:"code,omitempty"`
}

// Allow builds a successful result.
func Allow(answer string, w Witness) PipelineResult {
	return PipelineResult{Allowed: true, AnswerText: answer, Witness: &w}
}

// Deny builds a refused result.
func Deny(stage Stage, code DenyCode) PipelineResult {
	return PipelineResult{Allowed: false, Stage: stage, Code: code}
}
