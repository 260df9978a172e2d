// Package pipeline is the governed request corridor: INGRESS →
// PRE_CHECK → KERNEL → POST_CHECK → EGRESS, each with a DENY exit. The
// only public entry point is Submit; stage logic is unexported and a
// Pipeline cannot be constructed without every check in place.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/roundtree-labs/roundtree/pkg/audit"
	"github.com/roundtree-labs/roundtree/pkg/canonicalize"
	"github.com/roundtree-labs/roundtree/pkg/capability"
	"github.com/roundtree-labs/roundtree/pkg/compactor"
	"github.com/roundtree-labs/roundtree/pkg/contracts"
	rtcrypto "github.com/roundtree-labs/roundtree/pkg/crypto"
	"github.com/roundtree-labs/roundtree/pkg/fidelity"
	"github.com/roundtree-labs/roundtree/pkg/graph"
	"github.com/roundtree-labs/roundtree/pkg/observability"
	"github.com/roundtree-labs/roundtree/pkg/policy"
	"github.com/roundtree-labs/roundtree/pkg/redact"
	"github.com/roundtree-labs/roundtree/pkg/rewriter"
	"github.com/roundtree-labs/roundtree/pkg/validator"
)

const systemName = "roundtree"

// Pipeline owns the whole corridor. All fields are unexported; the
// constructor wires every gate and there is no way to skip one.
type Pipeline struct {
	engine    *policy.Engine
	validator *validator.Validator
	redactor  *redact.Redactor
	log       *audit.ChainLog
	store     *graph.Store
	index     *graph.TokenIndex
	issuer    *capability.Issuer
	guard     *capability.Guard
	limiter   *rate.Limiter
	logger    *slog.Logger
	obs       *observability.Provider
	clock     func() time.Time
	subject   string

	// commitMu is the single serialization point: capability minting,
	// the graph commit, and the kernel receipt append run under it.
	commitMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*config)

type config struct {
	clock      func() time.Time
	nonce      func() string
	logger     *slog.Logger
	obs        *observability.Provider
	limit      rate.Limit
	burst      int
	auditStore audit.Store
	journal    graph.Journal
	subject    string
}

// WithClock overrides the time source everywhere (receipts, tokens).
func WithClock(clock func() time.Time) Option {
	return func(c *config) { c.clock = clock }
}

// WithNonceSource overrides receipt and token ID generation.
func WithNonceSource(nonce func() string) Option {
	return func(c *config) { c.nonce = nonce }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithObservability attaches an OTel provider.
func WithObservability(p *observability.Provider) Option {
	return func(c *config) { c.obs = p }
}

// WithRateLimit enables the ingress admission limiter.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *config) { c.limit = limit; c.burst = burst }
}

// WithAuditStore persists receipts; on construction the existing chain
// is replayed and verified before the pipeline accepts requests.
func WithAuditStore(s audit.Store) Option {
	return func(c *config) { c.auditStore = s }
}

// WithJournal persists graph commits; existing records are replayed
// into the store and the working-set index on construction.
func WithJournal(j graph.Journal) Option {
	return func(c *config) { c.journal = j }
}

// WithSubject sets the user identity capability tokens are minted for.
func WithSubject(subject string) Option {
	return func(c *config) { c.subject = subject }
}

// New wires a complete pipeline. Policy compilation is fail-closed: a
// policy that does not compile yields no pipeline at all.
func New(pol policy.Policy, kp rtcrypto.KeyProvider, proposer capability.Proposer, opts ...Option) (*Pipeline, error) {
	if proposer == nil {
		return nil, errors.New("pipeline: proposer is required")
	}
	engine, err := policy.Compile(pol)
	if err != nil {
		return nil, err
	}

	cfg := config{
		clock:   time.Now,
		nonce:   uuid.NewString,
		logger:  slog.Default(),
		subject: "local",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	signer := rtcrypto.NewSigner(kp)
	var log *audit.ChainLog
	if cfg.auditStore != nil {
		log, err = audit.ResumeChainLog(signer, systemName, cfg.auditStore,
			audit.WithClock(cfg.clock), audit.WithNonce(cfg.nonce))
		if err != nil {
			return nil, err
		}
	} else {
		log = audit.NewChainLog(signer, systemName,
			audit.WithClock(cfg.clock), audit.WithNonce(cfg.nonce))
	}

	index := graph.NewTokenIndex()
	var store *graph.Store
	if cfg.journal != nil {
		records, err := cfg.journal.LoadCommits()
		if err != nil {
			return nil, fmt.Errorf("pipeline: load journal: %w", err)
		}
		store, err = graph.Replay(records, graph.WithJournal(cfg.journal))
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			index.AddDelta(rec.Delta)
		}
	} else {
		store = graph.NewStore()
	}

	issuer, err := capability.NewIssuer(kp, engine.Policy().ProposerCallTTL,
		capability.WithClock(cfg.clock), capability.WithNonce(cfg.nonce))
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		engine:    engine,
		validator: validator.New(engine),
		redactor:  redact.New(engine.RedactPatterns()),
		log:       log,
		store:     store,
		index:     index,
		issuer:    issuer,
		guard:     capability.NewGuard(issuer, proposer),
		logger:    cfg.logger.With("component", "pipeline"),
		obs:       cfg.obs,
		clock:     cfg.clock,
		subject:   cfg.subject,
	}
	if cfg.limit > 0 {
		p.limiter = rate.NewLimiter(cfg.limit, cfg.burst)
	}
	return p, nil
}

var noopTracer = noop.NewTracerProvider().Tracer("roundtree.kernel")

func (p *Pipeline) startSpan(ctx context.Context) (context.Context, trace.Span) {
	if p.obs == nil {
		return noopTracer.Start(ctx, "pipeline.submit")
	}
	return p.obs.StartSpan(ctx, "pipeline.submit")
}

// Submit runs one request through the corridor. The returned error is
// reserved for infrastructure failures (audit persistence); every
// policy outcome, allow or deny, arrives as a PipelineResult.
func (p *Pipeline) Submit(ctx context.Context, text string) (contracts.PipelineResult, error) {
	start := p.clock()
	ctx, span := p.startSpan(ctx)
	defer span.End()
	if p.obs != nil {
		p.obs.RecordRequest(ctx)
		defer func() {
			p.obs.RecordDuration(ctx, p.clock().Sub(start))
		}()
	}

	// INGRESS
	if p.limiter != nil && !p.limiter.Allow() {
		return p.deny(ctx, contracts.StageIngress, contracts.DenyResourceExhausted, "admission limiter exhausted")
	}
	normalized := compactor.Normalize(text)
	inputHash := canonicalize.HashString(normalized)
	if _, err := p.log.Append("ingress.accept", map[string]string{
		"subject":    p.subject,
		"input_hash": inputHash,
	}); err != nil {
		return contracts.PipelineResult{}, err
	}

	// PRE_CHECK
	if normalized == "" {
		return p.deny(ctx, contracts.StagePreCheck, contracts.DenyEmptyInput, "input empty after normalization")
	}
	if pat, hit := p.engine.MatchPhishing(normalized); hit {
		return p.deny(ctx, contracts.StagePreCheck, contracts.DenyPhishingRisk, "pattern "+pat)
	}
	if expr, hit := p.engine.EvalDeny(normalized); hit {
		return p.deny(ctx, contracts.StagePreCheck, contracts.DenyPhishingRisk, "expression "+expr)
	}
	if _, err := p.log.Append("pre_check.pass", nil); err != nil {
		return contracts.PipelineResult{}, err
	}

	// KERNEL
	out, denied, err := p.kernel(ctx, normalized)
	if err != nil {
		return contracts.PipelineResult{}, err
	}
	if out == nil {
		return denied, nil
	}

	// POST_CHECK
	if out.mrt < p.engine.Policy().MRTMinFidelity {
		return p.deny(ctx, contracts.StagePostCheck, contracts.DenyMRTGateFail,
			fmt.Sprintf("mrt %.4f below %.4f", out.mrt, p.engine.Policy().MRTMinFidelity))
	}
	if pat, hit := p.engine.MatchSecretDeny(out.answer); hit {
		return p.deny(ctx, contracts.StagePostCheck, contracts.DenySecretInOutput, "pattern "+pat)
	}
	answer, redacted := p.redactor.Apply(out.answer)
	if _, err := p.log.Append("post_check.pass", map[string]string{
		"mrt":      strconv.FormatFloat(out.mrt, 'f', 6, 64),
		"redacted": strconv.FormatBool(redacted),
	}); err != nil {
		return contracts.PipelineResult{}, err
	}

	// EGRESS
	final, err := p.log.Append("egress.allow", map[string]string{
		"graph_head":   out.graphHead,
		"denotum_root": out.denotumRoot,
	})
	if err != nil {
		return contracts.PipelineResult{}, err
	}
	witness := contracts.Witness{
		AuditHead:          final.Head,
		GraphHead:          out.graphHead,
		DenotumRoot:        out.denotumRoot,
		MRT:                out.mrt,
		WorkingNodeCount:   uint(out.workingCount),
		CommittedNodeCount: uint(out.nodeCount),
		CommittedEdgeCount: uint(out.edgeCount),
	}
	p.logger.Info("request allowed",
		"audit_head", witness.AuditHead,
		"graph_head", witness.GraphHead,
		"mrt", witness.MRT)
	return contracts.Allow(answer, witness), nil
}

// kernelOutcome carries a committed request's answer and witness
// material into POST_CHECK.
type kernelOutcome struct {
	answer       string
	denotumRoot  string
	graphHead    string
	mrt          float64
	workingCount int
	nodeCount    int
	edgeCount    int
}

// kernel runs working-set selection, capability minting, compaction,
// the guarded proposer call, validation, rewriting, the commit, and the
// fidelity computation. Exactly one of outcome and denial is set unless
// err is non-nil.
func (p *Pipeline) kernel(ctx context.Context, normalized string) (*kernelOutcome, contracts.PipelineResult, error) {
	ids := p.index.Lookup(normalized, p.engine.Policy().MaxWorkingNodes)
	working := p.store.Snapshot(ids)
	workingEdges := p.store.EdgesAmong(ids)

	// Mint under the commit boundary so the bound head is a real,
	// stable chain state.
	p.commitMu.Lock()
	tok, err := p.issuer.Mint(p.subject, p.log.Head())
	p.commitMu.Unlock()
	if err != nil {
		denied, derr := p.deny(ctx, contracts.StageKernel, contracts.DenyCapabilityMissing, err.Error())
		return nil, denied, derr
	}

	denotum := compactor.Compact(normalized)
	baseDelta := compactor.ToDelta(denotum)

	proposal, err := p.guard.Call(ctx, tok, tok.AuditHead, capability.Request{
		Input:      normalized,
		WorkingSet: working,
		Denotum:    denotum,
	})
	if err != nil {
		denied, derr := p.deny(ctx, contracts.StageKernel, capabilityDenyCode(err), err.Error())
		return nil, denied, derr
	}

	merged := contracts.MergeDeltas(baseDelta, proposalDelta(proposal.Delta))
	if dErr := p.validator.Validate(merged, working); dErr != nil {
		denied, derr := p.deny(ctx, contracts.StageKernel, dErr.Code, dErr.Detail)
		return nil, denied, derr
	}
	pol := p.engine.Policy()
	rewritten := rewriter.Rewrite(merged, workingEdges, pol.MaxDeltaNodes, pol.MaxDeltaEdges)

	p.commitMu.Lock()
	graphHead, err := p.store.Commit(rewritten)
	if err != nil {
		p.commitMu.Unlock()
		denied, derr := p.deny(ctx, contracts.StageKernel, contracts.DenyCommitFailure, err.Error())
		return nil, denied, derr
	}
	p.index.AddDelta(rewritten)
	_, appendErr := p.log.Append("kernel.commit", map[string]string{
		"graph_head":   graphHead,
		"denotum_root": denotum.RootID,
		"nodes":        strconv.Itoa(len(rewritten.Nodes)),
		"edges":        strconv.Itoa(len(rewritten.Edges)),
	})
	p.commitMu.Unlock()
	if appendErr != nil {
		return nil, contracts.PipelineResult{}, appendErr
	}

	return &kernelOutcome{
		answer:       proposal.AnswerText,
		denotumRoot:  denotum.RootID,
		graphHead:    graphHead,
		mrt:          fidelity.Score(normalized, fidelity.Render(denotum, proposal.AnswerText)),
		workingCount: len(working),
		nodeCount:    len(rewritten.Nodes),
		edgeCount:    len(rewritten.Edges),
	}, contracts.PipelineResult{}, nil
}

func capabilityDenyCode(err error) contracts.DenyCode {
	switch {
	case errors.Is(err, capability.ErrExpired):
		return contracts.DenyCapabilityExpired
	case errors.Is(err, capability.ErrMismatch):
		return contracts.DenyCapabilityMismatch
	case errors.Is(err, capability.ErrMissing):
		return contracts.DenyCapabilityMissing
	default:
		return contracts.DenyProposerFailure
	}
}

// proposalDelta converts untrusted proposer output into delta form for
// validation. Claims become CLAIM nodes with content-addressed IDs.
func proposalDelta(d capability.ProposalDelta) contracts.GraphDelta {
	var out contracts.GraphDelta
	for _, c := range d.Claims {
		out.Nodes = append(out.Nodes, contracts.Node{
			ID:       c.NodeID(),
			Kind:     contracts.NodeClaim,
			Attrs:    map[string]string{"text": c.Text},
			ClaimKey: c.ClaimKey,
			Polarity: c.Polarity,
		})
	}
	for _, e := range d.Edges {
		out.Edges = append(out.Edges, contracts.Edge{
			Src:      e.Src,
			Relation: e.Relation,
			Dst:      e.Dst,
		})
	}
	return out
}

// deny writes the stage's deny receipt and returns the terminal result.
// Receipt failure is surfaced in the log but never converts a denial
// into an allow.
func (p *Pipeline) deny(ctx context.Context, stage contracts.Stage, code contracts.DenyCode, detail string) (contracts.PipelineResult, error) {
	event := stageEvent(stage) + ".deny"
	if _, err := p.log.Append(event, map[string]string{
		"code":   string(code),
		"detail": detail,
	}); err != nil {
		p.logger.Error("deny receipt append failed", "event", event, "error", err)
	}
	p.logger.Warn("request denied", "stage", stage, "code", code, "detail", detail)
	if p.obs != nil {
		p.obs.RecordDenial(ctx, string(stage), string(code))
	}
	return contracts.Deny(stage, code), nil
}

func stageEvent(stage contracts.Stage) string {
	switch stage {
	case contracts.StageIngress:
		return "ingress"
	case contracts.StagePreCheck:
		return "pre_check"
	case contracts.StageKernel:
		return "kernel"
	case contracts.StagePostCheck:
		return "post_check"
	default:
		return "egress"
	}
}
