package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
)

// Engine is a fully compiled policy. Construction fails if any pattern
// or expression does not compile; there is no partial engine.
type Engine struct {
	policy Policy

	phishing []*regexp.Regexp
	deny     []*regexp.Regexp
	redact   []*regexp.Regexp
	programs []cel.Program
}

// Compile validates p and compiles every pattern and CEL expression.
func Compile(p Policy) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{policy: p}

	var err error
	if e.phishing, err = compilePatterns("anti_phishing", p.AntiPhishingPatterns); err != nil {
		return nil, err
	}
	if e.deny, err = compilePatterns("secret_deny", p.SecretDenyPatterns); err != nil {
		return nil, err
	}
	if e.redact, err = compilePatterns("secret_redact", p.SecretRedactPatterns); err != nil {
		return nil, err
	}

	env, err := cel.NewEnv(cel.Variable("text", cel.StringType))
	if err != nil {
		return nil, fmt.Errorf("policy: cel env: %w", err)
	}
	for _, expr := range p.DenyExpressions {
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("policy: compile expression %q: %w", expr, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("policy: expression %q does not yield bool", expr)
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policy: program %q: %w", expr, err)
		}
		e.programs = append(e.programs, prg)
	}
	return e, nil
}

func compilePatterns(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("policy: compile %s pattern %q: %w", kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Policy returns the source document.
func (e *Engine) Policy() Policy { return e.policy }

// MatchPhishing reports whether text trips an anti-phishing pattern, and
// if so which one.
func (e *Engine) MatchPhishing(text string) (string, bool) {
	return matchAny(e.phishing, text)
}

// MatchSecretDeny reports whether text contains unredactable secret
// material.
func (e *Engine) MatchSecretDeny(text string) (string, bool) {
	return matchAny(e.deny, text)
}

// RedactPatterns exposes the compiled redaction set for the egress
// rewriter.
func (e *Engine) RedactPatterns() []*regexp.Regexp {
	return e.redact
}

// EvalDeny runs every deny expression against text. Evaluation errors
// deny: an expression the engine cannot decide is treated as tripped.
func (e *Engine) EvalDeny(text string) (string, bool) {
	for i, prg := range e.programs {
		out, _, err := prg.Eval(map[string]any{"text": text})
		if err != nil {
			return e.policy.DenyExpressions[i], true
		}
		if b, ok := out.Value().(bool); ok && b {
			return e.policy.DenyExpressions[i], true
		}
	}
	return "", false
}

func matchAny(res []*regexp.Regexp, text string) (string, bool) {
	for _, re := range res {
		if re.MatchString(text) {
			return re.String(), true
		}
	}
	return "", false
}

// Describe renders a human-readable summary of the active policy and
// the invariant set, for the CLI describe command.
func (e *Engine) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "policy version: %s\n", e.policy.Version)
	fmt.Fprintf(&b, "mrt_min_fidelity: %g\n", e.policy.MRTMinFidelity)
	fmt.Fprintf(&b, "proposer_call_ttl: %s\n", e.policy.ProposerCallTTL)
	fmt.Fprintf(&b, "max_working_nodes: %d\n", e.policy.MaxWorkingNodes)
	fmt.Fprintf(&b, "max_delta_nodes: %d\n", e.policy.MaxDeltaNodes)
	fmt.Fprintf(&b, "max_delta_edges: %d\n", e.policy.MaxDeltaEdges)
	fmt.Fprintf(&b, "anti_phishing_patterns: %d\n", len(e.phishing))
	fmt.Fprintf(&b, "secret_deny_patterns: %d\n", len(e.deny))
	fmt.Fprintf(&b, "secret_redact_patterns: %d\n", len(e.redact))
	fmt.Fprintf(&b, "deny_expressions: %d\n", len(e.programs))
	b.WriteString("invariants (non-overrideable):\n")
	for _, inv := range Invariants() {
		fmt.Fprintf(&b, "  %s\n", inv)
	}
	return b.String()
}
