// Package capability mints and validates the short-lived tokens that
// authorize exactly one proposer call. Tokens are HS256 JWTs whose MAC
// key is derived from the kernel signing seed; each token binds to the
// audit head observed at mint time, so a token cannot be replayed after
// the chain has moved.
package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/roundtree-labs/roundtree/pkg/canonicalize"
	"github.com/roundtree-labs/roundtree/pkg/contracts"
	rtcrypto "github.com/roundtree-labs/roundtree/pkg/crypto"
)

// ScopeProposerCall is the only scope this kernel issues.
const ScopeProposerCall = "PROPOSER_CALL"

// kdfInfo partitions the token MAC key from other derived material.
const kdfInfo = "roundtree-capability-kdf"

var (
	ErrMissing  = errors.New("capability: token missing or malformed")
	ErrExpired  = errors.New("capability: token expired")
	ErrMismatch = errors.New("capability: token does not match expected binding")
)

// Claims is the token payload: subject is the requesting user, AuditHead
// is the chain head the token is bound to.
type Claims struct {
	jwt.RegisteredClaims
	Scope     string `json:"scope"`
	AuditHead string `json:"aud_head"`
}

// Token is a minted capability plus its decoded bindings.
type Token struct {
	UserID    string
	AuditHead string
	Scope     string
	Nonce     string
	ExpiresAt time.Time
	Value     string
}

// Issuer mints and validates tokens with a derived symmetric key.
type Issuer struct {
	key   []byte
	ttl   time.Duration
	clock func() time.Time
	nonce func() string
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) IssuerOption {
	return func(i *Issuer) { i.clock = clock }
}

// WithNonce overrides the token-ID source.
func WithNonce(nonce func() string) IssuerOption {
	return func(i *Issuer) { i.nonce = nonce }
}

// NewIssuer derives the MAC key from the kernel keypair.
func NewIssuer(kp rtcrypto.KeyProvider, ttl time.Duration, opts ...IssuerOption) (*Issuer, error) {
	key, err := rtcrypto.DeriveKey(kp, kdfInfo, 32)
	if err != nil {
		return nil, err
	}
	i := &Issuer{key: key, ttl: ttl, clock: time.Now, nonce: uuid.NewString}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Mint issues a token bound to auditHead, valid for the issuer TTL.
func (i *Issuer) Mint(userID, auditHead string) (Token, error) {
	now := i.clock().UTC()
	exp := now.Add(i.ttl)
	nonce := i.nonce()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "roundtree/kernel",
		},
		Scope:     ScopeProposerCall,
		AuditHead: auditHead,
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Token{}, fmt.Errorf("capability: sign: %w", err)
	}
	return Token{
		UserID:    userID,
		AuditHead: auditHead,
		Scope:     ScopeProposerCall,
		Nonce:     nonce,
		ExpiresAt: exp,
		Value:     value,
	}, nil
}

// Validate checks signature, expiry, scope, and the audit-head binding.
// Every failure maps to one of the package sentinels.
func (i *Issuer) Validate(tokenValue, expectedHead string) (*Claims, error) {
	if tokenValue == "" {
		return nil, ErrMissing
	}
	parsed, err := jwt.ParseWithClaims(tokenValue, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.key, nil
	}, jwt.WithTimeFunc(i.clock))
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		// A well-formed token that fails the MAC was tampered with or
		// minted under another key.
		return nil, fmt.Errorf("%w: signature", ErrMismatch)
	default:
		return nil, fmt.Errorf("%w: %v", ErrMissing, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMissing
	}
	if claims.Scope != ScopeProposerCall {
		return nil, fmt.Errorf("%w: scope %q", ErrMismatch, claims.Scope)
	}
	if claims.AuditHead != expectedHead {
		return nil, fmt.Errorf("%w: stale audit head", ErrMismatch)
	}
	return claims, nil
}

// Request is what the guarded proposer sees: the normalized input, the
// committed nodes selected for this request, and the compacted denotum.
// The token itself is never handed to proposer code.
type Request struct {
	Input      string
	WorkingSet []contracts.Node
	Denotum    contracts.Denotum
}

// Proposal is what the untrusted proposer returns: free text plus an
// optional claim/edge contribution.
type Proposal struct {
	AnswerText string
	Delta      ProposalDelta
}

// ProposalDelta is the proposer's suggested graph contribution, kept as
// a distinct type so proposer output cannot be confused with validated
// kernel deltas.
type ProposalDelta struct {
	Claims []ProposalClaim
	Edges  []ProposalEdge
}

// ProposalClaim is one asserted claim.
type ProposalClaim struct {
	Text     string
	ClaimKey string
	Polarity contracts.Polarity
}

// NodeID content-addresses the claim. Proposers use the same derivation
// to reference their own claims in proposal edges.
func (c ProposalClaim) NodeID() string {
	return "c:" + canonicalize.HashString(c.ClaimKey+"|"+string(c.Polarity)+"|"+c.Text)[:16]
}

// ProposalEdge is one asserted relation between node IDs (claim IDs,
// denotum brick IDs, or working-set node IDs).
type ProposalEdge struct {
	Src      string
	Relation contracts.Relation
	Dst      string
}

// Proposer is the injected untrusted callee.
type Proposer func(ctx context.Context, req Request) (Proposal, error)

// Guard is the only path to the proposer: it validates the token, then
// runs the call under a deadline equal to the token expiry.
type Guard struct {
	issuer   *Issuer
	proposer Proposer
}

// NewGuard wires an issuer to a proposer.
func NewGuard(issuer *Issuer, proposer Proposer) *Guard {
	return &Guard{issuer: issuer, proposer: proposer}
}

// Call validates tok against expectedHead and invokes the proposer. The
// proposer never runs on a failed validation.
func (g *Guard) Call(ctx context.Context, tok Token, expectedHead string, req Request) (Proposal, error) {
	claims, err := g.issuer.Validate(tok.Value, expectedHead)
	if err != nil {
		return Proposal{}, err
	}
	ctx, cancel := context.WithDeadline(ctx, claims.ExpiresAt.Time)
	defer cancel()
	out, err := g.proposer(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Proposal{}, ErrExpired
		}
		return Proposal{}, fmt.Errorf("capability: proposer: %w", err)
	}
	return out, nil
}
