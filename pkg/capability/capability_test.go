package capability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtcrypto "github.com/roundtree-labs/roundtree/pkg/crypto"
)

func newIssuer(t *testing.T, ttl time.Duration, opts ...IssuerOption) *Issuer {
	t.Helper()
	kp, err := rtcrypto.NewMemoryKeyProvider()
	require.NoError(t, err)
	i, err := NewIssuer(kp, ttl, opts...)
	require.NoError(t, err)
	return i
}

func TestMintAndValidate(t *testing.T) {
	i := newIssuer(t, time.Minute)
	tok, err := i.Mint("u1", "head-1")
	require.NoError(t, err)
	assert.Equal(t, ScopeProposerCall, tok.Scope)
	assert.NotEmpty(t, tok.Nonce)

	claims, err := i.Validate(tok.Value, "head-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "head-1", claims.AuditHead)
}

func TestValidateRejectsStaleHead(t *testing.T) {
	i := newIssuer(t, time.Minute)
	tok, err := i.Mint("u1", "head-1")
	require.NoError(t, err)

	_, err = i.Validate(tok.Value, "head-2")
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestValidateRejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	i := newIssuer(t, time.Minute, WithClock(func() time.Time { return now }))
	tok, err := i.Mint("u1", "head-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = i.Validate(tok.Value, "head-1")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestValidateRejectsMissingAndMalformed(t *testing.T) {
	i := newIssuer(t, time.Minute)
	_, err := i.Validate("", "head-1")
	assert.ErrorIs(t, err, ErrMissing)

	_, err = i.Validate("not.a.token", "head-1")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	i := newIssuer(t, time.Minute)
	tok, err := i.Mint("u1", "head-1")
	require.NoError(t, err)

	// Flip the first signature character; the token stays well-formed
	// but the MAC no longer matches.
	tampered := []byte(tok.Value)
	pos := strings.LastIndexByte(tok.Value, '.') + 1
	if tampered[pos] == 'A' {
		tampered[pos] = 'B'
	} else {
		tampered[pos] = 'A'
	}
	_, err = i.Validate(string(tampered), "head-1")
	assert.ErrorIs(t, err, ErrMismatch)
}

func TestValidateRejectsForeignKey(t *testing.T) {
	a := newIssuer(t, time.Minute)
	b := newIssuer(t, time.Minute)
	tok, err := a.Mint("u1", "head-1")
	require.NoError(t, err)
	_, err = b.Validate(tok.Value, "head-1")
	assert.ErrorIs(t, err, ErrMismatch, "a foreign-key token is a failed MAC, not a missing one")
}

func TestGuardBlocksBeforeProposerRuns(t *testing.T) {
	i := newIssuer(t, time.Minute)
	called := false
	g := NewGuard(i, func(ctx context.Context, req Request) (Proposal, error) {
		called = true
		return Proposal{AnswerText: req.Input}, nil
	})

	tok, err := i.Mint("u1", "head-1")
	require.NoError(t, err)

	_, err = g.Call(context.Background(), tok, "moved-head", Request{Input: "hello"})
	assert.ErrorIs(t, err, ErrMismatch)
	assert.False(t, called, "proposer must not run on a failed validation")

	out, err := g.Call(context.Background(), tok, "head-1", Request{Input: "hello"})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "hello", out.AnswerText)
}

func TestGuardDeadlineMapsToExpired(t *testing.T) {
	i := newIssuer(t, 10*time.Millisecond)
	g := NewGuard(i, func(ctx context.Context, req Request) (Proposal, error) {
		<-ctx.Done()
		return Proposal{}, ctx.Err()
	})
	tok, err := i.Mint("u1", "head-1")
	require.NoError(t, err)

	_, err = g.Call(context.Background(), tok, "head-1", Request{Input: "hello"})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestGuardWrapsProposerFailure(t *testing.T) {
	i := newIssuer(t, time.Minute)
	boom := errors.New("boom")
	g := NewGuard(i, func(ctx context.Context, req Request) (Proposal, error) {
		return Proposal{}, boom
	})
	tok, err := i.Mint("u1", "head-1")
	require.NoError(t, err)

	_, err = g.Call(context.Background(), tok, "head-1", Request{Input: "hello"})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrExpired)
}

func TestProposalClaimNodeIDStable(t *testing.T) {
	a := ProposalClaim{Text: "the sky is blue", ClaimKey: "sky.color", Polarity: "pos"}
	b := ProposalClaim{Text: "the sky is blue", ClaimKey: "sky.color", Polarity: "pos"}
	c := ProposalClaim{Text: "the sky is blue", ClaimKey: "sky.color", Polarity: "neg"}
	assert.Equal(t, a.NodeID(), b.NodeID())
	assert.NotEqual(t, a.NodeID(), c.NodeID())
	assert.Contains(t, a.NodeID(), "c:")
}
