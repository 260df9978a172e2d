package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roundtree-labs/roundtree/pkg/audit"
	rtcrypto "github.com/roundtree-labs/roundtree/pkg/crypto"
	"github.com/roundtree-labs/roundtree/pkg/graph"
	"github.com/roundtree-labs/roundtree/pkg/policy"
)

func TestRestartResumesBothChains(t *testing.T) {
	dir := t.TempDir()
	seed := make([]byte, 32)
	seed[0] = 42
	kp, err := rtcrypto.NewMemoryKeyProviderFromSeed(seed)
	require.NoError(t, err)

	open := func() (*Pipeline, func()) {
		store, err := audit.OpenSQLiteStore(filepath.Join(dir, "audit.db"))
		require.NoError(t, err)
		journal, err := graph.OpenSQLiteJournal(filepath.Join(dir, "graph.db"))
		require.NoError(t, err)
		p, err := New(policy.Default(), kp, echoProposer,
			WithAuditStore(store), WithJournal(journal))
		require.NoError(t, err)
		return p, func() {
			_ = store.Close()
			_ = journal.Close()
		}
	}

	p1, close1 := open()
	res, err := p1.Submit(context.Background(), "Hello there.")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	auditHead, graphHead := p1.Heads()
	close1()

	p2, close2 := open()
	defer close2()
	gotAudit, gotGraph := p2.Heads()
	assert.Equal(t, auditHead, gotAudit)
	assert.Equal(t, graphHead, gotGraph)
	assert.True(t, p2.VerifyTail(0))

	// The resumed pipeline keeps accepting traffic on the restored chains.
	res, err = p2.Submit(context.Background(), "Hello there again.")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestRestartRefusesForeignKey(t *testing.T) {
	dir := t.TempDir()
	seedA := make([]byte, 32)
	seedA[0] = 1
	kpA, err := rtcrypto.NewMemoryKeyProviderFromSeed(seedA)
	require.NoError(t, err)

	store, err := audit.OpenSQLiteStore(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	p, err := New(policy.Default(), kpA, echoProposer, WithAuditStore(store))
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), "Hello there.")
	require.NoError(t, err)

	seedB := make([]byte, 32)
	seedB[0] = 2
	kpB, err := rtcrypto.NewMemoryKeyProviderFromSeed(seedB)
	require.NoError(t, err)
	_, err = New(policy.Default(), kpB, echoProposer, WithAuditStore(store))
	assert.Error(t, err, "a chain signed by another key must not resume")
}
