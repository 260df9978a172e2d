package audit

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rtcrypto "github.com/roundtree-labs/roundtree/pkg/crypto"
)

func newTestLog(t *testing.T, opts ...Option) *ChainLog {
	t.Helper()
	kp, err := rtcrypto.NewMemoryKeyProvider()
	require.NoError(t, err)
	return NewChainLog(rtcrypto.NewSigner(kp), "roundtree", opts...)
}

func TestAppendLinksFromGenesis(t *testing.T) {
	log := newTestLog(t)
	assert.Equal(t, Genesis, log.Head())

	r1, err := log.Append("ingress.accept", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, Genesis, r1.Prev)
	assert.Equal(t, r1.Head, log.Head())

	r2, err := log.Append("pre_check.pass", nil)
	require.NoError(t, err)
	assert.Equal(t, r1.Head, r2.Prev)
	assert.Equal(t, 2, log.Len())
}

func TestVerifyTailDetectsTamper(t *testing.T) {
	log := newTestLog(t)
	for i := 0; i < 5; i++ {
		_, err := log.Append("kernel.commit", map[string]string{"n": fmt.Sprintf("%d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, log.VerifyTail(0))
	require.NoError(t, log.VerifyTail(3))

	entries := log.Entries()
	entries[2].Fields["n"] = "tampered"
	err := Replay(entries, log.PublicKeyHex())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event hash mismatch")
}

func TestReplayDetectsBrokenLink(t *testing.T) {
	log := newTestLog(t)
	_, err := log.Append("a", nil)
	require.NoError(t, err)
	_, err = log.Append("b", nil)
	require.NoError(t, err)

	entries := log.Entries()
	entries[1].Prev = entries[1].Head // self-referential link
	err = Replay(entries, log.PublicKeyHex())
	require.Error(t, err)
}

func TestReplayDetectsForgedSignature(t *testing.T) {
	log := newTestLog(t)
	_, err := log.Append("a", nil)
	require.NoError(t, err)

	other := newTestLog(t)
	err = Replay(log.Entries(), other.PublicKeyHex())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad signature")
}

func TestDeterministicWithFixedClockAndNonce(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func() *ChainLog {
		seed := make([]byte, 32)
		kp, err := rtcrypto.NewMemoryKeyProviderFromSeed(seed)
		require.NoError(t, err)
		n := 0
		return NewChainLog(rtcrypto.NewSigner(kp), "roundtree",
			WithClock(func() time.Time { return fixed }),
			WithNonce(func() string { n++; return fmt.Sprintf("r-%d", n) }))
	}
	a, b := mk(), mk()
	ra, err := a.Append("ingress.accept", map[string]string{"k": "v"})
	require.NoError(t, err)
	rb, err := b.Append("ingress.accept", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, ra, rb)
	assert.Equal(t, a.Head(), b.Head())
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := newTestLog(t, WithStore(store))
	_, err = log.Append("ingress.accept", map[string]string{"user_id": "u1"})
	require.NoError(t, err)
	_, err = log.Append("egress.allow", nil)
	require.NoError(t, err)

	loaded, err := store.LoadReceipts()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, log.Entries(), loaded)
	require.NoError(t, Replay(loaded, log.PublicKeyHex()))
}

func TestSQLiteStoreRejectsDuplicateReceiptID(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	log := newTestLog(t, WithStore(store), WithNonce(func() string { return "same" }))
	_, err = log.Append("a", nil)
	require.NoError(t, err)
	_, err = log.Append("b", nil)
	require.Error(t, err)
	// The in-memory chain must not advance past the failed persist.
	assert.Equal(t, 1, log.Len())
}
