// Package crypto holds key management, receipt signing, and derived-key
// material for capability tokens.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider supplies the signing identity. Implementations must return
// stable keys for the lifetime of the process; rotating mid-chain would
// break tail verification.
type KeyProvider interface {
	PrivateKey() ed25519.PrivateKey
	PublicKey() ed25519.PublicKey
	// Seed exposes the 32-byte Ed25519 seed for key derivation.
	Seed() []byte
}

// MemoryKeyProvider keeps an Ed25519 keypair in process memory.
type MemoryKeyProvider struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewMemoryKeyProvider generates a fresh keypair.
func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return &MemoryKeyProvider{priv: priv, pub: pub}, nil
}

// NewMemoryKeyProviderFromSeed builds a deterministic keypair from a
// 32-byte seed. Used by tests and replay tooling.
func NewMemoryKeyProviderFromSeed(seed []byte) (*MemoryKeyProvider, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("crypto: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &MemoryKeyProvider{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (p *MemoryKeyProvider) PrivateKey() ed25519.PrivateKey { return p.priv }
func (p *MemoryKeyProvider) PublicKey() ed25519.PublicKey   { return p.pub }
func (p *MemoryKeyProvider) Seed() []byte                   { return p.priv.Seed() }

// DeriveKey expands keyLen bytes of independent key material from the
// provider's seed via HKDF-SHA256. info partitions uses: two distinct
// info strings never share material.
func DeriveKey(kp KeyProvider, info string, keyLen int) ([]byte, error) {
	r := hkdf.New(sha256.New, kp.Seed(), nil, []byte(info))
	out := make([]byte, keyLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("crypto: derive %q: %w", info, err)
	}
	return out, nil
}
