package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// Signer produces hex-encoded Ed25519 signatures over raw bytes.
type Signer struct {
	kp KeyProvider
}

// NewSigner wraps a key provider.
func NewSigner(kp KeyProvider) *Signer {
	return &Signer{kp: kp}
}

// Sign returns the hex signature of msg.
func (s *Signer) Sign(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.kp.PrivateKey(), msg))
}

// PublicKeyHex returns the hex-encoded public key, recorded alongside
// chains so external verifiers need no live provider.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.kp.PublicKey())
}

// Verify checks a hex signature against a hex public key.
func Verify(publicKeyHex, sigHex string, msg []byte) (bool, error) {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("crypto: decode public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("crypto: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: decode signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}
