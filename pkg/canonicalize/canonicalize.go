// Package canonicalize provides RFC 8785 (JCS) canonical JSON encoding
// and SHA-256 content addressing. Every hash in the system goes through
// this package so that two encoders can never disagree about identity.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS encodes v as canonical JSON per RFC 8785.
func JCS(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return out, nil
}

// CanonicalHash returns the lowercase hex SHA-256 of JCS(v).
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashString returns the lowercase hex SHA-256 of s.
func HashString(s string) string {
	return HashBytes([]byte(s))
}
