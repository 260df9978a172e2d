package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCSKeyOrderIndependence(t *testing.T) {
	a := map[string]any{"b": 1, "a": "x"}
	b := map[string]any{"a": "x", "b": 1}

	ca, err := JCS(a)
	require.NoError(t, err)
	cb, err := JCS(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":"x","b":1}`, string(ca))
}

func TestCanonicalHashStable(t *testing.T) {
	type payload struct {
		Event string `json:"event"`
		Prev  string `json:"prev"`
	}
	h1, err := CanonicalHash(payload{Event: "ingress.accept", Prev: "genesis"})
	require.NoError(t, err)
	h2, err := CanonicalHash(payload{Event: "ingress.accept", Prev: "genesis"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := CanonicalHash(payload{Event: "ingress.deny", Prev: "genesis"})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHashStringKnownVector(t *testing.T) {
	// sha256("") is the canonical empty digest.
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashString(""))
}

func TestJCSRejectsUnencodable(t *testing.T) {
	_, err := JCS(make(chan int))
	require.Error(t, err)
}
