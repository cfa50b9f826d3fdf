package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDigest(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string // BLAKE2b-256 hash in hex
	}{
		{
			name:     "empty input",
			input:    []byte{},
			expected: "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8",
		},
		{
			name:     "simple string",
			input:    []byte("hello world"),
			expected: "256c83b297114d201b30179f3f0ef0cace9783622da5974326b436178aeef610",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			digest := Digest(tt.input)
			assert.Equal(t, tt.expected, hex.EncodeToString(digest[:]))
		})
	}
}

func TestNameHashNormalizes(t *testing.T) {
	base := NameHash("example.marp")

	assert.Equal(t, base, NameHash("Example.MARP"))
	assert.Equal(t, base, NameHash("  example.marp. "))
	assert.NotEqual(t, base, NameHash("example.marp.org"))
	assert.Equal(t, Digest([]byte("example.marp")), base)
}
