package strkey

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeZeroKeyRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	address, err := Encode(key)
	require.NoError(t, err)
	assert.Len(t, address, AddressLen)
	assert.True(t, strings.HasPrefix(address, "G"))

	decoded, err := Decode(address)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(key, decoded))
}

func TestEncodeRealKeysRoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		pub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)

		address, err := Encode(pub)
		require.NoError(t, err)
		assert.Len(t, address, AddressLen)
		assert.True(t, strings.HasPrefix(address, "G"))

		decoded, err := Decode(address)
		require.NoError(t, err)
		assert.True(t, bytes.Equal([]byte(pub), decoded))
	}
}

func TestEncodeRejectsWrongLength(t *testing.T) {
	_, err := Encode(make([]byte, 31))
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address, err := Encode(pub)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":        "",
		"short":        address[:AddressLen-1],
		"wrong prefix": "S" + address[1:],
		"bad charset":  address[:AddressLen-1] + "0",
	}
	for name, addr := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(addr)
			assert.Error(t, err)
		})
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address, err := Encode(pub)
	require.NoError(t, err)

	// Flip one character in the key body.
	idx := 10
	replacement := byte('A')
	if address[idx] == replacement {
		replacement = 'B'
	}
	corrupted := address[:idx] + string(replacement) + address[idx+1:]

	_, err = Decode(corrupted)
	assert.Error(t, err)
	assert.False(t, IsValid(corrupted))
	assert.True(t, IsValid(address))
}
