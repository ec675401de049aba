package tokencrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	sealer, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte(`{"access_token":"abc123"}`))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "abc123")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"abc123"}`, string(opened))
}

func TestNewSealerRejectsBadKeyLength(t *testing.T) {
	t.Parallel()
	_, err := NewSealer([]byte("too-short"))
	assert.Error(t, err)
}
