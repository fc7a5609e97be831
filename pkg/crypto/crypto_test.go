package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter2-hunter2")
	require.NoError(t, err)
	require.NotEqual(t, "hunter2-hunter2", hash)

	require.True(t, VerifyPassword(hash, "hunter2-hunter2"))
	require.False(t, VerifyPassword(hash, "wrong-password"))
}

func TestRandomTokenLengthAndUniqueness(t *testing.T) {
	a, err := RandomToken(32)
	require.NoError(t, err)
	require.Len(t, a, 64) // hex encoding doubles the byte count

	b, err := RandomToken(32)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestRandomTokenDefaultsSize(t *testing.T) {
	token, err := RandomToken(0)
	require.NoError(t, err)
	require.Len(t, token, 64)
}
