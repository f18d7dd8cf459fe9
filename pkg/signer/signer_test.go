package signer

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := []byte("hello operation")
	sig, err := SignMessage(key, msg)
	require.NoError(t, err)
	require.Len(t, sig, SignatureLength)

	recovered, err := RecoverSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, AddressFromKey(key), recovered)
}

func TestRecoverRejectsBadInput(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	t.Run("wrong length", func(t *testing.T) {
		_, err := RecoverSigner([]byte("x"), []byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered message recovers different signer", func(t *testing.T) {
		sig, err := SignMessage(key, []byte("original"))
		require.NoError(t, err)

		recovered, err := RecoverSigner([]byte("tampered"), sig)
		if err == nil {
			assert.NotEqual(t, AddressFromKey(key), recovered)
		}
	})

	t.Run("invalid recovery id", func(t *testing.T) {
		sig, err := SignMessage(key, []byte("msg"))
		require.NoError(t, err)
		sig[64] = 5
		_, err = RecoverSigner([]byte("msg"), sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}
