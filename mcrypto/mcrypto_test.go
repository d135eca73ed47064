package mcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAIDRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	aid := kp.AID()
	require.True(t, len(aid) > 1)
	require.Equal(t, byte('D'), aid[0])

	pub, err := PublicKeyFromAID(aid)
	require.NoError(t, err)
	require.Equal(t, kp.PublicKey(), pub)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("timestamp: 1\nnonce: abc\nkeyId: k1\nargs: {}")
	sig, err := kp.Sign(msg)
	require.NoError(t, err)

	require.NoError(t, kp.Verify(msg, sig))
	require.NoError(t, VerifyDetached(kp.AID(), msg, sig))

	require.Error(t, kp.Verify([]byte("tampered"), sig))
}

func TestPublicKeyFromAIDRejectsMalformed(t *testing.T) {
	_, err := PublicKeyFromAID("not-an-aid")
	require.ErrorIs(t, err, ErrInvalidAID)

	_, err = PublicKeyFromAID("D" + "AA")
	require.ErrorIs(t, err, ErrInvalidPublicKey)
}

func TestDeterministicFromSeed(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	kp1, err := NewKeyPairFromSeed(seed)
	require.NoError(t, err)
	kp2, err := NewKeyPairFromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, kp1.AID(), kp2.AID())
}
