package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
)

func newTestService() *Service {
	store := memory.New()
	return New(store, "https://msgauth.example", time.Minute, challenge.DefaultTTL, 10*time.Minute, nil, nil)
}

func pubB64(t *testing.T, kp mcrypto.KeyPair) string {
	t.Helper()
	pub, err := mcrypto.PublicKeyFromAID(kp.AID())
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(pub)
}

func TestRegisterUserHappyPath(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	now := time.Now()

	kp, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aid := kp.AID()

	in := RegisterInput{AID: aid, Keys: []string{pubB64(t, kp)}, Threshold: "1"}
	args := map[string]interface{}{"aid": in.AID, "keys": in.Keys, "threshold": in.Threshold}
	argsHash, err := challenge.HashArgs(args)
	require.NoError(t, err)

	issued, err := s.IssueChallenge(ctx, aid, PurposeRegisterUser, argsHash, now)
	require.NoError(t, err)

	msg, err := challenge.CanonicalPayload(s.origin, aid, PurposeRegisterUser, argsHash, issued.Payload.Nonce, now.UnixMilli())
	require.NoError(t, err)
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	indexedSig := "0-" + base64.RawURLEncoding.EncodeToString(sig)

	ks, err := s.RegisterUser(ctx, in, challenge.Proof{ChallengeID: issued.ChallengeID, Sigs: []string{indexedSig}, KSN: 0}, now)
	require.NoError(t, err)
	require.Equal(t, aid, ks.AID)
	require.Equal(t, uint64(0), ks.KSN)

	// A second registration attempt for the same AID must fail, even with
	// a freshly issued challenge.
	issued2, err := s.IssueChallenge(ctx, aid, PurposeRegisterUser, argsHash, now)
	require.NoError(t, err)
	msg2, err := challenge.CanonicalPayload(s.origin, aid, PurposeRegisterUser, argsHash, issued2.Payload.Nonce, now.UnixMilli())
	require.NoError(t, err)
	sig2, err := kp.Sign(msg2)
	require.NoError(t, err)
	indexedSig2 := "0-" + base64.RawURLEncoding.EncodeToString(sig2)

	_, err = s.RegisterUser(ctx, in, challenge.Proof{ChallengeID: issued2.ChallengeID, Sigs: []string{indexedSig2}, KSN: 0}, now)
	require.True(t, mauth.Is(err, mauth.KindAlreadyExists))
}

func TestRegisterUserRejectsWrongKey(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	now := time.Now()

	kp, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	other, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aid := kp.AID()

	in := RegisterInput{AID: aid, Keys: []string{pubB64(t, kp)}, Threshold: "1"}
	args := map[string]interface{}{"aid": in.AID, "keys": in.Keys, "threshold": in.Threshold}
	argsHash, err := challenge.HashArgs(args)
	require.NoError(t, err)

	issued, err := s.IssueChallenge(ctx, aid, PurposeRegisterUser, argsHash, now)
	require.NoError(t, err)

	msg, err := challenge.CanonicalPayload(s.origin, aid, PurposeRegisterUser, argsHash, issued.Payload.Nonce, now.UnixMilli())
	require.NoError(t, err)
	// Signed by the wrong key: must not verify against the declared AID.
	sig, err := other.Sign(msg)
	require.NoError(t, err)
	indexedSig := "0-" + base64.RawURLEncoding.EncodeToString(sig)

	_, err = s.RegisterUser(ctx, in, challenge.Proof{ChallengeID: issued.ChallengeID, Sigs: []string{indexedSig}, KSN: 0}, now)
	require.True(t, mauth.Is(err, mauth.KindSignature))
}
