package challenge

import (
	"context"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
)

func TestIssueAndProveHappyPath(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now()

	kp, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aid := kp.AID()
	pubB64 := mustPublicKeyB64(t, kp)

	require.NoError(t, store.Register(ctx, storage.KeyState{AID: aid, KSN: 0, Keys: []string{pubB64}, Threshold: "1", UpdatedAt: now}))

	issuer := New("https://msgauth.example", DefaultTTL)
	args := map[string]interface{}{"recipientAid": "Dbob"}
	argsHash, err := HashArgs(args)
	require.NoError(t, err)

	issued, err := issuer.Issue(ctx, store, aid, "send", argsHash, now)
	require.NoError(t, err)

	msg, err := CanonicalPayload("https://msgauth.example", aid, "send", argsHash, issued.Payload.Nonce, now.UnixMilli())
	require.NoError(t, err)
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	sigStr := fmt.Sprintf("0-%s", base64.RawURLEncoding.EncodeToString(sig))

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := issuer.Prove(ctx, tx, Proof{ChallengeID: issued.ChallengeID, Sigs: []string{sigStr}, KSN: 0}, "send", args, now)
		return err
	})
	require.NoError(t, err)
}

func TestProveFailsDoesNotConsumeChallenge(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now()

	kp, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aid := kp.AID()
	pubB64 := mustPublicKeyB64(t, kp)
	require.NoError(t, store.Register(ctx, storage.KeyState{AID: aid, KSN: 0, Keys: []string{pubB64}, Threshold: "1", UpdatedAt: now}))

	issuer := New("https://msgauth.example", DefaultTTL)
	args := map[string]interface{}{"x": 1}
	argsHash, _ := HashArgs(args)
	issued, err := issuer.Issue(ctx, store, aid, "send", argsHash, now)
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := issuer.Prove(ctx, tx, Proof{ChallengeID: issued.ChallengeID, Sigs: []string{"0-bad"}, KSN: 0}, "send", args, now)
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindSignature))

	// Retry with a correct signature should still succeed since the
	// failed attempt above must not have consumed the challenge.
	msg, err := CanonicalPayload("https://msgauth.example", aid, "send", argsHash, issued.Payload.Nonce, now.UnixMilli())
	require.NoError(t, err)
	sig, err := kp.Sign(msg)
	require.NoError(t, err)
	sigStr := fmt.Sprintf("0-%s", base64.RawURLEncoding.EncodeToString(sig))

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := issuer.Prove(ctx, tx, Proof{ChallengeID: issued.ChallengeID, Sigs: []string{sigStr}, KSN: 0}, "send", args, now)
		return err
	})
	require.NoError(t, err)
}

func TestCrossPurposeProofFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now()

	kp, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aid := kp.AID()
	pubB64 := mustPublicKeyB64(t, kp)
	require.NoError(t, store.Register(ctx, storage.KeyState{AID: aid, KSN: 0, Keys: []string{pubB64}, Threshold: "1", UpdatedAt: now}))

	issuer := New("https://msgauth.example", DefaultTTL)
	args := map[string]interface{}{"x": 1}
	argsHash, _ := HashArgs(args)
	issued, err := issuer.Issue(ctx, store, aid, "send", argsHash, now)
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := issuer.Prove(ctx, tx, Proof{ChallengeID: issued.ChallengeID, Sigs: nil, KSN: 0}, "ack", args, now)
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindValidation))
}

func TestVerifyThresholdCountsDistinctKeysOnly(t *testing.T) {
	kp0, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	kp1, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	keys := []string{mustPublicKeyB64(t, kp0), mustPublicKeyB64(t, kp1)}

	msg := []byte("rotation statement")
	sig0, err := kp0.Sign(msg)
	require.NoError(t, err)
	sig1, err := kp1.Sign(msg)
	require.NoError(t, err)
	indexed0 := "0-" + base64.RawURLEncoding.EncodeToString(sig0)
	indexed1 := "1-" + base64.RawURLEncoding.EncodeToString(sig1)

	// One key repeating its own signature must never satisfy a
	// two-key threshold.
	err = VerifyThreshold(msg, []string{indexed0, indexed0, indexed0}, keys, 2)
	require.ErrorIs(t, err, mauth.ErrThresholdNotMet)

	// Signatures from two distinct keys do.
	require.NoError(t, VerifyThreshold(msg, []string{indexed0, indexed1}, keys, 2))

	// Order and duplicates alongside a genuine second key are fine.
	require.NoError(t, VerifyThreshold(msg, []string{indexed1, indexed0, indexed0}, keys, 2))
}

func TestProveMultiSigThreshold(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	now := time.Now()

	kp0, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	kp1, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aid := kp0.AID()
	keys := []string{mustPublicKeyB64(t, kp0), mustPublicKeyB64(t, kp1)}
	require.NoError(t, store.Register(ctx, storage.KeyState{AID: aid, KSN: 0, Keys: keys, Threshold: "2", UpdatedAt: now}))

	issuer := New("https://msgauth.example", DefaultTTL)
	args := map[string]interface{}{"x": 1}
	argsHash, err := HashArgs(args)
	require.NoError(t, err)
	issued, err := issuer.Issue(ctx, store, aid, "send", argsHash, now)
	require.NoError(t, err)

	msg, err := CanonicalPayload("https://msgauth.example", aid, "send", argsHash, issued.Payload.Nonce, now.UnixMilli())
	require.NoError(t, err)
	sig0, err := kp0.Sign(msg)
	require.NoError(t, err)
	sig1, err := kp1.Sign(msg)
	require.NoError(t, err)
	indexed0 := "0-" + base64.RawURLEncoding.EncodeToString(sig0)
	indexed1 := "1-" + base64.RawURLEncoding.EncodeToString(sig1)

	// A single signer cannot meet the two-key threshold, even by
	// repeating its contribution; the failed proof leaves the
	// challenge unconsumed.
	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := issuer.Prove(ctx, tx, Proof{ChallengeID: issued.ChallengeID, Sigs: []string{indexed0, indexed0}, KSN: 0}, "send", args, now)
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindSignature))

	err = store.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := issuer.Prove(ctx, tx, Proof{ChallengeID: issued.ChallengeID, Sigs: []string{indexed0, indexed1}, KSN: 0}, "send", args, now)
		return err
	})
	require.NoError(t, err)
}

func mustPublicKeyB64(t *testing.T, kp mcrypto.KeyPair) string {
	t.Helper()
	aid := kp.AID()
	pub, err := mcrypto.PublicKeyFromAID(aid)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(pub)
}
