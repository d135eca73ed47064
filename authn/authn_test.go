package authn

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/canon"
	"github.com/trustmesh/msgauth/keystate"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
	"github.com/trustmesh/msgauth/replay"
)

func setup(t *testing.T) (storage.Store, *keystate.Store, *replay.Ledger, mcrypto.KeyPair, string) {
	t.Helper()
	store := memory.New()
	kp, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aid := kp.AID()
	pub, err := mcrypto.PublicKeyFromAID(aid)
	require.NoError(t, err)
	pubB64 := base64.RawURLEncoding.EncodeToString(pub)

	require.NoError(t, store.Register(context.Background(), storage.KeyState{
		AID: aid, KSN: 0, Keys: []string{pubB64}, Threshold: "1", UpdatedAt: time.Now(),
	}))
	return store, keystate.New(store, time.Minute), replay.New(replay.DefaultTTL), kp, aid
}

func signedRequest(t *testing.T, kp mcrypto.KeyPair, aid string, args map[string]interface{}, ts int64, nonce string) Sig {
	t.Helper()
	c, err := canon.CanonicalizeArgs(args)
	require.NoError(t, err)
	payload := framePayload(ts, nonce, aid, c)
	sig, err := kp.Sign(payload)
	require.NoError(t, err)
	return Sig{KeyID: aid, Nonce: nonce, Timestamp: ts, Signature: base64.RawURLEncoding.EncodeToString(sig)}
}

func TestVerifyHappyPath(t *testing.T) {
	store, ks, ledger, kp, aid := setup(t)
	v := New(ks, ledger)
	args := map[string]interface{}{"recipientAid": "Dbob"}
	now := time.Now()
	sig := signedRequest(t, kp, aid, args, now.UnixMilli(), "n1")

	err := store.WithinTx(context.Background(), func(tx storage.Tx) error {
		verified, err := v.Verify(context.Background(), tx, args, sig, now)
		require.NoError(t, err)
		require.Equal(t, aid, verified.AID)
		return nil
	})
	require.NoError(t, err)
}

func TestVerifyRejectsReplayedNonce(t *testing.T) {
	store, ks, ledger, kp, aid := setup(t)
	v := New(ks, ledger)
	args := map[string]interface{}{"x": 1}
	now := time.Now()
	sig := signedRequest(t, kp, aid, args, now.UnixMilli(), "reused")

	err := store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := v.Verify(context.Background(), tx, args, sig, now)
		return err
	})
	require.NoError(t, err)

	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := v.Verify(context.Background(), tx, args, sig, now)
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindValidation))
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	store, ks, ledger, kp, aid := setup(t)
	v := New(ks, ledger)
	args := map[string]interface{}{"x": 1}
	now := time.Now()
	old := now.Add(-10 * time.Minute)
	sig := signedRequest(t, kp, aid, args, old.UnixMilli(), "n1")

	err := store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := v.Verify(context.Background(), tx, args, sig, now)
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindValidation))
}

func TestVerifyRejectsTamperedArgs(t *testing.T) {
	store, ks, ledger, kp, aid := setup(t)
	v := New(ks, ledger)
	now := time.Now()
	sig := signedRequest(t, kp, aid, map[string]interface{}{"x": 1}, now.UnixMilli(), "n1")

	err := store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := v.Verify(context.Background(), tx, map[string]interface{}{"x": 2}, sig, now)
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindSignature))
}

func TestVerifyUnknownKeyFails(t *testing.T) {
	store, ks, ledger, kp, _ := setup(t)
	v := New(ks, ledger)
	now := time.Now()
	args := map[string]interface{}{"x": 1}
	sig := signedRequest(t, kp, "Dunknown", args, now.UnixMilli(), "n1")

	err := store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := v.Verify(context.Background(), tx, args, sig, now)
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindNotFound))
}
