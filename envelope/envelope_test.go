package envelope

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/canon"
	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
)

type noopNotifier struct{ calls int }

func (n *noopNotifier) Notify(recipientAID string, e storage.Envelope) { n.calls++ }

func registerKeyState(t *testing.T, store storage.Store, kp mcrypto.KeyPair) string {
	t.Helper()
	aid := kp.AID()
	pub, err := mcrypto.PublicKeyFromAID(aid)
	require.NoError(t, err)
	pubB64 := base64.RawURLEncoding.EncodeToString(pub)
	require.NoError(t, store.Register(context.Background(), storage.KeyState{
		AID: aid, KSN: 0, Keys: []string{pubB64}, Threshold: "1", UpdatedAt: time.Now(),
	}))
	return aid
}

func TestSendIsIdempotentOnSAID(t *testing.T) {
	store := memory.New()
	alice, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aliceAID := registerKeyState(t, store, alice)
	bobAID := registerKeyState(t, store, bob)

	notifier := &noopNotifier{}
	e := New("https://msgauth.example", notifier)
	now := time.Now()
	in := SendInput{RecipientAID: bobAID, CT: []byte("abc"), TTL: 60 * time.Second}

	var first storage.Envelope
	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		first, err = e.Send(context.Background(), tx, aliceAID, 0, "", "nonce-1", nil, in, now)
		return err
	})
	require.NoError(t, err)
	require.False(t, first.Retrieved)
	require.Equal(t, 1, notifier.calls)

	// The id is the SAID: sha256 over the canonical server-stamped header.
	hb, err := canon.Canonicalize(header{
		Ver:       HeaderVersion,
		RecpAID:   bobAID,
		SenderAID: aliceAID,
		CTHash:    mcrypto.SHA256B64([]byte("abc")),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(60 * time.Second).UnixMilli(),
	})
	require.NoError(t, err)
	require.Equal(t, sha256Hex(hb), first.ID)
	require.Equal(t, first.ID, first.EnvelopeHash)

	var second storage.Envelope
	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		second, err = e.Send(context.Background(), tx, aliceAID, 0, "", "nonce-2", nil, in, now)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	envs, err := ReadUnread(context.Background(), store, bobAID, 0, now)
	require.NoError(t, err)
	require.Len(t, envs, 1)
}

func TestAckRoundTrip(t *testing.T) {
	store := memory.New()
	alice, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aliceAID := registerKeyState(t, store, alice)
	bobAID := registerKeyState(t, store, bob)

	origin := "https://msgauth.example"
	e := New(origin, nil)
	now := time.Now()
	in := SendInput{RecipientAID: bobAID, CT: []byte("abc"), TTL: 60 * time.Second}

	var sent storage.Envelope
	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		sent, err = e.Send(context.Background(), tx, aliceAID, 0, "", "nonce-1", nil, in, now)
		return err
	})
	require.NoError(t, err)

	msg, err := canon.Canonicalize(receiptPayload{EnvelopeHash: sent.EnvelopeHash, Aud: origin})
	require.NoError(t, err)
	sig, err := bob.Sign(msg)
	require.NoError(t, err)
	sigStr := "0-" + base64.RawURLEncoding.EncodeToString(sig)

	var acked storage.Envelope
	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		acked, err = e.Ack(context.Background(), tx, sent.ID, bobAID, []string{sigStr}, 0, "")
		return err
	})
	require.NoError(t, err)
	require.True(t, acked.Retrieved)

	envs, err := ReadUnread(context.Background(), store, bobAID, 0, now)
	require.NoError(t, err)
	require.Empty(t, envs)

	var reacked storage.Envelope
	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		reacked, err = e.Ack(context.Background(), tx, sent.ID, bobAID, []string{sigStr}, 0, "")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, acked.ReceiptSig, reacked.ReceiptSig)
}

func TestAckRejectsWrongRecipient(t *testing.T) {
	store := memory.New()
	alice, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	eve, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	aliceAID := registerKeyState(t, store, alice)
	bobAID := registerKeyState(t, store, bob)
	eveAID := registerKeyState(t, store, eve)

	e := New("https://msgauth.example", nil)
	now := time.Now()
	in := SendInput{RecipientAID: bobAID, CT: []byte("abc"), TTL: 60 * time.Second}

	var sent storage.Envelope
	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		sent, err = e.Send(context.Background(), tx, aliceAID, 0, "", "nonce-1", nil, in, now)
		return err
	})
	require.NoError(t, err)

	err = store.WithinTx(context.Background(), func(tx storage.Tx) error {
		_, err := e.Ack(context.Background(), tx, sent.ID, eveAID, nil, 0, "")
		return err
	})
	require.True(t, mauth.Is(err, mauth.KindAuthorization))
}
