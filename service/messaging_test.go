package service

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/challenge"
	"github.com/trustmesh/msgauth/envelope"
	"github.com/trustmesh/msgauth/mcrypto"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
	"github.com/trustmesh/msgauth/subscribe"
)

func newTestServiceWithSubs() (*Service, *subscribe.Registry) {
	reg := subscribe.New(subscribe.DefaultBacklog)
	store := memory.New()
	return New(store, "https://msgauth.example", time.Minute, challenge.DefaultTTL, 10*time.Minute, nil, reg), reg
}

func TestSendAndReadUnread(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServiceWithSubs()
	now := time.Now()

	sender, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, sender, now)
	recipient, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, recipient, now)

	in := SendMessageInput{RecipientAID: recipient.AID(), CT: []byte("hello"), Typ: "text", Alg: "none", EK: ""}
	args := map[string]interface{}{"recipientAid": in.RecipientAID, "ct": in.CT, "typ": in.Typ, "ek": in.EK, "alg": in.Alg}
	req := signedReq(t, sender, args, now, "send-1")

	env, err := s.Send(ctx, req, in, now)
	require.NoError(t, err)
	require.Equal(t, recipient.AID(), env.RecipientAID)

	unread, err := s.ReadUnread(ctx, recipient.AID(), 10, now)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	require.Equal(t, env.ID, unread[0].ID)
}

func TestSendDeniedByRecipientDenyList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServiceWithSubs()
	now := time.Now()

	sender, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, sender, now)
	recipient, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, recipient, now)

	denyArgs := map[string]interface{}{"targetAid": sender.AID(), "note": ""}
	require.NoError(t, s.AddDeny(ctx, signedReq(t, recipient, denyArgs, now, "deny-1"), ListEntryInput{TargetAID: sender.AID()}, now))

	in := SendMessageInput{RecipientAID: recipient.AID(), CT: []byte("hello"), Alg: "none"}
	args := map[string]interface{}{"recipientAid": in.RecipientAID, "ct": in.CT, "typ": in.Typ, "ek": in.EK, "alg": in.Alg}
	req := signedReq(t, sender, args, now, "send-2")

	_, err = s.Send(ctx, req, in, now)
	require.Error(t, err)

	unread, err := s.ReadUnread(ctx, recipient.AID(), 10, now)
	require.NoError(t, err)
	require.Empty(t, unread)
}

func TestAckTransitionsRetrieved(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServiceWithSubs()
	now := time.Now()

	sender, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, sender, now)
	recipient, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, recipient, now)

	in := SendMessageInput{RecipientAID: recipient.AID(), CT: []byte("hello"), Alg: "none"}
	sendArgs := map[string]interface{}{"recipientAid": in.RecipientAID, "ct": in.CT, "typ": in.Typ, "ek": in.EK, "alg": in.Alg}
	env, err := s.Send(ctx, signedReq(t, sender, sendArgs, now, "send-3"), in, now)
	require.NoError(t, err)

	receiptMsg, err := envelope.ReceiptMessage(env.EnvelopeHash, s.origin)
	require.NoError(t, err)
	receiptSig, err := recipient.Sign(receiptMsg)
	require.NoError(t, err)
	receiptSigs := []string{"0-" + base64.RawURLEncoding.EncodeToString(receiptSig)}

	ackArgs := map[string]interface{}{"envelopeId": env.ID, "receiptSigs": receiptSigs}
	acked, err := s.Ack(ctx, signedReq(t, recipient, ackArgs, now, "ack-1"), env.ID, receiptSigs, now)
	require.NoError(t, err)
	require.True(t, acked.Retrieved)
	require.Equal(t, receiptSigs, acked.ReceiptSig)

	// A second ack is an idempotent success that leaves the stored
	// receipt fields untouched.
	reacked, err := s.Ack(ctx, signedReq(t, recipient, ackArgs, now, "ack-2"), env.ID, receiptSigs, now)
	require.NoError(t, err)
	require.True(t, reacked.Retrieved)
	require.Equal(t, acked.ReceiptSig, reacked.ReceiptSig)

	unread, err := s.ReadUnread(ctx, recipient.AID(), 10, now)
	require.NoError(t, err)
	require.Empty(t, unread)
}

func TestSubscribeReplaysStoredEnvelopes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServiceWithSubs()
	now := time.Now()

	sender, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, sender, now)
	recipient, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, recipient, now)

	in := SendMessageInput{RecipientAID: recipient.AID(), CT: []byte("stored"), Alg: "none"}
	args := map[string]interface{}{"recipientAid": in.RecipientAID, "ct": in.CT, "typ": in.Typ, "ek": in.EK, "alg": in.Alg}
	env, err := s.Send(ctx, signedReq(t, sender, args, now, "send-5"), in, now)
	require.NoError(t, err)

	// Subscribing with a cursor before the send replays the stored
	// envelope even though no live delivery happens afterward.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := s.Subscribe(subCtx, recipient.AID(), now.Add(-time.Second))
	require.NoError(t, err)

	select {
	case e := <-sub.Events():
		require.Equal(t, env.ID, e.ID)
	case <-time.After(time.Second):
		t.Fatal("expected the stored envelope to be replayed")
	}
}

func TestSubscribeReceivesNewEnvelope(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestServiceWithSubs()
	now := time.Now()

	sender, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, sender, now)
	recipient, err := mcrypto.GenerateKeyPair()
	require.NoError(t, err)
	registerDirect(t, s, recipient, now)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub, err := s.Subscribe(subCtx, recipient.AID(), now.Add(-time.Second))
	require.NoError(t, err)

	in := SendMessageInput{RecipientAID: recipient.AID(), CT: []byte("hi"), Alg: "none"}
	args := map[string]interface{}{"recipientAid": in.RecipientAID, "ct": in.CT, "typ": in.Typ, "ek": in.EK, "alg": in.Alg}
	_, err = s.Send(ctx, signedReq(t, sender, args, now, "send-4"), in, now)
	require.NoError(t, err)

	select {
	case e := <-sub.Events():
		require.Equal(t, recipient.AID(), e.RecipientAID)
	case <-time.After(time.Second):
		t.Fatal("expected a delivered envelope")
	}
}
