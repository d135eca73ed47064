package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/pkg/storage"
)

func TestKeyStateRegisterLookupRotate(t *testing.T) {
	ctx := context.Background()
	s := New()

	ks := storage.KeyState{AID: "Dalice", KSN: 0, Keys: []string{"pub1"}, Threshold: "1", UpdatedAt: time.Now()}
	require.NoError(t, s.Register(ctx, ks))
	require.ErrorIs(t, s.Register(ctx, ks), storage.ErrConflict)

	got, err := s.Lookup(ctx, "Dalice")
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.KSN)

	next := ks
	next.KSN = 1
	next.Keys = []string{"pub2"}
	require.NoError(t, s.Rotate(ctx, "Dalice", 0, next))
	require.ErrorIs(t, s.Rotate(ctx, "Dalice", 0, next), storage.ErrConflict)

	_, err = s.Lookup(ctx, "Dbob")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReplayNonceRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := New()

	n := storage.ReplayNonce{KeyID: "Dalice", Nonce: "n1", UsedAt: time.Now(), ExpiresAt: time.Now().Add(10 * time.Minute)}
	require.NoError(t, s.CheckAndInsert(ctx, n))
	require.ErrorIs(t, s.CheckAndInsert(ctx, n), storage.ErrConflict)
}

func TestEnvelopeInsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := storage.Envelope{ID: "env1", SenderAID: "Dalice", RecipientAID: "Dbob", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	_, inserted, err := s.InsertEnvelope(ctx, e)
	require.NoError(t, err)
	require.True(t, inserted)

	_, inserted, err = s.InsertEnvelope(ctx, e)
	require.NoError(t, err)
	require.False(t, inserted)

	unread, err := s.ListUnread(ctx, "Dbob", 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
}

func TestEnvelopeAckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	e := storage.Envelope{ID: "env1", SenderAID: "Dalice", RecipientAID: "Dbob", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)}
	_, _, err := s.InsertEnvelope(ctx, e)
	require.NoError(t, err)

	_, transitioned, err := s.MarkEnvelopeRetrieved(ctx, "env1", []string{"0-sig"}, 0, "said1")
	require.NoError(t, err)
	require.True(t, transitioned)

	stored, transitioned, err := s.MarkEnvelopeRetrieved(ctx, "env1", []string{"0-other"}, 1, "said2")
	require.NoError(t, err)
	require.False(t, transitioned)
	require.Equal(t, []string{"0-sig"}, stored.ReceiptSig)
}

func TestDenyBeatsAllowIsExpressibleAtStorageLevel(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.AddAllow(ctx, storage.ListEntry{OwnerAID: "Dbob", TargetAID: "Dmallory", AddedAt: time.Now()}))
	require.NoError(t, s.AddDeny(ctx, storage.ListEntry{OwnerAID: "Dbob", TargetAID: "Dmallory", AddedAt: time.Now()}))

	allowed, err := s.IsAllowed(ctx, "Dbob", "Dmallory")
	require.NoError(t, err)
	require.True(t, allowed)

	denied, err := s.IsDenied(ctx, "Dbob", "Dmallory")
	require.NoError(t, err)
	require.True(t, denied)
}

func TestWithinTxIsAtomicAcrossSubStores(t *testing.T) {
	ctx := context.Background()
	s := New()

	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		if err := tx.CheckAndInsert(ctx, storage.ReplayNonce{KeyID: "Dalice", Nonce: "n1", ExpiresAt: time.Now().Add(time.Minute)}); err != nil {
			return err
		}
		_, _, err := tx.InsertEnvelope(ctx, storage.Envelope{ID: "env1", SenderAID: "Dalice", RecipientAID: "Dbob", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Hour)})
		return err
	})
	require.NoError(t, err)

	_, err = s.GetEnvelope(ctx, "env1")
	require.NoError(t, err)
}
