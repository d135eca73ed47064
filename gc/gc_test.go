package gc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
)

func TestSweepOnceRemovesExpiredRows(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	now := time.Now()

	require.NoError(t, store.Insert(ctx, storage.Challenge{
		ID: "c1", AID: "Dalice", Purpose: "send", Nonce: "n1",
		CreatedAt: past, ExpiresAt: past.Add(time.Minute),
	}))
	require.NoError(t, store.CheckAndInsert(ctx, storage.ReplayNonce{
		KeyID: "Dalice", Nonce: "n1", UsedAt: past, ExpiresAt: past.Add(time.Minute),
	}))
	_, _, err := store.InsertEnvelope(ctx, storage.Envelope{
		ID: "e1", SenderAID: "Dalice", RecipientAID: "Dbob",
		CreatedAt: past, ExpiresAt: past.Add(time.Minute), Retrieved: true,
	})
	require.NoError(t, err)

	sweeper := New(store, 100)
	res, err := sweeper.SweepOnce(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, res.ChallengesDeleted)
	require.Equal(t, 1, res.NoncesDeleted)
	require.Equal(t, 1, res.EnvelopesDeleted)

	_, err = store.Get(ctx, "c1")
	require.Equal(t, storage.ErrNotFound, err)
}

func TestSweepOnceIsIdempotent(t *testing.T) {
	store := memory.New()
	sweeper := New(store, 100)
	res, err := sweeper.SweepOnce(context.Background(), time.Now())
	require.NoError(t, err)
	require.Equal(t, Result{}, res)
}
