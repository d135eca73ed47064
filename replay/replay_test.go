package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
)

func TestCheckAndInsertRejectsReplay(t *testing.T) {
	store := memory.New()
	ledger := New(DefaultTTL)
	now := time.Now()

	require.NoError(t, ledger.CheckAndInsert(context.Background(), store, "Dalice", "n1", now))
	err := ledger.CheckAndInsert(context.Background(), store, "Dalice", "n1", now)
	require.True(t, mauth.Is(err, mauth.KindValidation))
}

func TestCheckAndInsertAllowsDistinctNonces(t *testing.T) {
	store := memory.New()
	ledger := New(DefaultTTL)
	now := time.Now()

	require.NoError(t, ledger.CheckAndInsert(context.Background(), store, "Dalice", "n1", now))
	require.NoError(t, ledger.CheckAndInsert(context.Background(), store, "Dalice", "n2", now))
	require.NoError(t, ledger.CheckAndInsert(context.Background(), store, "Dbob", "n1", now))
}

func TestSweepRemovesExpired(t *testing.T) {
	store := memory.New()
	ledger := New(time.Minute)
	past := time.Now().Add(-time.Hour)

	require.NoError(t, ledger.CheckAndInsert(context.Background(), store, "Dalice", "n1", past))

	n, err := Sweep(context.Background(), store, time.Now(), 100)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
