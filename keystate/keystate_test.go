package keystate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/mauth"
	"github.com/trustmesh/msgauth/pkg/storage"
	"github.com/trustmesh/msgauth/pkg/storage/memory"
)

func TestLookupMissingReturnsNotFound(t *testing.T) {
	s := New(memory.New(), 60*time.Second)
	_, err := s.Lookup(context.Background(), "Dghost")
	require.True(t, mauth.Is(err, mauth.KindNotFound))
}

func TestRegisterThenLookupIsCached(t *testing.T) {
	backend := memory.New()
	s := New(backend, 60*time.Second)
	ctx := context.Background()

	ks := storage.KeyState{AID: "Dalice", KSN: 0, Keys: []string{"pub1"}, Threshold: "1", UpdatedAt: time.Now()}
	require.NoError(t, s.Register(ctx, ks))

	got, err := s.Lookup(ctx, "Dalice")
	require.NoError(t, err)
	require.Equal(t, uint64(0), got.KSN)
}

func TestRotateInvalidatesCache(t *testing.T) {
	backend := memory.New()
	s := New(backend, 60*time.Second)
	ctx := context.Background()

	ks := storage.KeyState{AID: "Dalice", KSN: 0, Keys: []string{"pub1"}, Threshold: "1", UpdatedAt: time.Now()}
	require.NoError(t, s.Register(ctx, ks))
	_, err := s.Lookup(ctx, "Dalice")
	require.NoError(t, err)

	next := ks
	next.KSN = 1
	next.Keys = []string{"pub2"}
	require.NoError(t, s.Rotate(ctx, "Dalice", 0, next))

	got, err := s.Lookup(ctx, "Dalice")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.KSN)
}

func TestRotateStaleKsnFails(t *testing.T) {
	backend := memory.New()
	s := New(backend, 60*time.Second)
	ctx := context.Background()

	ks := storage.KeyState{AID: "Dalice", KSN: 0, Keys: []string{"pub1"}, Threshold: "1", UpdatedAt: time.Now()}
	require.NoError(t, s.Register(ctx, ks))

	err := s.Rotate(ctx, "Dalice", 5, ks)
	require.True(t, mauth.Is(err, mauth.KindValidation))
}
