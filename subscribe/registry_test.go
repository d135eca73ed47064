package subscribe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/trustmesh/msgauth/pkg/storage"
)

func TestSubscribeReceivesNewEnvelope(t *testing.T) {
	reg := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := reg.Subscribe(ctx, "Dbob", time.Time{})
	require.Equal(t, 1, reg.Count("Dbob"))

	env := storage.Envelope{ID: "e1", RecipientAID: "Dbob", CreatedAt: time.Now()}
	reg.Notify("Dbob", env)

	select {
	case got := <-sub.Events():
		require.Equal(t, "e1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
	}
}

func TestNotifyIgnoresOtherRecipients(t *testing.T) {
	reg := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := reg.Subscribe(ctx, "Dbob", time.Time{})
	reg.Notify("Dalice", storage.Envelope{ID: "e1", RecipientAID: "Dalice", CreatedAt: time.Now()})

	select {
	case <-sub.Events():
		t.Fatal("unexpected delivery for a different recipient")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelReleasesSlot(t *testing.T) {
	reg := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	reg.Subscribe(ctx, "Dbob", time.Time{})
	require.Equal(t, 1, reg.Count("Dbob"))

	cancel()
	require.Eventually(t, func() bool { return reg.Count("Dbob") == 0 }, time.Second, 10*time.Millisecond)
}

func TestBacklogDropsOldestOnOverflow(t *testing.T) {
	reg := New(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := reg.Subscribe(ctx, "Dbob", time.Time{})
	base := time.Now()
	for i := 0; i < 5; i++ {
		reg.Notify("Dbob", storage.Envelope{ID: string(rune('a' + i)), RecipientAID: "Dbob", CreatedAt: base.Add(time.Duration(i) * time.Millisecond)})
	}

	// The channel never blocks the producer and the subscription stays
	// usable; with a backlog of 2, the three oldest envelopes (a, b, c)
	// are dropped and the two newest remain, in order.
	var seen []string
	drain := true
	for drain {
		select {
		case e := <-sub.Events():
			seen = append(seen, e.ID)
		default:
			drain = false
		}
	}
	require.Equal(t, []string{"d", "e"}, seen)
}
