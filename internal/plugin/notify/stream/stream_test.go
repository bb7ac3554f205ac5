package stream

import (
	"context"
	"testing"

	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToUserListeners(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	alice, cancelAlice := h.Subscribe("alice")
	bob, cancelBob := h.Subscribe("bob")
	defer cancelBob()

	h.Notify(ctx, registrynotify.Notification{UserID: "alice", Title: "Reminder", Body: "call Sam"})
	got := <-alice
	require.Equal(t, "call Sam", got.Body)
	require.Empty(t, bob)

	cancelAlice()
	cancelAlice()
	require.Zero(t, h.Listeners("alice"))
	_, open := <-alice
	require.False(t, open)

	// No listener is not an error.
	h.Notify(ctx, registrynotify.Notification{UserID: "carol", Title: "ignored"})
}

func TestHubDropsWhenListenerIsFull(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("alice")
	defer cancel()
	for range bufferSize + 5 {
		h.Notify(context.Background(), registrynotify.Notification{UserID: "alice", Title: "x"})
	}
	require.Len(t, ch, bufferSize)
}
