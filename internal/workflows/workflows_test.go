package workflows

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chirino/assistant-state/internal/plugin/notify/stream"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/chirino/assistant-state/internal/store"
	"github.com/stretchr/testify/require"
)

var T = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, r *Runner) (*Store, *store.ManualClock) {
	t.Helper()
	clock := store.NewManualClock(T)
	s := New(r, store.WithClock(clock))
	t.Cleanup(s.Close)
	return s, clock
}

func respond(msg string) Action {
	return Action{Type: Respond, Message: msg}
}

func TestFirstMatchWins(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, nil)
	t1, err := s.Add(ctx, Input{Name: "T1", Phrases: []string{"good night"}, Actions: []Action{respond("one")}})
	require.NoError(t, err)
	t2, err := s.Add(ctx, Input{Name: "T2", Phrases: []string{"night"}, Actions: []Action{respond("two")}})
	require.NoError(t, err)

	exec, ok := s.Evaluate(ctx, "Good night, assistant")
	require.True(t, ok)
	require.Equal(t, t1.ID, exec.TriggerID)
	require.True(t, exec.Success)
	require.Equal(t, []string{"one"}, exec.Responses())

	snap := s.Snapshot()
	require.Equal(t, 1, snap.Triggers[0].ExecutionCount)
	require.NotNil(t, snap.Triggers[0].LastTriggered)
	require.Equal(t, t2.ID, snap.Triggers[1].ID)
	require.Zero(t, snap.Triggers[1].ExecutionCount)
	require.Nil(t, snap.Triggers[1].LastTriggered)
	require.Len(t, snap.History, 1)
}

func TestEvaluateSkipsDisabledAndMisses(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, nil)
	t1, _ := s.Add(ctx, Input{Name: "T1", Phrases: []string{"lights"}, Actions: []Action{respond("one")}})
	t2, _ := s.Add(ctx, Input{Name: "T2", Phrases: []string{"", "LIGHTS"}, Actions: []Action{respond("two")}})
	_, found := s.Toggle(ctx, t1.ID)
	require.True(t, found)

	exec, ok := s.Evaluate(ctx, "lights please")
	require.True(t, ok)
	require.Equal(t, t2.ID, exec.TriggerID)

	rev := s.Revision()
	_, ok = s.Evaluate(ctx, "nothing here")
	require.False(t, ok)
	require.Equal(t, rev, s.Revision())
}

func TestWebhookAction(t *testing.T) {
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(string(b))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ctx := context.Background()
	s, _ := newStore(t, &Runner{Client: srv.Client(), WebhookTimeout: time.Second})
	_, err := s.Add(ctx, Input{Name: "Arrive", Phrases: []string{"i'm home"}, Actions: []Action{
		{Type: Webhook, URL: srv.URL},
		respond("Welcome home"),
	}})
	require.NoError(t, err)

	exec, ok := s.Evaluate(ctx, "I'm home")
	require.True(t, ok)
	require.True(t, exec.Success)
	require.Equal(t, http.StatusAccepted, exec.Results[0].Status)
	require.JSONEq(t, `{"trigger":"Arrive","triggerId":"`+exec.TriggerID+`","input":"I'm home","triggeredAt":"2026-10-19T09:00:00Z"}`, body.Load().(string))
	require.Equal(t, []string{"Welcome home"}, exec.Responses())
}

func TestWebhookTimeoutIsReportedFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	hub := stream.NewHub()
	ch, cancel := hub.Subscribe("alice")
	defer cancel()

	ctx := context.Background()
	s, _ := newStore(t, &Runner{Client: srv.Client(), WebhookTimeout: 50 * time.Millisecond, Notifier: hub, UserID: "alice"})
	_, err := s.Add(ctx, Input{Name: "Slow", Phrases: []string{"slow"}, Actions: []Action{
		{Type: Webhook, URL: srv.URL},
		respond("never"),
	}})
	require.NoError(t, err)

	start := time.Now()
	exec, ok := s.Evaluate(ctx, "go slow")
	require.True(t, ok)
	require.Less(t, time.Since(start), 5*time.Second)
	require.False(t, exec.Success)
	require.Len(t, exec.Results, 1)
	require.Contains(t, exec.Error, "timed out")
	require.Empty(t, exec.Responses())

	n := <-ch
	require.Equal(t, "Workflow failed: Slow", n.Title)

	// The failure is recorded, not retried.
	require.Equal(t, 1, s.Snapshot().Triggers[0].ExecutionCount)
	require.False(t, s.Snapshot().History[0].Success)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx := context.Background()
	s, _ := newStore(t, &Runner{Client: srv.Client()})
	_, err := s.Add(ctx, Input{Name: "x", Phrases: []string{"x"}, Actions: []Action{{Type: Webhook, URL: srv.URL}}})
	require.NoError(t, err)
	exec, _ := s.Evaluate(ctx, "x")
	require.False(t, exec.Success)
	require.Equal(t, http.StatusBadGateway, exec.Results[0].Status)
}

func TestWebhookToInternalAddressIsRefused(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	egress, err := security.NewEgressPolicy("")
	require.NoError(t, err)

	ctx := context.Background()
	s, _ := newStore(t, &Runner{Client: egress.Client()})
	_, err = s.Add(ctx, Input{Name: "x", Phrases: []string{"x"}, Actions: []Action{{Type: Webhook, URL: srv.URL}}})
	require.NoError(t, err)
	exec, _ := s.Evaluate(ctx, "x")
	require.False(t, exec.Success)
	require.Contains(t, exec.Results[0].Error, "destination address not allowed")
	require.Zero(t, hits.Load())
}

func TestDelayIsCappedAndCancelable(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, &Runner{MaxDelay: 10 * time.Millisecond})
	_, err := s.Add(ctx, Input{Name: "wait", Phrases: []string{"wait"}, Actions: []Action{{Type: Delay, DelayMS: 60_000}, respond("done")}})
	require.NoError(t, err)

	exec, _ := s.Evaluate(ctx, "wait")
	require.True(t, exec.Success)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	exec, _ = s.Evaluate(canceled, "wait")
	require.False(t, exec.Success)
	require.Contains(t, exec.Error, "interrupted")
	require.Len(t, s.Snapshot().History, 2)
}

func TestAddValidates(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, nil)
	var verr *store.ValidationError

	_, err := s.Add(ctx, Input{Name: "x", Phrases: []string{" "}})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "phrases", verr.Field)

	_, err = s.Add(ctx, Input{Name: "x", Phrases: []string{"x"}, Actions: []Action{{Type: Webhook, URL: "ftp://nope"}}})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "actions[0].url", verr.Field)
}

func TestHistoryIsCappedNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t, nil)
	_, err := s.Add(ctx, Input{Name: "x", Phrases: []string{"ping"}, Actions: []Action{respond("pong")}})
	require.NoError(t, err)
	for range MaxHistory + 3 {
		s.Evaluate(ctx, "ping")
		clock.Advance(time.Second)
	}
	require.Len(t, s.Snapshot().History, MaxHistory)
	recent := slices.Collect(s.History(2))
	require.Len(t, recent, 2)
	require.True(t, recent[0].StartedAt.After(recent[1].StartedAt))
	require.Equal(t, MaxHistory+3, s.Snapshot().Triggers[0].ExecutionCount)
}

func TestMostTriggeredAndUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t, nil)
	a, _ := s.Add(ctx, Input{Name: "a", Phrases: []string{"alpha"}})
	b, _ := s.Add(ctx, Input{Name: "b", Phrases: []string{"bravo"}})
	s.Evaluate(ctx, "bravo")

	var order []string
	for tr := range s.MostTriggered(0) {
		order = append(order, tr.Name)
	}
	require.Equal(t, []string{"b", "a"}, order)

	phrases := []string{"charlie"}
	found, err := s.Update(ctx, a.ID, Patch{Phrases: &phrases})
	require.NoError(t, err)
	require.True(t, found)
	exec, ok := s.Evaluate(ctx, "charlie")
	require.True(t, ok)
	require.Equal(t, a.ID, exec.TriggerID)

	require.True(t, s.Remove(ctx, b.ID))
	require.False(t, s.Remove(ctx, b.ID))
	s.Clear(ctx)
	require.Empty(t, s.Snapshot().Triggers)
	require.Empty(t, s.Snapshot().History)
}
