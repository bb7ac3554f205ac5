package offline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/charmbracelet/log"
)

// Syncer replays one queued action.
type Syncer interface {
	Sync(ctx context.Context, a PendingAction) error
}

// SyncerFunc adapts a function to Syncer.
type SyncerFunc func(ctx context.Context, a PendingAction) error

func (f SyncerFunc) Sync(ctx context.Context, a PendingAction) error { return f(ctx, a) }

// HTTPSyncer posts the action payload to its target URL.
type HTTPSyncer struct {
	Client *http.Client
}

func (h HTTPSyncer) Sync(ctx context.Context, a PendingAction) error {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Target, bytes.NewReader(a.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Action-Type", a.Type)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned %s", a.Target, resp.Status)
	}
	return nil
}

// Failure is an action that could not be synced.
type Failure struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Error string `json:"error"`
}

// SyncReport is the outcome of one Drain.
type SyncReport struct {
	Synced    int       `json:"synced"`
	Failed    []Failure `json:"failed"`
	Remaining int       `json:"remaining"`
}

// Drain replays the queued actions in order, each bounded by timeout. Synced
// actions leave the queue. Failed ones stay queued with their attempt count
// raised; they are only retried by the next Drain.
func (s *Store) Drain(ctx context.Context, syncer Syncer, timeout time.Duration) (SyncReport, error) {
	s.Init(ctx)
	report := SyncReport{Failed: []Failure{}}
	st := s.Snapshot()
	if !st.Online {
		report.Remaining = len(st.Pending)
		return report, ErrOffline
	}

	synced := map[string]bool{}
	failed := map[string]string{}
	for _, a := range st.Pending {
		err := syncOne(ctx, syncer, a, timeout)
		if err == nil {
			synced[a.ID] = true
			report.Synced++
			continue
		}
		failed[a.ID] = err.Error()
		report.Failed = append(report.Failed, Failure{ID: a.ID, Type: a.Type, Error: err.Error()})
		log.Warn("Offline action sync failed", "id", a.ID, "type", a.Type, "err", err)
		if ctx.Err() != nil {
			break
		}
	}

	s.Store.Update(ctx, func(st State) (State, bool) {
		now := s.Clock().Now()
		pending := slices.DeleteFunc(slices.Clone(st.Pending), func(a PendingAction) bool { return synced[a.ID] })
		for i := range pending {
			if msg, ok := failed[pending[i].ID]; ok {
				pending[i].Attempts++
				pending[i].LastError = msg
				pending[i].LastAttemptAt = &now
			}
		}
		st.Pending = pending
		st.LastSyncedAt = &now
		report.Remaining = len(pending)
		return st, true
	})
	return report, nil
}

func syncOne(ctx context.Context, syncer Syncer, a PendingAction, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := syncer.Sync(ctx, a)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return err
}
