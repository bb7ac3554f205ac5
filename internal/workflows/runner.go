package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	registrynotify "github.com/chirino/assistant-state/internal/registry/notify"
	"github.com/chirino/assistant-state/internal/security"
	"github.com/chirino/assistant-state/internal/store"
)

const (
	defaultWebhookTimeout = 10 * time.Second
	defaultMaxDelay       = 30 * time.Second
	maxResponseBody       = 64 * 1024
)

// Runner executes workflow actions for one user.
type Runner struct {
	Client *http.Client
	// WebhookTimeout bounds each webhook call.
	WebhookTimeout time.Duration
	// MaxDelay caps delay actions.
	MaxDelay time.Duration
	Notifier registrynotify.Notifier
	UserID   string
}

func (r *Runner) client() *http.Client {
	if r.Client != nil {
		return r.Client
	}
	return http.DefaultClient
}

func (r *Runner) notifier() registrynotify.Notifier {
	if r.Notifier != nil {
		return r.Notifier
	}
	return registrynotify.Discard{}
}

// run executes the actions of t in order and stops at the first failure.
// Failures are reported to the user as a transient notification; nothing is
// retried.
func (r *Runner) run(ctx context.Context, clock store.Clock, t Trigger, input string) Execution {
	exec := Execution{
		ID:          store.NewID(),
		TriggerID:   t.ID,
		TriggerName: t.Name,
		Input:       input,
		StartedAt:   clock.Now(),
		Success:     true,
		Results:     []ActionResult{},
	}
	for _, a := range t.Actions {
		res := r.runAction(ctx, t, a, input, exec.StartedAt)
		exec.Results = append(exec.Results, res)
		if !res.Success {
			exec.Success = false
			exec.Error = fmt.Sprintf("%s action failed: %s", a.Type, res.Error)
			break
		}
	}
	exec.FinishedAt = store.Touch(exec.StartedAt, clock.Now())

	if exec.Success {
		security.CountWorkflowExecution("success")
		return exec
	}
	security.CountWorkflowExecution("failure")
	log.Warn("Workflow failed", "user", r.UserID, "trigger", t.Name, "err", exec.Error)
	r.notifier().Notify(ctx, registrynotify.Notification{
		UserID: r.UserID,
		Title:  "Workflow failed: " + t.Name,
		Body:   exec.Error,
		Tag:    "workflow-" + t.ID,
		SentAt: clock.Now(),
	})
	return exec
}

func (r *Runner) runAction(ctx context.Context, t Trigger, a Action, input string, at time.Time) ActionResult {
	res := ActionResult{Type: a.Type}
	switch a.Type {
	case Respond:
		res.Success = true
		res.Output = a.Message
	case Notify:
		r.notifier().Notify(ctx, registrynotify.Notification{
			UserID: r.UserID,
			Title:  t.Name,
			Body:   a.Message,
			Tag:    "workflow-" + t.ID,
			SentAt: at,
		})
		res.Success = true
	case Delay:
		if err := r.delay(ctx, time.Duration(a.DelayMS)*time.Millisecond); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Success = true
	case Webhook:
		status, err := r.webhook(ctx, t, a, input, at)
		res.Status = status
		if err != nil {
			res.Error = err.Error()
			return res
		}
		res.Success = true
	default:
		res.Error = fmt.Sprintf("unknown action type %q", a.Type)
	}
	return res
}

func (r *Runner) delay(ctx context.Context, d time.Duration) error {
	limit := r.MaxDelay
	if limit <= 0 {
		limit = defaultMaxDelay
	}
	d = min(d, limit)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

type webhookEvent struct {
	Trigger     string    `json:"trigger"`
	TriggerID   string    `json:"triggerId"`
	Input       string    `json:"input"`
	TriggeredAt time.Time `json:"triggeredAt"`
}

func (r *Runner) webhook(ctx context.Context, t Trigger, a Action, input string, at time.Time) (int, error) {
	timeout := r.WebhookTimeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := []byte(a.Payload)
	if len(body) == 0 {
		var err error
		body, err = json.Marshal(webhookEvent{Trigger: t.Name, TriggerID: t.ID, Input: input, TriggeredAt: at})
		if err != nil {
			return 0, err
		}
	}
	method := strings.ToUpper(strings.TrimSpace(a.Method))
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, a.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client().Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("webhook timed out after %s", timeout)
		}
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook returned %s", resp.Status)
	}
	return resp.StatusCode, nil
}
