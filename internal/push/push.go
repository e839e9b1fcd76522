// Package push implements the Push Notifier of spec.md §4.H: best-effort
// delivery of a terminal Task to every PushNotificationConfig callback
// registered on it, with bounded exponential backoff and jitter.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/agentbridge/control-plane/internal/a2a/types"
	"github.com/agentbridge/control-plane/internal/telemetry"
)

// MaxAttempts bounds the retry count per callback (spec.md §4.H: "up to a
// bounded attempt count").
const MaxAttempts = 5

// Notifier POSTs terminal tasks to configured HTTP callbacks. A delivery
// failure never fails the parent request; it is logged and surfaced in
// observability only (spec.md §4.H).
type Notifier struct {
	client  *http.Client
	log     telemetry.Logger
	met     telemetry.Metrics
	limiter *rate.Limiter
}

// New constructs a Notifier. client defaults to http.DefaultClient if nil.
func New(client *http.Client, log telemetry.Logger, met telemetry.Metrics) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if met == nil {
		met = telemetry.NewNoopMetrics()
	}
	return &Notifier{client: client, log: log, met: met}
}

// WithRateLimit caps the Notifier's outbound callback throughput to rps
// requests per second, process-wide, with burst as the initial token
// bucket size. Unset, deliveries are unbounded beyond the per-callback
// backoff schedule.
func (n *Notifier) WithRateLimit(rps float64, burst int) *Notifier {
	n.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return n
}

// Notify delivers t to every config in configs, one goroutine per callback,
// and returns immediately without waiting for any delivery to finish
// (success, exhausted retries, or a non-retryable 4xx).
func (n *Notifier) Notify(ctx context.Context, t *types.Task, configs []*types.PushNotificationConfig) {
	for _, cfg := range configs {
		go n.deliver(ctx, t, cfg)
	}
}

func (n *Notifier) deliver(ctx context.Context, t *types.Task, cfg *types.PushNotificationConfig) {
	body, err := json.Marshal(t)
	if err != nil {
		n.log.Error(ctx, "marshal push notification body", "task_id", t.ID, "error", err)
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.5
	policy := backoff.WithMaxRetries(bo, MaxAttempts-1)

	attempt := 0
	op := func() error {
		attempt++
		err := n.send(ctx, cfg, body)
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		n.log.Warn(ctx, "push notification delivery failed", "task_id", t.ID, "config_id", cfg.ID, "attempts", attempt, "error", err)
		n.met.IncCounter("push_notification_delivery_failed_total", 1, "task_id", t.ID)
		return
	}
	n.met.IncCounter("push_notification_delivery_succeeded_total", 1, "task_id", t.ID)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("callback returned status %d", e.code) }

// isRetryable reports whether err represents a response the caller should
// retry: anything but a 4xx, except 408 (Request Timeout) and 429 (Too Many
// Requests), which are retried (spec.md §4.H).
func isRetryable(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return true
	}
	if se.code == http.StatusRequestTimeout || se.code == http.StatusTooManyRequests {
		return true
	}
	return se.code < 400 || se.code >= 500
}

func (n *Notifier) send(ctx context.Context, cfg *types.PushNotificationConfig, body []byte) error {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.Token != "" {
		req.Header.Set("X-A2A-Notification-Token", cfg.Token)
	}
	if cfg.Authentication != nil {
		applyAuthentication(req, cfg.Authentication)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &statusError{code: resp.StatusCode}
}

func applyAuthentication(req *http.Request, auth *types.PushNotificationAuthentication) {
	for _, scheme := range auth.Schemes {
		switch scheme {
		case "bearer":
			if token, ok := auth.Credentials["token"]; ok {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		case "basic":
			if user, ok := auth.Credentials["username"]; ok {
				req.SetBasicAuth(user, auth.Credentials["password"])
			}
		}
	}
}
