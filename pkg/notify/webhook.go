package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/async"
	"github.com/platinummonkey/rebill/pkg/billing"
	"github.com/platinummonkey/rebill/pkg/httputil"
)

const (
	SignatureHeader = "X-Rebill-Signature"
	EventHeader     = "X-Rebill-Event"
	DeliveryHeader  = "X-Rebill-Delivery"
)

// ErrNoWebhookURL is returned when a webhook notifier is built without a target
var ErrNoWebhookURL = errors.New("webhook URL is required")

// Event is the body posted to a webhook
type Event struct {
	ID string `json:"id"`
	billing.Notification
}

// WebhookConfig configures a WebhookNotifier
type WebhookConfig struct {
	URL    string
	Secret string
	// Timeout bounds a single HTTP attempt
	Timeout time.Duration
	Retry   RetryConfig
	// Async delivers in the background; Notify returns before the endpoint answers
	Async      bool
	HTTPClient *http.Client
}

// WebhookStats counts delivery results since the notifier was created
type WebhookStats struct {
	Delivered int64
	Failed    int64
	Retries   int64
}

// WebhookNotifier posts signed notification events to an HTTP endpoint
type WebhookNotifier struct {
	url      string
	secret   string
	async    bool
	client   *http.Client
	retry    *RetryPolicy
	logger   *logrus.Logger
	inflight sync.WaitGroup
	// sleep waits between attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error

	delivered atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(cfg WebhookConfig, logger *logrus.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, ErrNoWebhookURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &WebhookNotifier{
		url:    cfg.URL,
		secret: cfg.Secret,
		async:  cfg.Async,
		client: client,
		retry:  NewRetryPolicy(cfg.Retry),
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

// Notify sends n to the endpoint. In async mode delivery failures are only logged.
func (w *WebhookNotifier) Notify(ctx context.Context, n billing.Notification) error {
	event := Event{ID: uuid.NewString(), Notification: n}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if !w.async {
		return w.deliver(ctx, event, payload)
	}

	w.inflight.Add(1)
	async.SafeGo(context.WithoutCancel(ctx), 0, w.logger, "webhook delivery", func(ctx context.Context) error {
		defer w.inflight.Done()
		return w.deliver(ctx, event, payload)
	})
	return nil
}

// Wait blocks until background deliveries finish or ctx is done
func (w *WebhookNotifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivery counters
func (w *WebhookNotifier) Stats() WebhookStats {
	return WebhookStats{
		Delivered: w.delivered.Load(),
		Failed:    w.failed.Load(),
		Retries:   w.retries.Load(),
	}
}

func (w *WebhookNotifier) deliver(ctx context.Context, event Event, payload []byte) error {
	headers := map[string]string{
		EventHeader:    string(event.Kind),
		DeliveryHeader: event.ID,
	}
	if w.secret != "" {
		headers[SignatureHeader] = generateSignature(payload, w.secret)
	}

	for attempt := 1; ; attempt++ {
		err := w.send(ctx, payload, headers)
		if err == nil {
			w.delivered.Add(1)
			return nil
		}

		if !w.retry.ShouldRetry(attempt, err) {
			w.failed.Add(1)
			return fmt.Errorf("failed to deliver %s notification for subscription %d after %d attempts: %w",
				event.Kind, event.SubscriptionID, attempt, err)
		}

		delay := w.retry.NextRetryDelay(attempt)
		w.logger.WithFields(logrus.Fields{
			"delivery_id": event.ID,
			"attempt":     attempt,
			"delay":       delay,
		}).WithError(err).Debug("Retrying webhook delivery")
		w.retries.Add(1)

		if err := w.sleep(ctx, delay); err != nil {
			w.failed.Add(1)
			return fmt.Errorf("webhook delivery %s abandoned: %w", event.ID, err)
		}
	}
}

func (w *WebhookNotifier) send(ctx context.Context, payload []byte, headers map[string]string) error {
	// RawMessage is written as-is, so the signature matches the bytes on the wire
	return httputil.DoJSON(ctx, w.client, http.MethodPost, w.url, json.RawMessage(payload), headers, nil)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// VerifySignature verifies a webhook signature header against the body
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := generateSignature(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// generateSignature generates HMAC-SHA256 signature
func generateSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
