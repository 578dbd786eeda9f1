package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/finwire/paycore/internal/circuitbreaker"
	"github.com/finwire/paycore/internal/logging"
	"github.com/finwire/paycore/internal/retry"
)

// WebhookSink POSTs events to a configured URL, HMAC-signed when a secret
// is set. Transient failures are retried with backoff; 4xx responses are
// not, since the receiver has rejected the payload outright. A circuit
// breaker skips delivery entirely while the receiver is persistently down
// so a dead endpoint cannot soak up a retry budget per event.
type WebhookSink struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker

	maxAttempts int
	baseDelay   time.Duration
}

// NewWebhookSink creates a webhook sink for the given URL.
func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:         url,
		secret:      secret,
		client:      &http.Client{Timeout: 10 * time.Second},
		breaker:     circuitbreaker.New(5, 30*time.Second),
		maxAttempts: 3,
		baseDelay:   500 * time.Millisecond,
	}
}

func (w *WebhookSink) Deliver(ctx context.Context, evt *Event) {
	if !w.breaker.Allow(w.url) {
		webhookDeliveries.WithLabelValues("skipped").Inc()
		logging.L(ctx).Warn("webhook delivery skipped, circuit open",
			"event_id", evt.ID,
			"url", w.url,
		)
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		logging.L(ctx).Error("webhook payload marshal failed", "event_id", evt.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	err = retry.Do(ctx, w.maxAttempts, w.baseDelay, func() error {
		return w.post(ctx, evt, payload)
	})
	if err != nil {
		w.breaker.RecordFailure(w.url)
		webhookDeliveries.WithLabelValues("failure").Inc()
		logging.L(ctx).Warn("webhook delivery failed",
			"event_id", evt.ID,
			"event_type", string(evt.Type),
			"url", w.url,
			"error", err,
		)
		return
	}
	w.breaker.RecordSuccess(w.url)
	webhookDeliveries.WithLabelValues("success").Inc()
}

func (w *WebhookSink) post(ctx context.Context, evt *Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Paycore-Event", string(evt.Type))
	req.Header.Set("X-Paycore-Timestamp", fmt.Sprintf("%d", evt.OccurredAt.Unix()))
	if w.secret != "" {
		req.Header.Set("X-Paycore-Signature", sign(payload, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("webhook rejected with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
