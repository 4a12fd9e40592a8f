package publish

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/txscreen/txscreen/internal/metrics"
	"github.com/txscreen/txscreen/internal/retry"
)

const (
	webhookMaxAttempts = 3
	webhookBaseDelay   = 100 * time.Millisecond
)

// WebhookPublisher delivers messages as signed HTTP POSTs to a single
// endpoint. The topic and key travel in headers, the message value is the
// request body.
type WebhookPublisher struct {
	url    string
	secret string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookPublisher creates a publisher posting to url, signing each
// payload with secret.
func NewWebhookPublisher(url, secret string, logger *slog.Logger) *WebhookPublisher {
	return &WebhookPublisher{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "webhook_publisher"),
	}
}

// Publish posts value to the configured endpoint, retrying transient
// failures with backoff. 4xx responses are not retried.
func (p *WebhookPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := retry.Do(ctx, webhookMaxAttempts, webhookBaseDelay, func() error {
		return p.post(ctx, topic, key, value)
	})
	if err != nil {
		metrics.PublishErrorsTotal.Inc()
		p.logger.Warn("publish failed",
			"topic", topic,
			"key", key,
			"error", err)
		return err
	}
	metrics.PublishTotal.Inc()
	return nil
}

func (p *WebhookPublisher) post(ctx context.Context, topic, key string, value []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(value))
	if err != nil {
		return retry.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Txscreen-Topic", topic)
	req.Header.Set("X-Txscreen-Key", key)
	req.Header.Set("X-Txscreen-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Txscreen-Signature", p.sign(value))

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("endpoint rejected message: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
}

func (p *WebhookPublisher) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(p.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (p *WebhookPublisher) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
