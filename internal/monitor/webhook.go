package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookRetries = 3
)

// WebhookConfig extends the shared gating with delivery settings.
type WebhookConfig struct {
	ChannelConfig
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"-"`
	Retries int               `json:"retryCount,omitempty"`
}

// WebhookChannel posts alerts as JSON. Failed deliveries retry with
// linear backoff; the last error is surfaced in the result, never to the
// event's emitter.
type WebhookChannel struct {
	gate
	url     string
	headers map[string]string
	client  *retryablehttp.Client
}

// webhookPayload is the posted body.
type webhookPayload struct {
	Event     SecurityEvent `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(cfg WebhookConfig) *WebhookChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultWebhookRetries
	}
	client := retryablehttp.NewClient()
	client.RetryMax = retries - 1
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = time.Duration(retries) * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil
	client.Backoff = func(min, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return min * time.Duration(attemptNum+1)
	}
	return &WebhookChannel{
		gate:    gate{cfg: cfg.ChannelConfig, kind: "webhook"},
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  client,
	}
}

func (w *WebhookChannel) Send(ctx context.Context, event SecurityEvent) AlertResult {
	body, err := json.Marshal(webhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Source:    "unmgate",
	})
	if err != nil {
		return w.failure(err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, body)
	if err != nil {
		return w.failure(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return w.failure(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return w.failure(fmt.Errorf("webhook responded %d", resp.StatusCode))
	}
	return w.success()
}

var _ Channel = (*WebhookChannel)(nil)
