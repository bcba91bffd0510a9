package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 30 * time.Second

// WebhookCall is one outbound HTTP delivery with retry behavior.
type WebhookCall struct {
	URL           string
	Method        string
	Headers       map[string]string
	Payload       map[string]any
	RetryAttempts int
	RetryDelay    time.Duration
}

type WebhookCaller interface {
	CallWebhook(ctx context.Context, call WebhookCall) error
}

// HTTPWebhookCaller posts JSON payloads with bounded retries. Any 2xx
// response counts as delivered.
type HTTPWebhookCaller struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPWebhookCaller(logger *slog.Logger) *HTTPWebhookCaller {
	return &HTTPWebhookCaller{
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: logger,
	}
}

func (c *HTTPWebhookCaller) CallWebhook(ctx context.Context, call WebhookCall) error {
	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodPost
	}

	attempts := call.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	body, err := json.Marshal(call.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && call.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(call.RetryDelay):
			}
		}

		lastErr = c.deliver(ctx, method, call, body)
		if lastErr == nil {
			return nil
		}

		c.logger.WarnContext(ctx, "webhook delivery failed",
			"url", call.URL, "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("webhook delivery failed after %d attempts: %w", attempts, lastErr)
}

func (c *HTTPWebhookCaller) deliver(ctx context.Context, method string, call WebhookCall, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, call.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range call.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}

	return nil
}
