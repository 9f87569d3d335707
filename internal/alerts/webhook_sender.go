package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookSender posts alerts as JSON to a fixed URL.
type WebhookSender struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// NewWebhookSender creates a new webhook sender.
func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		logger: logger,
	}
}

// Send posts the alert.
func (s *WebhookSender) Send(ctx context.Context, alert *Alert) error {
	if alert.Channel != ChannelWebhook {
		return fmt.Errorf("webhook sender only supports webhooks, got: %s", alert.Channel)
	}
	if s.url == "" {
		return fmt.Errorf("webhook url not configured")
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "rxsync/1.0")
	req.Header.Set("X-Rxsync-Alert-ID", alert.ID.String())
	req.Header.Set("X-Rxsync-Alert-Kind", string(alert.Kind))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	s.logger.Info("webhook delivered",
		zap.String("id", alert.ID.String()),
		zap.String("url", s.url),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

func (s *WebhookSender) SupportsChannel(channel Channel) bool {
	return channel == ChannelWebhook
}
