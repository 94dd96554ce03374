package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/slotwise/internal/db"
)

// WebhookEvent is the JSON body posted to a business webhook.
type WebhookEvent struct {
	Event         string                  `json:"event"`
	BusinessID    string                  `json:"business_id"`
	Notifications []*db.SmartNotification `json:"notifications"`
}

// WebhookSender posts new notifications to the business's webhook URL.
type WebhookSender struct {
	client *http.Client
	logger *zap.Logger
}

type WebhookConfig struct {
	Timeout time.Duration
}

func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSender{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (s *WebhookSender) Send(ctx context.Context, d *Delivery) error {
	if d.Channel != ChannelWebhook {
		return fmt.Errorf("webhook sender only supports webhooks, got: %s", d.Channel)
	}
	u, err := url.Parse(d.Recipient)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", d.Recipient)
	}

	body, err := json.Marshal(WebhookEvent{
		Event:         "notifications.created",
		BusinessID:    d.BusinessID.String(),
		Notifications: d.Notifications,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Slotwise/1.0")
	req.Header.Set("X-Slotwise-Business-ID", d.BusinessID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(preview))
	}

	s.logger.Info("webhook delivered",
		zap.String("business_id", d.BusinessID.String()),
		zap.String("host", u.Host),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

func (s *WebhookSender) SupportsChannel(channel string) bool {
	return channel == ChannelWebhook
}
