// Package notify ships the push-notification implementations consumed by the
// ledger. Delivery is fire and forget: failures are logged and swallowed so
// they can never roll back a financial mutation.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LogNotifier logs notifications instead of delivering them. Used in
// development and as the fallback when no push endpoint is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, userID, title, body string, metadata map[string]string) {
	n.log.Info("push notification",
		zap.String("user_id", userID),
		zap.String("title", title),
		zap.String("body", body),
		zap.Any("metadata", metadata))
}

// WebhookNotifier posts notifications to an external push-delivery service.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func NewWebhookNotifier(url string, log *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

type webhookPayload struct {
	UserID   string            `json:"user_id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (n *WebhookNotifier) Send(ctx context.Context, userID, title, body string, metadata map[string]string) {
	payload, err := json.Marshal(webhookPayload{UserID: userID, Title: title, Body: body, Metadata: metadata})
	if err != nil {
		n.log.Warn("failed to encode notification", zap.String("user_id", userID), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.log.Warn("failed to build notification request", zap.String("user_id", userID), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("failed to deliver notification", zap.String("user_id", userID), zap.Error(err))
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("notification endpoint rejected delivery",
			zap.String("user_id", userID),
			zap.Int("status", resp.StatusCode))
	}
}
