package notifications

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

// WebhookSender posts event messages to configured notification channels.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender() *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send dispatches a message to the given channel. Errors are retryable so
// the queue can back off a flaky endpoint.
func (w *WebhookSender) Send(ctx context.Context, channel *models.NotificationChannel, title, message string) error {
	switch channel.ChannelType {
	case "discord":
		return w.sendDiscord(ctx, channel.WebhookURL, title, message)
	case "slack":
		return w.sendSlack(ctx, channel.WebhookURL, title, message)
	case "generic":
		return w.sendGeneric(ctx, channel.WebhookURL, title, message)
	default:
		return errkind.Newf(errkind.KindInputInvalid, "unknown channel type: %s", channel.ChannelType)
	}
}

// SendTest validates a channel configuration end to end.
func (w *WebhookSender) SendTest(ctx context.Context, channel *models.NotificationChannel) error {
	return w.Send(ctx, channel, "Metarr Test", "This is a test notification from Metarr. Your webhook is working correctly!")
}

func (w *WebhookSender) sendDiscord(ctx context.Context, url, title, message string) error {
	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":       title,
				"description": message,
				"color":       3447003,
				"footer": map[string]string{
					"text": "Metarr",
				},
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	return w.postJSON(ctx, url, payload)
}

func (w *WebhookSender) sendSlack(ctx context.Context, url, title, message string) error {
	payload := map[string]interface{}{
		"blocks": []map[string]interface{}{
			{
				"type": "header",
				"text": map[string]string{
					"type": "plain_text",
					"text": title,
				},
			},
			{
				"type": "section",
				"text": map[string]string{
					"type": "mrkdwn",
					"text": message,
				},
			},
		},
	}
	return w.postJSON(ctx, url, payload)
}

func (w *WebhookSender) sendGeneric(ctx context.Context, url, title, message string) error {
	payload := map[string]interface{}{
		"title":     title,
		"message":   message,
		"source":    "metarr",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return w.postJSON(ctx, url, payload)
}

func (w *WebhookSender) postJSON(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errkind.Wrap(errkind.KindInputInvalid, "encode webhook payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errkind.Wrap(errkind.KindInputInvalid, "build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.KindConnectionFailed, "post webhook", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		return errkind.New(errkind.KindRateLimit, "webhook rate limited").WithRetryAfter(time.Minute)
	}
	if resp.StatusCode >= 400 {
		return errkind.Newf(errkind.KindUnavailable, "webhook returned status %d", resp.StatusCode)
	}
	return nil
}
