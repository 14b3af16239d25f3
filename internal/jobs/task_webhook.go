package jobs

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/webhooks"
)

// WebhookHandler fans one received downloader event out into scan and
// notification work. Intake does the cheap parse; the heavy routing runs
// here, off the HTTP path.
type WebhookHandler struct {
	dispatcher *webhooks.Dispatcher
	queue      *Queue
	logger     zerolog.Logger
}

func NewWebhookHandler(d *webhooks.Dispatcher, queue *Queue, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{dispatcher: d, queue: queue, logger: logger}
}

func (h *WebhookHandler) HandleWebhook(ctx context.Context, job *models.Job) error {
	var p WebhookPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	return h.dispatcher.Dispatch(&webhooks.Event{
		Source:    p.Source,
		EventType: p.EventType,
		FilePath:  p.FilePath,
	}, h.queue)
}
