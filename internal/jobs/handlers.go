package jobs

import (
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/blobcache"
	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/notifications"
	"github.com/metarr/metarr/internal/playersync"
	"github.com/metarr/metarr/internal/publish"
	"github.com/metarr/metarr/internal/repository"
	"github.com/metarr/metarr/internal/scanner"
	"github.com/metarr/metarr/internal/webhooks"
)

// HandlerDeps carries everything the job handlers touch.
type HandlerDeps struct {
	Scanner    *scanner.Scanner
	Pipeline   *enrich.Pipeline
	Publisher  *publish.Publisher
	Dispatcher *webhooks.Dispatcher
	Syncer     *playersync.Syncer
	Sender     *notifications.WebhookSender
	Cache      *blobcache.Cache

	Movies    *repository.MovieRepository
	Libraries *repository.LibraryRepository
	Players   *repository.PlayerRepository
	Channels  *repository.NotificationRepository
	Relations *repository.RelationRepository
	Recycle   *repository.RecycleRepository

	Logger zerolog.Logger
}

// RegisterHandlers binds every job type to its handler.
func RegisterHandlers(q *Queue, d HandlerDeps) {
	log := d.Logger.With().Str("component", "jobs").Logger()

	scan := NewScanHandler(d.Scanner, d.Libraries, q, log)
	q.RegisterHandler(TaskScanMovie, scan.HandleScanMovie)
	q.RegisterHandler(TaskFileScan, scan.HandleFileScan)

	enrichH := NewEnrichHandler(d.Pipeline, d.Movies, d.Libraries, q, log)
	q.RegisterHandler(TaskEnrichMetadata, enrichH.HandleEnrich)
	q.RegisterHandler(TaskProviderUpdate, enrichH.HandleProviderUpdate)

	pub := NewPublishHandler(d.Publisher, d.Movies, d.Players, d.Channels, q, log)
	q.RegisterHandler(TaskPublish, pub.HandlePublish)

	notify := NewNotifyHandler(d.Syncer, d.Sender, d.Movies, d.Players, d.Channels, log)
	q.RegisterHandler(TaskNotifyPlayer, notify.HandlePlayer)
	q.RegisterHandler(TaskNotifyChannel, notify.HandleChannel)

	webhook := NewWebhookHandler(d.Dispatcher, q, log)
	q.RegisterHandler(TaskWebhookReceived, webhook.HandleWebhook)

	maint := NewMaintenanceHandler(d.Cache, d.Relations, d.Recycle, log)
	q.RegisterHandler(TaskCacheGC, maint.HandleCacheGC)
}
