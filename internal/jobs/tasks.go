package jobs

import (
	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
)

// Job type names. Entity-scoped types additionally hold a per-movie lock
// while processing.
const (
	TaskScanMovie       = "scan-movie"
	TaskEnrichMetadata  = "enrich-metadata"
	TaskPublish         = "publish"
	TaskNotifyPlayer    = "notify-player"
	TaskNotifyChannel   = "notify-channel"
	TaskWebhookReceived = "webhook-received"
	TaskFileScan        = "file-scan"
	TaskProviderUpdate  = "provider-update"
	TaskCacheGC         = "cache-gc"
)

// entityScoped lists the types that must serialize per movie.
var entityScoped = map[string]bool{
	TaskScanMovie:      true,
	TaskEnrichMetadata: true,
	TaskPublish:        true,
}

// defaultMaxRetries per job type; types absent here get 3.
var defaultMaxRetries = map[string]int{
	TaskNotifyPlayer:  5,
	TaskNotifyChannel: 5,
}

// ──────────────────── Payloads ────────────────────

// ScanMoviePayload ingests a single media path into a library.
type ScanMoviePayload struct {
	LibraryID int64  `json:"library_id"`
	FilePath  string `json:"file_path"`
}

// EnrichPayload runs the enrichment pipeline for one movie.
type EnrichPayload struct {
	MovieID      int64 `json:"movie_id"`
	LibraryID    int64 `json:"library_id"`
	Manual       bool  `json:"manual"`
	ForceRefresh bool  `json:"force_refresh"`
}

// PublishPayload deploys one movie's assets and sidecar.
type PublishPayload struct {
	MovieID   int64 `json:"movie_id"`
	LibraryID int64 `json:"library_id"`
}

// NotifyPlayerPayload asks an external player group to pick up changes.
type NotifyPlayerPayload struct {
	MovieID   int64 `json:"movie_id"`
	LibraryID int64 `json:"library_id"`
	GroupID   int64 `json:"group_id"`
}

// NotifyChannelPayload posts to one notification channel.
type NotifyChannelPayload struct {
	ChannelID int64  `json:"channel_id"`
	MovieID   int64  `json:"movie_id"`
	Event     string `json:"event"`
	Message   string `json:"message"`
}

// WebhookPayload is a raw downloader event to fan out.
type WebhookPayload struct {
	Source    string `json:"source"`
	EventType string `json:"event_type"`
	FilePath  string `json:"file_path"`
}

// FileScanPayload walks a whole library.
type FileScanPayload struct {
	LibraryID int64 `json:"library_id"`
}

// ProviderUpdatePayload refreshes provider data for every monitored movie
// in a library.
type ProviderUpdatePayload struct {
	LibraryID int64 `json:"library_id"`
}

// CacheGCPayload sweeps unreferenced blobs.
type CacheGCPayload struct {
	Limit int `json:"limit"`
}

func decodePayload(raw []byte, out interface{}) error {
	if err := json.Unmarshal(raw, out); err != nil {
		// An undecodable payload can never succeed; the queue deadlines it.
		return errkind.Wrap(errkind.KindInputInvalid, "decode job payload", err)
	}
	return nil
}

// EntityRef extracts the movie id a job serializes on, if any.
func EntityRef(jobType string, payload []byte) (int64, bool) {
	if !entityScoped[jobType] {
		return 0, false
	}
	var probe struct {
		MovieID  int64  `json:"movie_id"`
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return 0, false
	}
	if probe.MovieID != 0 {
		return probe.MovieID, true
	}
	return 0, false
}

// MaxRetriesFor returns the retry budget for a job type.
func MaxRetriesFor(jobType string) int {
	if n, ok := defaultMaxRetries[jobType]; ok {
		return n
	}
	return 3
}
