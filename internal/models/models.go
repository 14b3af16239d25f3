package models

import (
	"strings"
	"time"
)

// ──────────────────── Workflow ────────────────────

// MovieState tracks an entity through the curation workflow.
type MovieState string

const (
	StateNeedsIdentification MovieState = "needs_identification"
	StatePendingMetadata     MovieState = "pending_metadata"
	StateIdentified          MovieState = "identified"
	StateEnriched            MovieState = "enriched"
	StatePublished           MovieState = "published"
	StateFailed              MovieState = "failed"
)

// ──────────────────── Movie ────────────────────

// Movie is the primary unit of work: one media file plus everything we know
// about it.
type Movie struct {
	ID        int64  `json:"id"`
	LibraryID int64  `json:"library_id"`
	FilePath  string `json:"file_path"`

	// External correlation ids
	TmdbID *int64  `json:"tmdb_id,omitempty"`
	ImdbID *string `json:"imdb_id,omitempty"`
	TvdbID *int64  `json:"tvdb_id,omitempty"`

	Title         string     `json:"title"`
	OriginalTitle *string    `json:"original_title,omitempty"`
	SortTitle     *string    `json:"sort_title,omitempty"`
	Year          *int       `json:"year,omitempty"`
	Plot          *string    `json:"plot,omitempty"`
	Tagline       *string    `json:"tagline,omitempty"`
	Runtime       *int       `json:"runtime,omitempty"` // minutes
	ContentRating *string    `json:"content_rating,omitempty"`
	ReleaseDate   *time.Time `json:"release_date,omitempty"`
	Popularity    *float64   `json:"popularity,omitempty"`
	Budget        *int64     `json:"budget,omitempty"`
	Revenue       *int64     `json:"revenue,omitempty"`
	Language      *string    `json:"language,omitempty"`
	Status        *string    `json:"status,omitempty"`
	TrailerURL    *string    `json:"trailer_url,omitempty"`

	// LockedFields lists user-locked attribute names. "*" locks everything.
	LockedFields []string `json:"locked_fields,omitempty"`

	State     MovieState `json:"state"`
	Monitored bool       `json:"monitored"`

	NfoParsedAt      *time.Time `json:"nfo_parsed_at,omitempty"`
	LastEnrichedAt   *time.Time `json:"last_enriched_at,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	PublishedNfoHash *string    `json:"published_nfo_hash,omitempty"`
	DeleteAfter      *time.Time `json:"delete_after,omitempty"` // soft-delete grace deadline

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFieldLocked reports whether enrichment must leave the field untouched.
func (m *Movie) IsFieldLocked(field string) bool {
	for _, f := range m.LockedFields {
		if f == "*" || strings.EqualFold(f, field) {
			return true
		}
	}
	return false
}

// MovieRating is one per-source rating attached to a movie.
type MovieRating struct {
	MovieID int64   `json:"movie_id"`
	Source  string  `json:"source"` // "imdb", "tmdb", "rottentomatoes", ...
	Value   float64 `json:"value"`
	Votes   int     `json:"votes"`
	Max     int     `json:"max"`
}

// ──────────────────── Related entities ────────────────────

// Person is an actor, director, or writer; shared across movies.
type Person struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	ExternalPersonID *int64  `json:"external_person_id,omitempty"`
	ThumbURL         *string `json:"thumb_url,omitempty"`
	ThumbHash        *string `json:"thumb_hash,omitempty"` // content hash of cached headshot
}

// MovieActor links a person to a movie with casting details.
type MovieActor struct {
	MovieID   int64  `json:"movie_id"`
	PersonID  int64  `json:"person_id"`
	Role      string `json:"role"`
	SortOrder int    `json:"sort_order"`
}

// NamedRef is a simple named relation row (genre, studio, country, tag).
type NamedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ──────────────────── Assets ────────────────────

// AssetType enumerates the artwork and video kinds a movie can carry.
type AssetType string

const (
	AssetPoster       AssetType = "poster"
	AssetFanart       AssetType = "fanart"
	AssetBanner       AssetType = "banner"
	AssetClearlogo    AssetType = "clearlogo"
	AssetClearart     AssetType = "clearart"
	AssetDiscart      AssetType = "discart"
	AssetLandscape    AssetType = "landscape"
	AssetCharacterart AssetType = "characterart"
	AssetKeyart       AssetType = "keyart"
	AssetThumb        AssetType = "thumb"
	AssetTrailer      AssetType = "trailer"
	AssetSubtitle     AssetType = "subtitle"
)

// AssetCandidate is one image/video/subtitle considered for a movie.
type AssetCandidate struct {
	ID             int64     `json:"id"`
	MovieID        int64     `json:"movie_id"`
	AssetType      AssetType `json:"asset_type"`
	ProviderName   string    `json:"provider_name"`
	ProviderURL    string    `json:"provider_url"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Duration       int       `json:"duration"` // seconds, video assets only
	Language       *string   `json:"language,omitempty"`
	Votes          int       `json:"votes"`
	Likes          int       `json:"likes"`
	ContentHash    *string   `json:"content_hash,omitempty"`
	PerceptualHash *int64    `json:"perceptual_hash,omitempty"` // 64-bit image fingerprint
	Score          float64   `json:"score"`
	IsSelected     bool      `json:"is_selected"`
	Rank           int       `json:"rank"` // 1-based among selected, by score desc
	CreatedAt      time.Time `json:"created_at"`
}

// RejectedAsset marks a (movie, file path) pair the scanner must skip.
type RejectedAsset struct {
	MovieID  int64  `json:"movie_id"`
	FilePath string `json:"file_path"`
}

// ──────────────────── Blob cache ────────────────────

// BlobKind partitions the content-addressed cache on disk.
type BlobKind string

const (
	BlobImage BlobKind = "images"
	BlobVideo BlobKind = "videos"
	BlobAudio BlobKind = "audio"
	BlobText  BlobKind = "text"
)

// CacheEntry is the bookkeeping row for one content-addressed blob.
type CacheEntry struct {
	ContentHash    string    `json:"content_hash"`
	CachePath      string    `json:"cache_path"`
	FileSize       int64     `json:"file_size"`
	Kind           BlobKind  `json:"kind"`
	ReferenceCount int       `json:"reference_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// ──────────────────── Provider cache ────────────────────

// ProviderRecord is the merged multi-provider payload cached per movie.
type ProviderRecord struct {
	ID        int64     `json:"id"`
	MovieID   int64     `json:"movie_id"`
	Payload   []byte    `json:"-"` // serialized merged record
	Providers []string  `json:"providers"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ──────────────────── Trailers ────────────────────

// TrailerFailure classifies why probing or downloading a trailer failed.
type TrailerFailure string

const (
	TrailerUnavailable   TrailerFailure = "unavailable"
	TrailerRateLimited   TrailerFailure = "rate_limited"
	TrailerDownloadError TrailerFailure = "download_error"
)

// TrailerCandidate is one provider-supplied trailer video for a movie.
type TrailerCandidate struct {
	ID            int64           `json:"id"`
	MovieID       int64           `json:"movie_id"`
	URL           string          `json:"url"`
	Site          string          `json:"site"` // "youtube", "vimeo", ...
	Title         string          `json:"title"`
	Official      bool            `json:"official"`
	Language      *string         `json:"language,omitempty"`
	Analyzed      bool            `json:"analyzed"`
	Width         int             `json:"width"`
	Height        int             `json:"height"`
	Duration      int             `json:"duration"` // seconds
	Score         float64         `json:"score"`
	IsSelected    bool            `json:"is_selected"`
	FailureReason *TrailerFailure `json:"failure_reason,omitempty"`
	RetryAfter    *time.Time      `json:"retry_after,omitempty"`
	FailureCount  int             `json:"failure_count"`
	SelectedAt    *time.Time      `json:"selected_at,omitempty"`
}

// ──────────────────── Jobs ────────────────────

// JobState is the lifecycle state of a queued job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
	JobDead       JobState = "dead"
)

// Job priorities. Lower runs first; FIFO within a priority.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityElevated = 3
	PriorityNormal   = 5
	PriorityLow      = 7
)

// Job is one persisted unit of queued work.
type Job struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type"`
	Priority    int        `json:"priority"`
	Payload     []byte     `json:"-"`
	State       JobState   `json:"state"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	LeasedUntil *time.Time `json:"leased_until,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobStats summarizes queue health.
type JobStats struct {
	ByState          map[JobState]int `json:"by_state"`
	ByType           map[string]int   `json:"by_type"`
	OldestPendingAge time.Duration    `json:"oldest_pending_age"`
}

// ──────────────────── Priorities ────────────────────

// FieldPriority maps one (category, field-or-asset-type) key to an ordered
// provider list within a preset.
type FieldPriority struct {
	Preset    string   `json:"preset"`
	Category  string   `json:"category"` // "metadata" | "image"
	Field     string   `json:"field"`
	Providers []string `json:"providers"`
}

// ──────────────────── Libraries & scheduling ────────────────────

// Library is a user-configured root directory owning many movies.
type Library struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	AutoEnrich  bool      `json:"auto_enrich"`
	AutoPublish bool      `json:"auto_publish"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduleKind is one of the per-library background cadences.
type ScheduleKind string

const (
	ScheduleFileScan       ScheduleKind = "file-scan"
	ScheduleProviderUpdate ScheduleKind = "provider-update"
)

// Schedule is the persisted cadence state for one library and kind.
type Schedule struct {
	LibraryID     int64        `json:"library_id"`
	Kind          ScheduleKind `json:"kind"`
	Enabled       bool         `json:"enabled"`
	IntervalHours int          `json:"interval_hours"`
	LastRunAt     *time.Time   `json:"last_run_at,omitempty"`
}

// ──────────────────── Notifications & players ────────────────────

// NotificationChannel is one configured outbound notifier.
type NotificationChannel struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"` // "discord", "slack", "generic"
	WebhookURL  string `json:"webhook_url"`
	Enabled     bool   `json:"enabled"`
}

// PlayerInstance is one reachable external-player endpoint.
type PlayerInstance struct {
	ID      int64  `json:"id"`
	GroupID int64  `json:"group_id"`
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	Token   string `json:"-"`
}

// PlayerGroup is a set of player instances sharing one library view.
type PlayerGroup struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	LibraryID  int64  `json:"library_id"`
	PathFrom   string `json:"path_from"` // Metarr-side prefix
	PathTo     string `json:"path_to"`   // player-side prefix
	SkipActive bool   `json:"skip_active"`
}

// MapPath rewrites a Metarr path into the player's view of the library.
func (g *PlayerGroup) MapPath(p string) string {
	if g.PathFrom == "" || !strings.HasPrefix(p, g.PathFrom) {
		return p
	}
	return g.PathTo + strings.TrimPrefix(p, g.PathFrom)
}

// ──────────────────── Activity ────────────────────

// ActivityEntry is one row in the operator-visible activity log.
type ActivityEntry struct {
	ID        int64     `json:"id"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	MovieID   *int64    `json:"movie_id,omitempty"`
	JobID     *int64    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecycleEntry records a soft-deleted movie for the grace window.
type RecycleEntry struct {
	ID        int64     `json:"id"`
	MovieID   int64     `json:"movie_id"`
	FilePath  string    `json:"file_path"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
