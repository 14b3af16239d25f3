package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// Supported downloader sources.
const (
	SourceRadarr = "radarr"
	SourceSonarr = "sonarr"
	SourceLidarr = "lidarr"
)

const deleteGrace = 7 * 24 * time.Hour

// Enqueuer decouples the dispatcher from the job queue.
type Enqueuer interface {
	Enqueue(jobType string, priority int, payload interface{}) (int64, error)
}

// Event is the normalized downloader notification after intake parsing.
type Event struct {
	Source    string
	EventType string
	FilePath  string
}

// Dispatcher turns downloader webhook events into queue work.
type Dispatcher struct {
	sources   *repository.WebhookSourceRepository
	libraries *repository.LibraryRepository
	movies    *repository.MovieRepository
	recycle   *repository.RecycleRepository
	channels  *repository.NotificationRepository
	activity  *repository.ActivityRepository
	logger    zerolog.Logger
}

func NewDispatcher(
	sources *repository.WebhookSourceRepository,
	libraries *repository.LibraryRepository,
	movies *repository.MovieRepository,
	recycle *repository.RecycleRepository,
	channels *repository.NotificationRepository,
	activity *repository.ActivityRepository,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sources:   sources,
		libraries: libraries,
		movies:    movies,
		recycle:   recycle,
		channels:  channels,
		activity:  activity,
		logger:    logger.With().Str("component", "webhooks").Logger(),
	}
}

// KnownSource reports whether the intake path segment is a supported source.
func KnownSource(source string) bool {
	switch source {
	case SourceRadarr, SourceSonarr, SourceLidarr:
		return true
	}
	return false
}

// VerifySignature checks the HMAC-SHA256 signature over body against the
// source's configured secret. An empty secret disables verification.
func (d *Dispatcher) VerifySignature(source string, body []byte, signature string) error {
	cfg, err := d.sources.Get(source)
	if err != nil {
		return err
	}
	if cfg.Secret == "" {
		return nil
	}
	mac := hmac.New(sha256.New, []byte(cfg.Secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	given := strings.TrimPrefix(strings.ToLower(signature), "sha256=")
	if !hmac.Equal([]byte(want), []byte(given)) {
		return errkind.Newf(errkind.KindAuthenticationFailed, "webhook signature mismatch for %s", source)
	}
	return nil
}

// inboundBody covers the shapes radarr, sonarr and lidarr all post: an
// eventType plus a media object carrying folder and file path fragments.
type inboundBody struct {
	EventType string `json:"eventType"`
	Movie     struct {
		FolderPath string `json:"folderPath"`
	} `json:"movie"`
	MovieFile struct {
		Path         string `json:"path"`
		RelativePath string `json:"relativePath"`
	} `json:"movieFile"`
	Series struct {
		Path string `json:"path"`
	} `json:"series"`
	EpisodeFile struct {
		Path         string `json:"path"`
		RelativePath string `json:"relativePath"`
	} `json:"episodeFile"`
	TrackFile struct {
		Path string `json:"path"`
	} `json:"trackFile"`
}

// ParseBody extracts the normalized event from a raw webhook body.
func ParseBody(source string, body []byte) (*Event, error) {
	var in inboundBody
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, errkind.Wrap(errkind.KindInputInvalid, "decode webhook body", err)
	}
	if in.EventType == "" {
		return nil, errkind.New(errkind.KindRequiredField, "webhook body missing eventType")
	}
	return &Event{
		Source:    source,
		EventType: strings.ToLower(in.EventType),
		FilePath:  pickPath(&in),
	}, nil
}

func pickPath(in *inboundBody) string {
	if in.MovieFile.Path != "" {
		return in.MovieFile.Path
	}
	if in.Movie.FolderPath != "" && in.MovieFile.RelativePath != "" {
		return in.Movie.FolderPath + "/" + in.MovieFile.RelativePath
	}
	if in.EpisodeFile.Path != "" {
		return in.EpisodeFile.Path
	}
	if in.Series.Path != "" && in.EpisodeFile.RelativePath != "" {
		return in.Series.Path + "/" + in.EpisodeFile.RelativePath
	}
	if in.TrackFile.Path != "" {
		return in.TrackFile.Path
	}
	return in.Movie.FolderPath
}

// Dispatch routes one event. Grab and test events are informational; import
// and rename events fan out into scan plus notification jobs; deletions go
// to the recycle bin with a grace window.
func (d *Dispatcher) Dispatch(ev *Event, q Enqueuer) error {
	log := d.logger.With().Str("source", ev.Source).Str("event", ev.EventType).Logger()

	switch ev.EventType {
	case "grab", "test", "applicationupdate", "health":
		log.Info().Msg("informational event, no work enqueued")
		return nil

	case "download", "moviefiledelete", "movieadded", "rename", "upgrade":
		if ev.EventType == "moviefiledelete" {
			return d.handleDelete(ev)
		}
		return d.handleImport(ev, q, log)

	default:
		log.Warn().Msg("unrecognized event type, ignoring")
		return nil
	}
}

func (d *Dispatcher) handleImport(ev *Event, q Enqueuer, log zerolog.Logger) error {
	if ev.FilePath == "" {
		return errkind.New(errkind.KindRequiredField, "import event carries no file path")
	}
	local, err := d.mapPath(ev.Source, ev.FilePath)
	if err != nil {
		return err
	}
	lib, err := d.libraries.FindByPathPrefix(local)
	if err != nil {
		return err
	}

	if _, err := q.Enqueue("scan-movie", models.PriorityHigh, map[string]interface{}{
		"library_id": lib.ID,
		"file_path":  local,
	}); err != nil {
		return err
	}

	channels, err := d.channels.ListEnabled()
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if _, err := q.Enqueue("notify-channel", models.PriorityNormal, map[string]interface{}{
			"channel_id": ch.ID,
			"event":      ev.EventType,
			"message":    "Imported " + local + " via " + ev.Source,
		}); err != nil {
			log.Error().Err(err).Int64("channel_id", ch.ID).Msg("notify enqueue failed")
		}
	}
	return d.activity.Add("webhook", "import from "+ev.Source+": "+local, nil, nil)
}

// handleDelete soft-deletes: the movie is flagged and parked in the recycle
// bin; nothing touches the filesystem until the grace window expires.
func (d *Dispatcher) handleDelete(ev *Event) error {
	if ev.FilePath == "" {
		return errkind.New(errkind.KindRequiredField, "delete event carries no file path")
	}
	local, err := d.mapPath(ev.Source, ev.FilePath)
	if err != nil {
		return err
	}
	movie, err := d.movies.GetByPath(local)
	if errkind.IsKind(err, errkind.KindNotFound) {
		d.logger.Info().Str("path", local).Msg("delete for unknown path, ignoring")
		return nil
	}
	if err != nil {
		return err
	}
	if err := d.movies.MarkForDeletion(movie.ID, time.Now().Add(deleteGrace)); err != nil {
		return err
	}
	if err := d.recycle.Add(movie.ID, movie.FilePath, "deleted by "+ev.Source, deleteGrace); err != nil {
		return err
	}
	return d.activity.Add("webhook", "soft-deleted "+local, &movie.ID, nil)
}

// mapPath rewrites the downloader's view of the path into ours.
func (d *Dispatcher) mapPath(source, path string) (string, error) {
	cfg, err := d.sources.Get(source)
	if err != nil {
		return "", err
	}
	if cfg.PathFrom != "" && strings.HasPrefix(path, cfg.PathFrom) {
		return cfg.PathTo + strings.TrimPrefix(path, cfg.PathFrom), nil
	}
	return path, nil
}
