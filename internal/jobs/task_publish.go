package jobs

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/publish"
	"github.com/metarr/metarr/internal/repository"
)

// PublishHandler deploys a movie's artifacts and fans out the notify jobs.
type PublishHandler struct {
	publisher *publish.Publisher
	movies    *repository.MovieRepository
	players   *repository.PlayerRepository
	channels  *repository.NotificationRepository
	queue     *Queue
	logger    zerolog.Logger
}

func NewPublishHandler(pub *publish.Publisher, movies *repository.MovieRepository,
	players *repository.PlayerRepository, channels *repository.NotificationRepository,
	queue *Queue, logger zerolog.Logger) *PublishHandler {
	return &PublishHandler{publisher: pub, movies: movies, players: players,
		channels: channels, queue: queue, logger: logger}
}

func (h *PublishHandler) HandlePublish(ctx context.Context, job *models.Job) error {
	var p PublishPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	res, err := h.publisher.Run(ctx, p.MovieID, publish.AllPhases())
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		// Partial deploys are retried whole; already-correct files are
		// idempotent rewrites.
		return errkind.Wrap(errkind.KindWriteFailed, "publish incomplete", errors.Join(res.Errors...))
	}

	movie, err := h.movies.GetByID(p.MovieID)
	if err != nil {
		return err
	}
	h.queue.notifier.Broadcast("movie:published", map[string]interface{}{
		"movie_id": movie.ID, "assets": res.AssetsPublished, "nfo": res.NFOWritten,
	})

	groups, err := h.players.ListGroupsForLibrary(movie.LibraryID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if _, err := h.queue.Enqueue(TaskNotifyPlayer, models.PriorityNormal, NotifyPlayerPayload{
			MovieID:   movie.ID,
			LibraryID: movie.LibraryID,
			GroupID:   g.ID,
		}); err != nil {
			h.logger.Error().Err(err).Int64("group_id", g.ID).Msg("player notify enqueue failed")
		}
	}

	channels, err := h.channels.ListEnabled()
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if _, err := h.queue.Enqueue(TaskNotifyChannel, models.PriorityNormal, NotifyChannelPayload{
			ChannelID: ch.ID,
			MovieID:   movie.ID,
			Event:     "published",
			Message:   "Published " + movie.Title,
		}); err != nil {
			h.logger.Error().Err(err).Int64("channel_id", ch.ID).Msg("channel notify enqueue failed")
		}
	}
	return nil
}
