package jobs

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/notifications"
	"github.com/metarr/metarr/internal/playersync"
	"github.com/metarr/metarr/internal/repository"
)

// NotifyHandler pushes publish results outward, to player groups and to
// notification channels.
type NotifyHandler struct {
	syncer   *playersync.Syncer
	sender   *notifications.WebhookSender
	movies   *repository.MovieRepository
	players  *repository.PlayerRepository
	channels *repository.NotificationRepository
	logger   zerolog.Logger
}

func NewNotifyHandler(syncer *playersync.Syncer, sender *notifications.WebhookSender,
	movies *repository.MovieRepository, players *repository.PlayerRepository,
	channels *repository.NotificationRepository, logger zerolog.Logger) *NotifyHandler {
	return &NotifyHandler{syncer: syncer, sender: sender, movies: movies,
		players: players, channels: channels, logger: logger}
}

func (h *NotifyHandler) HandlePlayer(ctx context.Context, job *models.Job) error {
	var p NotifyPlayerPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	movie, err := h.movies.GetByID(p.MovieID)
	if err != nil {
		return err
	}
	groups, err := h.players.ListGroupsForLibrary(p.LibraryID)
	if err != nil {
		return err
	}
	var group *models.PlayerGroup
	for _, g := range groups {
		if g.ID == p.GroupID {
			group = g
			break
		}
	}
	if group == nil {
		return errkind.Newf(errkind.KindNotFound, "player group %d not found", p.GroupID)
	}
	// A second publish of the same movie refreshes rather than rescans.
	republished := movie.PublishedAt != nil && movie.PublishedNfoHash != nil
	return h.syncer.NotifyPublished(ctx, group, movie, republished)
}

func (h *NotifyHandler) HandleChannel(ctx context.Context, job *models.Job) error {
	var p NotifyChannelPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	channel, err := h.channels.GetByID(p.ChannelID)
	if err != nil {
		return err
	}
	if !channel.Enabled {
		h.logger.Debug().Int64("channel_id", p.ChannelID).Msg("channel disabled, dropping")
		return nil
	}
	title := "Metarr: " + p.Event
	return h.sender.Send(ctx, channel, title, p.Message)
}
