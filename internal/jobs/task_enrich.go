package jobs

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/enrich"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// EnrichHandler runs the metadata pipeline and the bulk provider refresh.
type EnrichHandler struct {
	pipeline *enrich.Pipeline
	movies   *repository.MovieRepository
	libs     *repository.LibraryRepository
	queue    *Queue
	logger   zerolog.Logger
}

func NewEnrichHandler(p *enrich.Pipeline, movies *repository.MovieRepository, libs *repository.LibraryRepository, queue *Queue, logger zerolog.Logger) *EnrichHandler {
	return &EnrichHandler{pipeline: p, movies: movies, libs: libs, queue: queue, logger: logger}
}

// HandleEnrich runs every enrichment phase for one movie and chains into
// publish when the pipeline asks for it.
func (h *EnrichHandler) HandleEnrich(ctx context.Context, job *models.Job) error {
	var p EnrichPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	res, err := h.pipeline.Run(ctx, enrich.FullRequest(p.MovieID, p.Manual, p.ForceRefresh))
	if err != nil {
		return err
	}
	h.queue.notifier.Broadcast("movie:enriched", map[string]interface{}{
		"movie_id": p.MovieID, "skipped": res.Skipped, "source": res.Source,
	})
	if !res.PublishRequested {
		return nil
	}
	_, err = h.queue.Enqueue(TaskPublish, job.Priority, PublishPayload{
		MovieID:   p.MovieID,
		LibraryID: p.LibraryID,
	})
	return err
}

// HandleProviderUpdate re-enriches every monitored movie in the library with
// a forced cache refresh, then stamps the cadence.
func (h *EnrichHandler) HandleProviderUpdate(ctx context.Context, job *models.Job) error {
	var p ProviderUpdatePayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	movies, err := h.movies.ListByLibrary(p.LibraryID)
	if err != nil {
		return err
	}
	queued := 0
	for _, m := range movies {
		if !m.Monitored {
			continue
		}
		if _, err := h.queue.Enqueue(TaskEnrichMetadata, models.PriorityLow, EnrichPayload{
			MovieID:      m.ID,
			LibraryID:    p.LibraryID,
			ForceRefresh: true,
		}); err != nil {
			h.logger.Error().Err(err).Int64("movie_id", m.ID).Msg("refresh enqueue failed")
			continue
		}
		queued++
	}
	h.logger.Info().Int64("library_id", p.LibraryID).Int("queued", queued).Msg("provider update fanned out")
	return h.libs.MarkRun(p.LibraryID, models.ScheduleProviderUpdate)
}
