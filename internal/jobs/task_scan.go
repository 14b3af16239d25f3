package jobs

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
	"github.com/metarr/metarr/internal/scanner"
)

// ScanHandler covers single-file ingestion and whole-library walks. New
// discoveries chain into enrichment when the library opts in.
type ScanHandler struct {
	scanner   *scanner.Scanner
	libraries *repository.LibraryRepository
	queue     *Queue
	logger    zerolog.Logger
}

func NewScanHandler(sc *scanner.Scanner, libraries *repository.LibraryRepository, queue *Queue, logger zerolog.Logger) *ScanHandler {
	return &ScanHandler{scanner: sc, libraries: libraries, queue: queue, logger: logger}
}

// HandleScanMovie ingests one media path, typically webhook-driven.
func (h *ScanHandler) HandleScanMovie(ctx context.Context, job *models.Job) error {
	var p ScanMoviePayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	lib, err := h.libraries.GetByID(p.LibraryID)
	if err != nil {
		return err
	}
	movie, created, err := h.scanner.ScanFile(lib, p.FilePath)
	if err != nil {
		return err
	}
	h.queue.notifier.Broadcast("movie:scanned", map[string]interface{}{
		"movie_id": movie.ID, "created": created,
	})

	// Re-imports of known movies go through enrichment too: an upgraded
	// file usually means new technical metadata.
	if lib.AutoEnrich {
		_, err = h.queue.Enqueue(TaskEnrichMetadata, job.Priority, EnrichPayload{
			MovieID:   movie.ID,
			LibraryID: lib.ID,
		})
		return err
	}
	return nil
}

// HandleFileScan walks a whole library and stamps the cadence on success.
func (h *ScanHandler) HandleFileScan(ctx context.Context, job *models.Job) error {
	var p FileScanPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	lib, err := h.libraries.GetByID(p.LibraryID)
	if err != nil {
		return err
	}
	res, err := h.scanner.ScanLibrary(ctx, lib)
	if err != nil {
		return err
	}
	if lib.AutoEnrich {
		for _, movieID := range res.NewMovieIDs {
			if _, err := h.queue.Enqueue(TaskEnrichMetadata, models.PriorityNormal, EnrichPayload{
				MovieID:   movieID,
				LibraryID: lib.ID,
			}); err != nil {
				h.logger.Error().Err(err).Int64("movie_id", movieID).Msg("enrich enqueue failed")
			}
		}
	}
	h.queue.notifier.Broadcast("library:scanned", map[string]interface{}{
		"library_id": lib.ID, "created": res.Created, "seen": res.FilesSeen,
	})
	return h.libraries.MarkRun(lib.ID, models.ScheduleFileScan)
}
