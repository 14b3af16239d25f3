package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/blobcache"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

const (
	gcGrace        = 24 * time.Hour
	gcDefaultLimit = 500
)

// MaintenanceHandler sweeps unreferenced cache blobs in bounded batches,
// clears relation rows no movie references anymore and drops recycle-bin
// entries past their grace window.
type MaintenanceHandler struct {
	cache     *blobcache.Cache
	relations *repository.RelationRepository
	recycle   *repository.RecycleRepository
	logger    zerolog.Logger
}

func NewMaintenanceHandler(cache *blobcache.Cache, relations *repository.RelationRepository,
	recycle *repository.RecycleRepository, logger zerolog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{cache: cache, relations: relations, recycle: recycle, logger: logger}
}

func (h *MaintenanceHandler) HandleCacheGC(ctx context.Context, job *models.Job) error {
	var p CacheGCPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = gcDefaultLimit
	}
	removed, err := h.cache.GC(gcGrace, limit)
	if err != nil {
		return err
	}
	orphans, err := h.relations.SweepOrphans()
	if err != nil {
		return err
	}
	expired, err := h.recycle.ListExpired()
	if err != nil {
		return err
	}
	for _, entry := range expired {
		if err := h.recycle.Delete(entry.ID); err != nil {
			return err
		}
	}
	h.logger.Info().Int("removed", removed).Int64("orphans", orphans).
		Int("recycled", len(expired)).Msg("maintenance swept")
	return nil
}
