package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// Enqueuer decouples the scheduler from the job queue.
type Enqueuer interface {
	Enqueue(jobType string, priority int, payload interface{}) (int64, error)
}

// scheduleJobTypes maps cadence kinds to queue job types.
var scheduleJobTypes = map[models.ScheduleKind]string{
	models.ScheduleFileScan:       "file-scan",
	models.ScheduleProviderUpdate: "provider-update",
}

// Scheduler fires per-library cadences. Cadence state lives in the schedules
// table; the cron tick only asks which rows are due. last_run_at is stamped
// by the job handler on completion, so an overdue library keeps showing up
// as due until its work actually finishes, and the active-job check is what
// prevents double triggers in the meantime.
type Scheduler struct {
	libraries *repository.LibraryRepository
	jobs      *repository.JobRepository
	queue     Enqueuer
	cron      *cron.Cron
	logger    zerolog.Logger
}

func New(libraries *repository.LibraryRepository, jobs *repository.JobRepository, queue Enqueuer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		libraries: libraries,
		jobs:      jobs,
		queue:     queue,
		cron:      cron.New(),
		logger:    logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins ticking every minute, plus a nightly maintenance sweep.
// Stop with Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("* * * * *", func() { s.Tick(ctx) }); err != nil {
		return err
	}
	_, err := s.cron.AddFunc("0 4 * * *", func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.queue.Enqueue("cache-gc", models.PriorityLow, map[string]interface{}{}); err != nil {
			s.logger.Error().Err(err).Msg("maintenance enqueue failed")
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Tick enqueues one job per due cadence, skipping libraries that already
// have the same job pending or processing.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.libraries.ListDue()
	if err != nil {
		s.logger.Error().Err(err).Msg("list due schedules failed")
		return
	}
	for _, sched := range due {
		if ctx.Err() != nil {
			return
		}
		jobType, ok := scheduleJobTypes[sched.Kind]
		if !ok {
			s.logger.Warn().Str("kind", string(sched.Kind)).Msg("unknown schedule kind")
			continue
		}
		active, err := s.jobs.HasActiveForLibrary(jobType, sched.LibraryID)
		if err != nil {
			s.logger.Error().Err(err).Int64("library_id", sched.LibraryID).Msg("active check failed")
			continue
		}
		if active {
			continue
		}
		id, err := s.queue.Enqueue(jobType, models.PriorityNormal, map[string]interface{}{
			"library_id": sched.LibraryID,
		})
		if err != nil {
			s.logger.Error().Err(err).Int64("library_id", sched.LibraryID).Msg("enqueue failed")
			continue
		}
		s.logger.Info().Int64("library_id", sched.LibraryID).Str("type", jobType).
			Int64("job_id", id).Msg("scheduled cadence job")
	}
}
