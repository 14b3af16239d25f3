package jobs

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// HandlerFunc processes one job. A returned error is classified to decide
// between retry and terminal failure.
type HandlerFunc func(ctx context.Context, job *models.Job) error

// EventNotifier pushes queue events to connected clients.
type EventNotifier interface {
	Broadcast(event string, data interface{})
}

// noopNotifier lets the queue run without a websocket hub attached.
type noopNotifier struct{}

func (noopNotifier) Broadcast(string, interface{}) {}

const (
	idlePollInterval = 2 * time.Second
	lockBackoff      = 15 * time.Second
	deadThreshold    = 5 // consecutive failures before a failed job goes dead
)

// Queue is the Postgres-backed dispatcher: jobs are rows, workers compete
// for leases, and every transition is durable.
type Queue struct {
	repo     *repository.JobRepository
	handlers map[string]HandlerFunc
	workers  int
	lease    time.Duration
	retry    errkind.RetryPolicy
	metrics  *metrics.Metrics
	notifier EventNotifier
	logger   zerolog.Logger
}

func NewQueue(repo *repository.JobRepository, workers int, lease time.Duration, m *metrics.Metrics, logger zerolog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Queue{
		repo:     repo,
		handlers: make(map[string]HandlerFunc),
		workers:  workers,
		lease:    lease,
		retry:    errkind.DefaultPolicy,
		metrics:  m,
		notifier: noopNotifier{},
		logger:   logger.With().Str("component", "jobs").Logger(),
	}
}

// SetNotifier attaches the event hub. Call before Run.
func (q *Queue) SetNotifier(n EventNotifier) {
	if n != nil {
		q.notifier = n
	}
}

// RegisterHandler binds a handler to a job type.
func (q *Queue) RegisterHandler(jobType string, fn HandlerFunc) {
	q.handlers[jobType] = fn
}

// Enqueue inserts a pending job and returns its id.
func (q *Queue) Enqueue(jobType string, priority int, payload interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, errkind.Wrap(errkind.KindInputInvalid, "encode job payload", err)
	}
	id, err := q.repo.Insert(jobType, priority, raw, MaxRetriesFor(jobType))
	if err != nil {
		return 0, err
	}
	q.metrics.JobsEnqueued.WithLabelValues(jobType).Inc()
	q.notifier.Broadcast("job:enqueued", map[string]interface{}{"id": id, "type": jobType})
	return id, nil
}

// Run starts the worker pool and blocks until ctx is cancelled. Expired
// leases and abandoned entity locks from a previous process are reclaimed
// first.
func (q *Queue) Run(ctx context.Context) error {
	if n, err := q.repo.ReclaimExpired(); err != nil {
		return err
	} else if n > 0 {
		q.logger.Warn().Int64("reclaimed", n).Msg("reclaimed expired leases")
	}
	if n, err := q.repo.ReleaseAbandonedLocks(); err != nil {
		return err
	} else if n > 0 {
		q.logger.Warn().Int64("released", n).Msg("released abandoned entity locks")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		worker := i
		g.Go(func() error {
			return q.workerLoop(ctx, worker)
		})
	}
	g.Go(func() error {
		return q.reclaimLoop(ctx)
	})
	return g.Wait()
}

func (q *Queue) workerLoop(ctx context.Context, worker int) error {
	log := q.logger.With().Int("worker", worker).Logger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := q.repo.AcquireNext(q.lease)
		if err != nil {
			log.Error().Err(err).Msg("acquire failed")
			sleepCtx(ctx, idlePollInterval)
			continue
		}
		if job == nil {
			sleepCtx(ctx, idlePollInterval)
			continue
		}
		q.process(ctx, log, job)
	}
}

// reclaimLoop periodically returns crashed workers' jobs to pending.
func (q *Queue) reclaimLoop(ctx context.Context) error {
	ticker := time.NewTicker(q.lease / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := q.repo.ReclaimExpired(); err != nil {
				q.logger.Error().Err(err).Msg("reclaim failed")
			} else if n > 0 {
				q.logger.Warn().Int64("reclaimed", n).Msg("reclaimed expired leases")
			}
		}
	}
}

func (q *Queue) process(ctx context.Context, log zerolog.Logger, job *models.Job) {
	handler, ok := q.handlers[job.Type]
	if !ok {
		q.fail(job, errkind.Newf(errkind.KindNotImplemented, "no handler for job type %s", job.Type), true)
		return
	}

	// Entity-scoped types serialize per movie: losing the lock race costs a
	// short reschedule, never a retry.
	if movieID, scoped := EntityRef(job.Type, job.Payload); scoped {
		got, err := q.repo.AcquireEntityLock("movie", movieID, job.ID)
		if err != nil {
			q.fail(job, err, false)
			return
		}
		if !got {
			if err := q.repo.Reschedule(job.ID, time.Now().Add(lockBackoff)); err != nil {
				log.Error().Err(err).Int64("job_id", job.ID).Msg("reschedule failed")
			}
			return
		}
		defer func() {
			if err := q.repo.ReleaseEntityLock("movie", movieID, job.ID); err != nil {
				log.Error().Err(err).Int64("job_id", job.ID).Msg("entity unlock failed")
			}
		}()
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	renewDone := make(chan struct{})
	go q.renewLease(jobCtx, job.ID, renewDone)

	start := time.Now()
	err := handler(jobCtx, job)
	cancel()
	<-renewDone
	q.metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	if err == nil {
		if cerr := q.repo.Complete(job.ID); cerr != nil {
			log.Error().Err(cerr).Int64("job_id", job.ID).Msg("complete failed")
			return
		}
		q.metrics.JobsCompleted.WithLabelValues(job.Type).Inc()
		q.notifier.Broadcast("job:completed", map[string]interface{}{"id": job.ID, "type": job.Type})
		log.Debug().Int64("job_id", job.ID).Str("type", job.Type).Dur("took", time.Since(start)).Msg("job done")
		return
	}

	if errkind.IsRetryable(err) && job.RetryCount < job.MaxRetries {
		delay := q.retry.Delay(job.RetryCount + 1)
		if hint, ok := errkind.RetryAfterOf(err); ok {
			delay = hint
		}
		at := time.Now().Add(delay)
		if rerr := q.repo.RetryAt(job.ID, at, err.Error()); rerr != nil {
			log.Error().Err(rerr).Int64("job_id", job.ID).Msg("retry scheduling failed")
			return
		}
		q.notifier.Broadcast("job:retrying", map[string]interface{}{"id": job.ID, "type": job.Type, "at": at})
		log.Warn().Err(err).Int64("job_id", job.ID).Time("retry_at", at).Msg("job will retry")
		return
	}
	q.fail(job, err, job.RetryCount >= deadThreshold)
}

func (q *Queue) fail(job *models.Job, err error, dead bool) {
	q.metrics.JobsFailed.WithLabelValues(job.Type).Inc()
	if dead {
		if derr := q.repo.MarkDead(job.ID, err.Error()); derr != nil {
			q.logger.Error().Err(derr).Int64("job_id", job.ID).Msg("mark dead failed")
		}
	} else {
		if ferr := q.repo.MarkFailed(job.ID, err.Error()); ferr != nil {
			q.logger.Error().Err(ferr).Int64("job_id", job.ID).Msg("mark failed failed")
		}
	}
	q.notifier.Broadcast("job:failed", map[string]interface{}{"id": job.ID, "type": job.Type, "error": err.Error()})
	q.logger.Error().Err(err).Int64("job_id", job.ID).Str("type", job.Type).Bool("dead", dead).Msg("job failed")
}

// renewLease extends the lease at half-life intervals until the job context
// ends.
func (q *Queue) renewLease(ctx context.Context, jobID int64, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(q.lease / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.repo.RenewLease(jobID, q.lease); err != nil {
				q.logger.Warn().Err(err).Int64("job_id", jobID).Msg("lease renewal failed")
			}
		}
	}
}

// Stats exposes queue health for the API.
func (q *Queue) Stats() (*models.JobStats, error) {
	return q.repo.Stats()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
