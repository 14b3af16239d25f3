package repository

import (
	"database/sql"
	"time"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

// JobRepository owns the persistent queue rows and the entity-lock table.
// All state transitions happen as single-row updates under row locks so
// concurrent workers never double-acquire.
type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, type, priority, payload, state, retry_count, max_retries, scheduled_at,
	leased_until, last_error, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	j := &models.Job{}
	err := row.Scan(&j.ID, &j.Type, &j.Priority, &j.Payload, &j.State, &j.RetryCount, &j.MaxRetries,
		&j.ScheduledAt, &j.LeasedUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Insert adds a pending job scheduled for immediate dispatch.
func (r *JobRepository) Insert(jobType string, priority int, payload []byte, maxRetries int) (int64, error) {
	var id int64
	err := r.db.QueryRow(`INSERT INTO jobs (type, priority, payload, state, max_retries, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, NOW()) RETURNING id`,
		jobType, priority, payload, models.JobPending, maxRetries).Scan(&id)
	if err != nil {
		return 0, errkind.Wrap(errkind.KindQueryFailed, "insert job", err)
	}
	return id, nil
}

func (r *JobRepository) GetByID(id int64) (*models.Job, error) {
	j, err := scanJob(r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, errkind.Newf(errkind.KindNotFound, "job %d not found", id)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get job", err)
	}
	return j, nil
}

// AcquireNext leases the next due pending job in (priority ASC, id ASC)
// order. The SELECT ... FOR UPDATE SKIP LOCKED plus the state flip happen in
// one transaction, so at most one worker wins each row. Returns nil when no
// job is due.
func (r *JobRepository) AcquireNext(lease time.Duration) (*models.Job, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, errkind.Wrap(errkind.KindTransactionFailed, "begin", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRow(`SELECT ` + jobColumns + ` FROM jobs
		WHERE state = 'pending' AND scheduled_at <= NOW()
		ORDER BY priority ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "select next job", err)
	}

	leasedUntil := time.Now().Add(lease)
	if _, err := tx.Exec(`UPDATE jobs SET state = 'processing', leased_until = $1, updated_at = NOW()
		WHERE id = $2`, leasedUntil, j.ID); err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "lease job", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, errkind.Wrap(errkind.KindTransactionFailed, "commit lease", err)
	}
	j.State = models.JobProcessing
	j.LeasedUntil = &leasedUntil
	return j, nil
}

// RenewLease extends the lease of a processing job.
func (r *JobRepository) RenewLease(id int64, lease time.Duration) error {
	_, err := r.db.Exec(`UPDATE jobs SET leased_until = $1, updated_at = NOW()
		WHERE id = $2 AND state = 'processing'`, time.Now().Add(lease), id)
	return errorOrNil(err, "renew lease")
}

func (r *JobRepository) Complete(id int64) error {
	_, err := r.db.Exec(`UPDATE jobs SET state = 'completed', leased_until = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	return errorOrNil(err, "complete job")
}

// RetryAt returns a failed attempt to pending with the next attempt time.
func (r *JobRepository) RetryAt(id int64, at time.Time, lastError string) error {
	_, err := r.db.Exec(`UPDATE jobs SET state = 'pending', scheduled_at = $1, retry_count = retry_count + 1,
		leased_until = NULL, last_error = $2, updated_at = NOW() WHERE id = $3`, at, lastError, id)
	return errorOrNil(err, "reschedule job")
}

// Reschedule bumps scheduled_at without consuming a retry (entity-lock
// contention backoff).
func (r *JobRepository) Reschedule(id int64, at time.Time) error {
	_, err := r.db.Exec(`UPDATE jobs SET state = 'pending', scheduled_at = $1, leased_until = NULL,
		updated_at = NOW() WHERE id = $2`, at, id)
	return errorOrNil(err, "bump job")
}

func (r *JobRepository) MarkFailed(id int64, lastError string) error {
	_, err := r.db.Exec(`UPDATE jobs SET state = 'failed', leased_until = NULL, last_error = $1,
		updated_at = NOW() WHERE id = $2`, lastError, id)
	return errorOrNil(err, "fail job")
}

// MarkDead is terminal: used for undecodable payloads and repeated
// non-retryable failures.
func (r *JobRepository) MarkDead(id int64, lastError string) error {
	_, err := r.db.Exec(`UPDATE jobs SET state = 'dead', leased_until = NULL, last_error = $1,
		updated_at = NOW() WHERE id = $2`, lastError, id)
	return errorOrNil(err, "bury job")
}

// ReclaimExpired returns jobs whose lease lapsed (worker died) to pending.
func (r *JobRepository) ReclaimExpired() (int64, error) {
	res, err := r.db.Exec(`UPDATE jobs SET state = 'pending', leased_until = NULL, updated_at = NOW()
		WHERE state = 'processing' AND leased_until < NOW()`)
	if err != nil {
		return 0, errkind.Wrap(errkind.KindQueryFailed, "reclaim expired leases", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ──────────────────── Entity locks ────────────────────

// AcquireEntityLock takes the per-entity serialization lock for a job.
// Returns false when another job holds it.
func (r *JobRepository) AcquireEntityLock(entityType string, entityID, jobID int64) (bool, error) {
	res, err := r.db.Exec(`INSERT INTO entity_locks (entity_type, entity_id, job_id)
		VALUES ($1, $2, $3) ON CONFLICT (entity_type, entity_id) DO NOTHING`,
		entityType, entityID, jobID)
	if err != nil {
		return false, errkind.Wrap(errkind.KindQueryFailed, "acquire entity lock", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *JobRepository) ReleaseEntityLock(entityType string, entityID, jobID int64) error {
	_, err := r.db.Exec(`DELETE FROM entity_locks WHERE entity_type = $1 AND entity_id = $2 AND job_id = $3`,
		entityType, entityID, jobID)
	return errorOrNil(err, "release entity lock")
}

// ReleaseAbandonedLocks drops locks whose owning job is no longer
// processing; pairs with ReclaimExpired on startup.
func (r *JobRepository) ReleaseAbandonedLocks() (int64, error) {
	res, err := r.db.Exec(`DELETE FROM entity_locks el
		WHERE NOT EXISTS (SELECT 1 FROM jobs j WHERE j.id = el.job_id AND j.state = 'processing')`)
	if err != nil {
		return 0, errkind.Wrap(errkind.KindQueryFailed, "release abandoned locks", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ──────────────────── Queries ────────────────────

// HasActiveForLibrary reports whether a pending/processing job of the type
// exists for the library (payload match). Used by the scheduler to avoid
// duplicate triggers.
func (r *JobRepository) HasActiveForLibrary(jobType string, libraryID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM jobs
		WHERE type = $1 AND state IN ('pending', 'processing')
		AND (payload->>'library_id')::BIGINT = $2)`, jobType, libraryID).Scan(&exists)
	if err != nil {
		return false, errkind.Wrap(errkind.KindQueryFailed, "check active job", err)
	}
	return exists, nil
}

// ListForMovie returns the newest jobs whose payload references the movie.
func (r *JobRepository) ListForMovie(movieID int64, limit int) ([]*models.Job, error) {
	rows, err := r.db.Query(`SELECT `+jobColumns+` FROM jobs
		WHERE (payload->>'movie_id')::BIGINT = $1 ORDER BY id DESC LIMIT $2`, movieID, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list movie jobs", err)
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepository) ListRecent(limit int) ([]*models.Job, error) {
	rows, err := r.db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list jobs", err)
	}
	defer rows.Close()
	var out []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepository) Stats() (*models.JobStats, error) {
	stats := &models.JobStats{
		ByState: make(map[models.JobState]int),
		ByType:  make(map[string]int),
	}

	rows, err := r.db.Query(`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "job stats by state", err)
	}
	for rows.Next() {
		var state models.JobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByState[state] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.db.Query(`SELECT type, COUNT(*) FROM jobs GROUP BY type`)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "job stats by type", err)
	}
	for rows.Next() {
		var jobType string
		var count int
		if err := rows.Scan(&jobType, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByType[jobType] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullTime
	if err := r.db.QueryRow(`SELECT MIN(scheduled_at) FROM jobs WHERE state = 'pending'`).Scan(&oldest); err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "oldest pending", err)
	}
	if oldest.Valid {
		stats.OldestPendingAge = time.Since(oldest.Time)
	}
	return stats, nil
}
