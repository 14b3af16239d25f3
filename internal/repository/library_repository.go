package repository

import (
	"database/sql"
	"strings"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

type LibraryRepository struct {
	db *sql.DB
}

func NewLibraryRepository(db *sql.DB) *LibraryRepository {
	return &LibraryRepository{db: db}
}

func (r *LibraryRepository) Create(lib *models.Library) error {
	err := r.db.QueryRow(`INSERT INTO libraries (name, path, auto_enrich, auto_publish)
		VALUES ($1, $2, $3, $4) RETURNING id, created_at`,
		lib.Name, lib.Path, lib.AutoEnrich, lib.AutoPublish).Scan(&lib.ID, &lib.CreatedAt)
	if err != nil {
		return errkind.Classify(err)
	}
	// Default cadences: 4h file scan, weekly provider update.
	_, _ = r.db.Exec(`INSERT INTO schedules (library_id, kind, enabled, interval_hours)
		VALUES ($1, $2, TRUE, 4), ($1, $3, TRUE, 168) ON CONFLICT DO NOTHING`,
		lib.ID, models.ScheduleFileScan, models.ScheduleProviderUpdate)
	return nil
}

func (r *LibraryRepository) GetByID(id int64) (*models.Library, error) {
	lib := &models.Library{}
	err := r.db.QueryRow(`SELECT id, name, path, auto_enrich, auto_publish, created_at
		FROM libraries WHERE id = $1`, id).
		Scan(&lib.ID, &lib.Name, &lib.Path, &lib.AutoEnrich, &lib.AutoPublish, &lib.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errkind.Newf(errkind.KindNotFound, "library %d not found", id)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get library", err)
	}
	return lib, nil
}

func (r *LibraryRepository) List() ([]*models.Library, error) {
	rows, err := r.db.Query(`SELECT id, name, path, auto_enrich, auto_publish, created_at
		FROM libraries ORDER BY id`)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list libraries", err)
	}
	defer rows.Close()
	var out []*models.Library
	for rows.Next() {
		lib := &models.Library{}
		if err := rows.Scan(&lib.ID, &lib.Name, &lib.Path, &lib.AutoEnrich, &lib.AutoPublish, &lib.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, lib)
	}
	return out, rows.Err()
}

// FindByPathPrefix returns the library whose path is the longest prefix of
// the given file path.
func (r *LibraryRepository) FindByPathPrefix(path string) (*models.Library, error) {
	libs, err := r.List()
	if err != nil {
		return nil, err
	}
	var best *models.Library
	for _, lib := range libs {
		if strings.HasPrefix(path, strings.TrimRight(lib.Path, "/")+"/") || path == lib.Path {
			if best == nil || len(lib.Path) > len(best.Path) {
				best = lib
			}
		}
	}
	if best == nil {
		return nil, errkind.Newf(errkind.KindNotFound, "no library owns path %s", path)
	}
	return best, nil
}

func (r *LibraryRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM libraries WHERE id = $1`, id)
	return errorOrNil(err, "delete library")
}

// ──────────────────── Schedules ────────────────────

// ListDue returns schedules whose next run is at or before now.
func (r *LibraryRepository) ListDue() ([]*models.Schedule, error) {
	rows, err := r.db.Query(`SELECT library_id, kind, enabled, interval_hours, last_run_at
		FROM schedules
		WHERE enabled AND (last_run_at IS NULL
			OR last_run_at + (interval_hours || ' hours')::INTERVAL <= NOW())`)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list due schedules", err)
	}
	defer rows.Close()
	var out []*models.Schedule
	for rows.Next() {
		s := &models.Schedule{}
		if err := rows.Scan(&s.LibraryID, &s.Kind, &s.Enabled, &s.IntervalHours, &s.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// MarkRun stamps last_run_at after the triggered job reports completion.
func (r *LibraryRepository) MarkRun(libraryID int64, kind models.ScheduleKind) error {
	_, err := r.db.Exec(`UPDATE schedules SET last_run_at = NOW() WHERE library_id = $1 AND kind = $2`,
		libraryID, kind)
	return errorOrNil(err, "mark schedule run")
}

func (r *LibraryRepository) SetSchedule(s *models.Schedule) error {
	_, err := r.db.Exec(`INSERT INTO schedules (library_id, kind, enabled, interval_hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (library_id, kind) DO UPDATE SET enabled = $3, interval_hours = $4`,
		s.LibraryID, s.Kind, s.Enabled, s.IntervalHours)
	return errorOrNil(err, "set schedule")
}

func (r *LibraryRepository) ListSchedules(libraryID int64) ([]*models.Schedule, error) {
	rows, err := r.db.Query(`SELECT library_id, kind, enabled, interval_hours, last_run_at
		FROM schedules WHERE library_id = $1 ORDER BY kind`, libraryID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list schedules", err)
	}
	defer rows.Close()
	var out []*models.Schedule
	for rows.Next() {
		s := &models.Schedule{}
		if err := rows.Scan(&s.LibraryID, &s.Kind, &s.Enabled, &s.IntervalHours, &s.LastRunAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
