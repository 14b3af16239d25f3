package repository

import (
	"database/sql"
	"time"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

// ──────────────────── Activity log ────────────────────

type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

func (r *ActivityRepository) Add(category, message string, movieID, jobID *int64) error {
	_, err := r.db.Exec(`INSERT INTO activity_log (category, message, movie_id, job_id)
		VALUES ($1, $2, $3, $4)`, category, message, movieID, jobID)
	return errorOrNil(err, "add activity")
}

func (r *ActivityRepository) ListRecent(limit int) ([]*models.ActivityEntry, error) {
	rows, err := r.db.Query(`SELECT id, category, message, movie_id, job_id, created_at
		FROM activity_log ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list activity", err)
	}
	defer rows.Close()
	var out []*models.ActivityEntry
	for rows.Next() {
		e := &models.ActivityEntry{}
		if err := rows.Scan(&e.ID, &e.Category, &e.Message, &e.MovieID, &e.JobID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ──────────────────── Recycle bin ────────────────────

type RecycleRepository struct {
	db *sql.DB
}

func NewRecycleRepository(db *sql.DB) *RecycleRepository {
	return &RecycleRepository{db: db}
}

func (r *RecycleRepository) Add(movieID int64, filePath, reason string, grace time.Duration) error {
	_, err := r.db.Exec(`INSERT INTO recycle_bin (movie_id, file_path, reason, expires_at)
		VALUES ($1, $2, $3, $4)`, movieID, filePath, reason, time.Now().Add(grace))
	return errorOrNil(err, "add recycle entry")
}

func (r *RecycleRepository) ListExpired() ([]*models.RecycleEntry, error) {
	rows, err := r.db.Query(`SELECT id, movie_id, file_path, reason, expires_at, created_at
		FROM recycle_bin WHERE expires_at <= NOW()`)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list expired recycle entries", err)
	}
	defer rows.Close()
	var out []*models.RecycleEntry
	for rows.Next() {
		e := &models.RecycleEntry{}
		if err := rows.Scan(&e.ID, &e.MovieID, &e.FilePath, &e.Reason, &e.ExpiresAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *RecycleRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM recycle_bin WHERE id = $1`, id)
	return errorOrNil(err, "delete recycle entry")
}

// ──────────────────── Notification channels ────────────────────

type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) ListEnabled() ([]*models.NotificationChannel, error) {
	rows, err := r.db.Query(`SELECT id, name, channel_type, webhook_url, enabled
		FROM notification_channels WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list channels", err)
	}
	defer rows.Close()
	var out []*models.NotificationChannel
	for rows.Next() {
		c := &models.NotificationChannel{}
		if err := rows.Scan(&c.ID, &c.Name, &c.ChannelType, &c.WebhookURL, &c.Enabled); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) GetByID(id int64) (*models.NotificationChannel, error) {
	c := &models.NotificationChannel{}
	err := r.db.QueryRow(`SELECT id, name, channel_type, webhook_url, enabled
		FROM notification_channels WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.ChannelType, &c.WebhookURL, &c.Enabled)
	if err == sql.ErrNoRows {
		return nil, errkind.Newf(errkind.KindNotFound, "channel %d not found", id)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get channel", err)
	}
	return c, nil
}

// ──────────────────── Player groups ────────────────────

type PlayerRepository struct {
	db *sql.DB
}

func NewPlayerRepository(db *sql.DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

func (r *PlayerRepository) ListGroupsForLibrary(libraryID int64) ([]*models.PlayerGroup, error) {
	rows, err := r.db.Query(`SELECT id, name, library_id, path_from, path_to, skip_active
		FROM player_groups WHERE library_id = $1 ORDER BY id`, libraryID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list player groups", err)
	}
	defer rows.Close()
	var out []*models.PlayerGroup
	for rows.Next() {
		g := &models.PlayerGroup{}
		if err := rows.Scan(&g.ID, &g.Name, &g.LibraryID, &g.PathFrom, &g.PathTo, &g.SkipActive); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListInstances returns the group's instances in id order, which is the
// fallback-chain order.
func (r *PlayerRepository) ListInstances(groupID int64) ([]*models.PlayerInstance, error) {
	rows, err := r.db.Query(`SELECT id, group_id, name, base_url, token
		FROM player_instances WHERE group_id = $1 ORDER BY id`, groupID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list player instances", err)
	}
	defer rows.Close()
	var out []*models.PlayerInstance
	for rows.Next() {
		p := &models.PlayerInstance{}
		if err := rows.Scan(&p.ID, &p.GroupID, &p.Name, &p.BaseURL, &p.Token); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ──────────────────── Webhook sources ────────────────────

// WebhookSource holds per-source intake config: HMAC secret and path mapping.
type WebhookSource struct {
	Source   string
	Secret   string
	PathFrom string
	PathTo   string
}

type WebhookSourceRepository struct {
	db *sql.DB
}

func NewWebhookSourceRepository(db *sql.DB) *WebhookSourceRepository {
	return &WebhookSourceRepository{db: db}
}

func (r *WebhookSourceRepository) Get(source string) (*WebhookSource, error) {
	s := &WebhookSource{}
	err := r.db.QueryRow(`SELECT source, secret, path_from, path_to FROM webhook_sources WHERE source = $1`,
		source).Scan(&s.Source, &s.Secret, &s.PathFrom, &s.PathTo)
	if err == sql.ErrNoRows {
		return &WebhookSource{Source: source}, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get webhook source", err)
	}
	return s, nil
}
