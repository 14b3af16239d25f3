package repository

import (
	"database/sql"
	"time"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

type TrailerRepository struct {
	db *sql.DB
}

func NewTrailerRepository(db *sql.DB) *TrailerRepository {
	return &TrailerRepository{db: db}
}

const trailerColumns = `id, movie_id, url, site, title, official, language, analyzed, width, height,
	duration, score, is_selected, failure_reason, retry_after, failure_count, selected_at`

func scanTrailer(row interface{ Scan(...interface{}) error }) (*models.TrailerCandidate, error) {
	t := &models.TrailerCandidate{}
	err := row.Scan(&t.ID, &t.MovieID, &t.URL, &t.Site, &t.Title, &t.Official, &t.Language,
		&t.Analyzed, &t.Width, &t.Height, &t.Duration, &t.Score, &t.IsSelected,
		&t.FailureReason, &t.RetryAfter, &t.FailureCount, &t.SelectedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetByURL returns the candidate for (movie, url), or a not-found error.
func (r *TrailerRepository) GetByURL(movieID int64, url string) (*models.TrailerCandidate, error) {
	t, err := scanTrailer(r.db.QueryRow(`SELECT `+trailerColumns+` FROM trailer_candidates
		WHERE movie_id = $1 AND url = $2`, movieID, url))
	if err == sql.ErrNoRows {
		return nil, errkind.New(errkind.KindNotFound, "trailer candidate not found")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get trailer", err)
	}
	return t, nil
}

func (r *TrailerRepository) Upsert(t *models.TrailerCandidate) error {
	err := r.db.QueryRow(`INSERT INTO trailer_candidates (movie_id, url, site, title, official, language)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (movie_id, url) DO UPDATE SET site = $3, title = $4, official = $5, language = $6
		RETURNING id, analyzed`,
		t.MovieID, t.URL, t.Site, t.Title, t.Official, t.Language).Scan(&t.ID, &t.Analyzed)
	if err != nil {
		return errkind.Classify(err)
	}
	return nil
}

// MarkAnalyzed stores probe results and clears any prior failure.
func (r *TrailerRepository) MarkAnalyzed(id int64, width, height, duration int) error {
	_, err := r.db.Exec(`UPDATE trailer_candidates SET analyzed = TRUE, width = $1, height = $2,
		duration = $3, failure_reason = NULL, retry_after = NULL WHERE id = $4`,
		width, height, duration, id)
	return errorOrNil(err, "mark analyzed")
}

// MarkFailed records a probe failure with its classification.
func (r *TrailerRepository) MarkFailed(id int64, reason models.TrailerFailure, retryAfter *time.Time) error {
	_, err := r.db.Exec(`UPDATE trailer_candidates SET failure_reason = $1, retry_after = $2,
		failure_count = failure_count + 1 WHERE id = $3`, reason, retryAfter, id)
	return errorOrNil(err, "mark failed")
}

// ListAnalyzed returns analyzed candidates for selection scoring.
func (r *TrailerRepository) ListAnalyzed(movieID int64) ([]*models.TrailerCandidate, error) {
	rows, err := r.db.Query(`SELECT `+trailerColumns+` FROM trailer_candidates
		WHERE movie_id = $1 AND analyzed ORDER BY id`, movieID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list analyzed trailers", err)
	}
	defer rows.Close()
	var out []*models.TrailerCandidate
	for rows.Next() {
		t, err := scanTrailer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Select atomically clears the previous selection and marks the candidate.
func (r *TrailerRepository) Select(movieID, candidateID int64, score float64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "begin", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE trailer_candidates SET is_selected = FALSE, selected_at = NULL
		WHERE movie_id = $1 AND is_selected`, movieID); err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "clear trailer selection", err)
	}
	if _, err := tx.Exec(`UPDATE trailer_candidates SET is_selected = TRUE, score = $1, selected_at = NOW()
		WHERE id = $2`, score, candidateID); err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "set trailer selection", err)
	}
	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "commit", err)
	}
	return nil
}

func (r *TrailerRepository) GetSelected(movieID int64) (*models.TrailerCandidate, error) {
	t, err := scanTrailer(r.db.QueryRow(`SELECT `+trailerColumns+` FROM trailer_candidates
		WHERE movie_id = $1 AND is_selected`, movieID))
	if err == sql.ErrNoRows {
		return nil, errkind.New(errkind.KindNotFound, "no trailer selected")
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get selected trailer", err)
	}
	return t, nil
}
