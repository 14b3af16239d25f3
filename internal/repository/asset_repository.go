package repository

import (
	"database/sql"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

type AssetRepository struct {
	db *sql.DB
}

func NewAssetRepository(db *sql.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

const assetColumns = `id, movie_id, asset_type, provider_name, provider_url, width, height, duration,
	language, votes, likes, content_hash, perceptual_hash, score, is_selected, rank, created_at`

func scanAsset(row interface{ Scan(...interface{}) error }) (*models.AssetCandidate, error) {
	a := &models.AssetCandidate{}
	err := row.Scan(&a.ID, &a.MovieID, &a.AssetType, &a.ProviderName, &a.ProviderURL, &a.Width,
		&a.Height, &a.Duration, &a.Language, &a.Votes, &a.Likes, &a.ContentHash, &a.PerceptualHash,
		&a.Score, &a.IsSelected, &a.Rank, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Upsert inserts a discovered candidate or, when update is true, refreshes
// the stats of an existing one matched by (movie, type, url). Without update,
// a matching existing row is left untouched.
func (r *AssetRepository) Upsert(a *models.AssetCandidate, update bool) error {
	conflict := `DO NOTHING`
	if update {
		conflict = `DO UPDATE SET width = EXCLUDED.width, height = EXCLUDED.height,
			duration = EXCLUDED.duration, language = EXCLUDED.language,
			votes = EXCLUDED.votes, likes = EXCLUDED.likes`
	}
	err := r.db.QueryRow(`INSERT INTO asset_candidates
		(movie_id, asset_type, provider_name, provider_url, width, height, duration, language, votes, likes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (movie_id, asset_type, provider_url) `+conflict+`
		RETURNING id`,
		a.MovieID, a.AssetType, a.ProviderName, a.ProviderURL, a.Width, a.Height, a.Duration,
		a.Language, a.Votes, a.Likes).Scan(&a.ID)
	if err == sql.ErrNoRows {
		// DO NOTHING path: the row existed already.
		return r.db.QueryRow(`SELECT id FROM asset_candidates
			WHERE movie_id = $1 AND asset_type = $2 AND provider_url = $3`,
			a.MovieID, a.AssetType, a.ProviderURL).Scan(&a.ID)
	}
	if err != nil {
		return errkind.Classify(err)
	}
	return nil
}

func (r *AssetRepository) ListByType(movieID int64, assetType models.AssetType) ([]*models.AssetCandidate, error) {
	rows, err := r.db.Query(`SELECT `+assetColumns+` FROM asset_candidates
		WHERE movie_id = $1 AND asset_type = $2 ORDER BY score DESC, id`, movieID, assetType)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list candidates", err)
	}
	defer rows.Close()
	var out []*models.AssetCandidate
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListSelected returns the selected candidates for a movie across all types,
// ordered by type and rank.
func (r *AssetRepository) ListSelected(movieID int64) ([]*models.AssetCandidate, error) {
	rows, err := r.db.Query(`SELECT `+assetColumns+` FROM asset_candidates
		WHERE movie_id = $1 AND is_selected ORDER BY asset_type, rank`, movieID)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list selected", err)
	}
	defer rows.Close()
	var out []*models.AssetCandidate
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Select atomically replaces the selection for one asset type: all previous
// selections are cleared and the given candidate ids become rank 1..n with
// their scores.
func (r *AssetRepository) Select(movieID int64, assetType models.AssetType, ranked []*models.AssetCandidate) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE asset_candidates SET is_selected = FALSE, rank = 0
		WHERE movie_id = $1 AND asset_type = $2 AND is_selected`, movieID, assetType); err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "clear selection", err)
	}
	for i, a := range ranked {
		if _, err := tx.Exec(`UPDATE asset_candidates SET is_selected = TRUE, rank = $1, score = $2
			WHERE id = $3`, i+1, a.Score, a.ID); err != nil {
			return errkind.Wrap(errkind.KindQueryFailed, "set selection", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errkind.Wrap(errkind.KindTransactionFailed, "commit", err)
	}
	return nil
}

func (r *AssetRepository) SetContentHash(id int64, hash string, width, height int) error {
	_, err := r.db.Exec(`UPDATE asset_candidates SET content_hash = $1, width = $2, height = $3 WHERE id = $4`,
		hash, width, height, id)
	return errorOrNil(err, "set content hash")
}

func (r *AssetRepository) SetPerceptualHash(id int64, phash int64) error {
	_, err := r.db.Exec(`UPDATE asset_candidates SET perceptual_hash = $1 WHERE id = $2`, phash, id)
	return errorOrNil(err, "set perceptual hash")
}

func (r *AssetRepository) Delete(id int64) error {
	_, err := r.db.Exec(`DELETE FROM asset_candidates WHERE id = $1`, id)
	return errorOrNil(err, "delete candidate")
}

// ──────────────────── Rejections ────────────────────

func (r *AssetRepository) Reject(movieID int64, filePath string) error {
	_, err := r.db.Exec(`INSERT INTO rejected_assets (movie_id, file_path) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, movieID, filePath)
	return errorOrNil(err, "reject asset")
}

// IsPathRejected checks a path against rejections regardless of owner, for
// the scanner's pre-ingest filter.
func (r *AssetRepository) IsPathRejected(filePath string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM rejected_assets WHERE file_path = $1)`,
		filePath).Scan(&exists)
	if err != nil {
		return false, errkind.Wrap(errkind.KindQueryFailed, "check rejection", err)
	}
	return exists, nil
}

func (r *AssetRepository) IsRejected(movieID int64, filePath string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM rejected_assets WHERE movie_id = $1 AND file_path = $2)`,
		movieID, filePath).Scan(&exists)
	if err != nil {
		return false, errkind.Wrap(errkind.KindQueryFailed, "check rejection", err)
	}
	return exists, nil
}
