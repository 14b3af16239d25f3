package repository

import (
	"database/sql"

	"github.com/goccy/go-json"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

// ProviderCacheRepository stores the merged multi-provider record per movie.
type ProviderCacheRepository struct {
	db *sql.DB
}

func NewProviderCacheRepository(db *sql.DB) *ProviderCacheRepository {
	return &ProviderCacheRepository{db: db}
}

func (r *ProviderCacheRepository) Get(movieID int64) (*models.ProviderRecord, error) {
	rec := &models.ProviderRecord{}
	var providers []byte
	err := r.db.QueryRow(`SELECT id, movie_id, payload, providers, fetched_at
		FROM provider_cache WHERE movie_id = $1`, movieID).
		Scan(&rec.ID, &rec.MovieID, &rec.Payload, &providers, &rec.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, errkind.Newf(errkind.KindNotFound, "no cached record for movie %d", movieID)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get provider cache", err)
	}
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &rec.Providers); err != nil {
			return nil, errkind.Wrap(errkind.KindSchemaMismatch, "decode providers", err)
		}
	}
	return rec, nil
}

// Put stores the merged record, re-stamping fetched_at.
func (r *ProviderCacheRepository) Put(movieID int64, payload []byte, providers []string) error {
	provJSON, _ := json.Marshal(providers)
	_, err := r.db.Exec(`INSERT INTO provider_cache (movie_id, payload, providers, fetched_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (movie_id) DO UPDATE SET payload = $2, providers = $3, fetched_at = NOW()`,
		movieID, payload, provJSON)
	return errorOrNil(err, "put provider cache")
}

func (r *ProviderCacheRepository) Delete(movieID int64) error {
	_, err := r.db.Exec(`DELETE FROM provider_cache WHERE movie_id = $1`, movieID)
	return errorOrNil(err, "delete provider cache")
}
