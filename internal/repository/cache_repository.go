package repository

import (
	"database/sql"
	"time"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

// CacheRepository is the bookkeeping side of the content-addressed blob
// cache: one row per hash with a reference count.
type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// UpsertRef inserts the entry with reference_count = 1, or increments the
// count when the hash is already known.
func (r *CacheRepository) UpsertRef(e *models.CacheEntry) error {
	_, err := r.db.Exec(`INSERT INTO cache_entries (content_hash, cache_path, file_size, kind, reference_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (content_hash) DO UPDATE SET reference_count = cache_entries.reference_count + 1`,
		e.ContentHash, e.CachePath, e.FileSize, e.Kind)
	return errorOrNil(err, "upsert cache entry")
}

func (r *CacheRepository) RefInc(hash string) error {
	res, err := r.db.Exec(`UPDATE cache_entries SET reference_count = reference_count + 1
		WHERE content_hash = $1`, hash)
	if err != nil {
		return errkind.Wrap(errkind.KindQueryFailed, "ref inc", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errkind.Newf(errkind.KindNotFound, "cache entry %s not found", hash)
	}
	return nil
}

func (r *CacheRepository) RefDec(hash string) error {
	_, err := r.db.Exec(`UPDATE cache_entries SET reference_count = GREATEST(reference_count - 1, 0)
		WHERE content_hash = $1`, hash)
	return errorOrNil(err, "ref dec")
}

func (r *CacheRepository) Get(hash string) (*models.CacheEntry, error) {
	e := &models.CacheEntry{}
	err := r.db.QueryRow(`SELECT content_hash, cache_path, file_size, kind, reference_count, created_at
		FROM cache_entries WHERE content_hash = $1`, hash).
		Scan(&e.ContentHash, &e.CachePath, &e.FileSize, &e.Kind, &e.ReferenceCount, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errkind.Newf(errkind.KindNotFound, "cache entry %s not found", hash)
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "get cache entry", err)
	}
	return e, nil
}

// ListGarbage returns unreferenced entries older than the grace window.
func (r *CacheRepository) ListGarbage(grace time.Duration, limit int) ([]*models.CacheEntry, error) {
	rows, err := r.db.Query(`SELECT content_hash, cache_path, file_size, kind, reference_count, created_at
		FROM cache_entries WHERE reference_count = 0 AND created_at < $1 LIMIT $2`,
		time.Now().Add(-grace), limit)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindQueryFailed, "list garbage", err)
	}
	defer rows.Close()
	var out []*models.CacheEntry
	for rows.Next() {
		e := &models.CacheEntry{}
		if err := rows.Scan(&e.ContentHash, &e.CachePath, &e.FileSize, &e.Kind, &e.ReferenceCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteIfUnreferenced removes the row only when the refcount is still zero,
// re-checked under a row lock. Returns true when the row was deleted and the
// blob may be unlinked.
func (r *CacheRepository) DeleteIfUnreferenced(hash string) (bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, errkind.Wrap(errkind.KindTransactionFailed, "begin", err)
	}
	defer tx.Rollback()

	var refs int
	err = tx.QueryRow(`SELECT reference_count FROM cache_entries WHERE content_hash = $1 FOR UPDATE`, hash).Scan(&refs)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errkind.Wrap(errkind.KindQueryFailed, "lock cache entry", err)
	}
	if refs != 0 {
		return false, nil
	}
	if _, err := tx.Exec(`DELETE FROM cache_entries WHERE content_hash = $1`, hash); err != nil {
		return false, errkind.Wrap(errkind.KindQueryFailed, "delete cache entry", err)
	}
	if err := tx.Commit(); err != nil {
		return false, errkind.Wrap(errkind.KindTransactionFailed, "commit", err)
	}
	return true, nil
}
