package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

type fakeBlobs struct {
	files map[string]string // content hash -> cached file path
}

func (f *fakeBlobs) Put(data []byte, kind models.BlobKind, ext string) (string, error) {
	return "", errkind.New(errkind.KindWriteFailed, "read-only cache")
}

func (f *fakeBlobs) Path(hash string) (string, error) {
	p, ok := f.files[hash]
	if !ok {
		return "", errkind.Newf(errkind.KindNotFound, "blob %s not cached", hash)
	}
	return p, nil
}

func newPublisher(t *testing.T, blobs BlobStore) (*Publisher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	p := NewPublisher(repository.NewMovieRepository(db), repository.NewRelationRepository(db),
		repository.NewAssetRepository(db), repository.NewLibraryRepository(db),
		blobs, metrics.New(), zerolog.Nop())
	return p, mock
}

func selectedPosterRow(hash string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "movie_id", "asset_type", "provider_name", "provider_url",
		"width", "height", "duration", "language", "votes", "likes", "content_hash",
		"perceptual_hash", "score", "is_selected", "rank", "created_at"}).
		AddRow(int64(1), int64(5), "poster", "tmdb", "https://img/poster.jpg",
			1000, 1500, 0, nil, 10, 0, hash, nil, 3000.0, true, 1, time.Now())
}

func movieRow(filePath string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "library_id", "file_path", "tmdb_id", "imdb_id", "tvdb_id",
		"title", "original_title", "sort_title", "year", "plot", "tagline", "runtime",
		"content_rating", "release_date", "popularity", "budget", "revenue", "language", "status",
		"trailer_url", "locked_fields", "state", "monitored", "nfo_parsed_at", "last_enriched_at",
		"published_at", "published_nfo_hash", "delete_after", "created_at", "updated_at"}).
		AddRow(int64(5), int64(1), filePath, nil, nil, nil,
			"The Matrix", nil, nil, nil, nil, nil, nil,
			nil, nil, nil, nil, nil, nil, nil,
			nil, nil, "enriched", true, nil, nil,
			nil, nil, nil, now, now)
}

func TestPublishAssetsSkipsUnchangedTargets(t *testing.T) {
	libDir := t.TempDir()
	blobDir := t.TempDir()
	src := filepath.Join(blobDir, "ab12.jpg")
	require.NoError(t, os.WriteFile(src, []byte("poster bytes"), 0o644))

	p, mock := newPublisher(t, &fakeBlobs{files: map[string]string{"ab12": src}})
	movie := &models.Movie{ID: 5, FilePath: filepath.Join(libDir, "The Matrix (1999).mkv")}
	target := filepath.Join(libDir, "The Matrix (1999)-poster.jpg")

	mock.ExpectQuery(`FROM asset_candidates`).WillReturnRows(selectedPosterRow("ab12"))
	res := &Result{}
	p.publishAssets(movie, libDir, "The Matrix (1999)", false, res)
	require.Empty(t, res.Errors)
	assert.Equal(t, 1, res.AssetsPublished)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "poster bytes", string(data))

	// The target already matches the cache: the rerun counts zero copies.
	mock.ExpectQuery(`FROM asset_candidates`).WillReturnRows(selectedPosterRow("ab12"))
	res = &Result{}
	p.publishAssets(movie, libDir, "The Matrix (1999)", false, res)
	require.Empty(t, res.Errors)
	assert.Zero(t, res.AssetsPublished)

	// A drifted target is rewritten from the cache.
	require.NoError(t, os.WriteFile(target, []byte("scribbled over"), 0o644))
	mock.ExpectQuery(`FROM asset_candidates`).WillReturnRows(selectedPosterRow("ab12"))
	res = &Result{}
	p.publishAssets(movie, libDir, "The Matrix (1999)", false, res)
	require.Empty(t, res.Errors)
	assert.Equal(t, 1, res.AssetsPublished)
	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "poster bytes", string(data))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithAssetErrorsKeepsState(t *testing.T) {
	p, mock := newPublisher(t, &fakeBlobs{})
	mock.ExpectQuery(`FROM movies WHERE id`).
		WillReturnRows(movieRow("/lib/The Matrix (1999).mkv"))
	// The selected asset's blob is gone from the cache.
	mock.ExpectQuery(`FROM asset_candidates`).WillReturnRows(selectedPosterRow("gone"))

	res, err := p.Run(context.Background(), 5, Phases{PublishAssets: true})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Errors)
	assert.Zero(t, res.AssetsPublished)
	// No UPDATE movies expectation was set: a run with failures must leave
	// the state alone.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunCleanFlipsStatePublished(t *testing.T) {
	p, mock := newPublisher(t, &fakeBlobs{})
	mock.ExpectQuery(`FROM movies WHERE id`).
		WillReturnRows(movieRow("/lib/The Matrix (1999).mkv"))
	mock.ExpectQuery(`FROM asset_candidates`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "movie_id", "asset_type", "provider_name",
			"provider_url", "width", "height", "duration", "language", "votes", "likes",
			"content_hash", "perceptual_hash", "score", "is_selected", "rank", "created_at"}))
	mock.ExpectExec(`UPDATE movies SET state = \$1, updated_at = NOW\(\)`).
		WithArgs(models.StatePublished, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := p.Run(context.Background(), 5, Phases{PublishAssets: true})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.NoError(t, mock.ExpectationsWereMet())
}
