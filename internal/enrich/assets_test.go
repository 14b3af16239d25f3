package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/priority"
	"github.com/metarr/metarr/internal/repository"
)

// memBlobs stores nothing and hands back a fixed content hash.
type memBlobs struct {
	puts int
}

func (m *memBlobs) Put(data []byte, kind models.BlobKind, ext string) (string, error) {
	m.puts++
	return "cafe", nil
}

func newTestPipeline(t *testing.T) (*Pipeline, sqlmock.Sqlmock, *memBlobs) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	settings := repository.NewSettingsRepository(db)
	blobs := &memBlobs{}
	p := NewPipeline(Deps{
		Movies:    repository.NewMovieRepository(db),
		Relations: repository.NewRelationRepository(db),
		Assets:    repository.NewAssetRepository(db),
		Trailers:  repository.NewTrailerRepository(db),
		Libraries: repository.NewLibraryRepository(db),
		Resolver:  priority.NewResolver(repository.NewPriorityRepository(db, settings), zerolog.Nop()),
		Blobs:     blobs,
		Metrics:   metrics.New(),
		Logger:    zerolog.Nop(),
	})
	return p, mock, blobs
}

func assetCandidateRow(id int64, assetType, url string, hash *string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "movie_id", "asset_type", "provider_name", "provider_url",
		"width", "height", "duration", "language", "votes", "likes", "content_hash",
		"perceptual_hash", "score", "is_selected", "rank", "created_at"}).
		AddRow(id, int64(7), assetType, "fanart_tv", url,
			1920, 1080, 0, nil, 5, 2, hash, nil, 0.0, false, 0, time.Now())
}

func TestSelectAssetsResolvesOrderPerAssetType(t *testing.T) {
	p, mock, _ := newTestPipeline(t)
	p.assetLimits = map[models.AssetType]int{models.AssetFanart: 1}
	movie := &models.Movie{ID: 7}
	hash := "f00d"

	mock.ExpectQuery(`SELECT value FROM settings`).WithArgs("active_priority_preset").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("custom"))
	mock.ExpectQuery(`SELECT value FROM settings`).WithArgs("disabled_providers").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(""))
	// The custom preset is consulted with the type under selection as the
	// field key, not a fixed one.
	mock.ExpectQuery(`SELECT providers FROM field_priorities`).
		WithArgs("custom", "image", "fanart").
		WillReturnRows(sqlmock.NewRows([]string{"providers"}).
			AddRow([]byte(`["fanart_tv","tmdb","local"]`)))
	mock.ExpectQuery(`FROM asset_candidates`).
		WithArgs(int64(7), "fanart").
		WillReturnRows(assetCandidateRow(2, "fanart", "https://img/backdrop.jpg", &hash))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM rejected_assets`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE asset_candidates SET is_selected = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE asset_candidates SET is_selected = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res := &Result{}
	require.NoError(t, p.selectAssets(context.Background(), movie, res))
	assert.Equal(t, 1, res.AssetsSelected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
