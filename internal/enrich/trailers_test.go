package enrich

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
)

type fakeDownloader struct {
	downloadErr error
	downloads   int
	embeddable  bool
	verifyErr   error
	verified    bool
}

func (f *fakeDownloader) Download(ctx context.Context, url, destDir string) (string, error) {
	f.downloads++
	if f.downloadErr != nil {
		return "", f.downloadErr
	}
	file := filepath.Join(destDir, "trailer.mp4")
	if err := os.WriteFile(file, []byte("video bytes"), 0o644); err != nil {
		return "", err
	}
	return file, nil
}

func (f *fakeDownloader) VerifyEmbeddable(ctx context.Context, url string) (bool, error) {
	f.verified = true
	return f.embeddable, f.verifyErr
}

func selectedTrailerRow(url string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "movie_id", "url", "site", "title", "official", "language",
		"analyzed", "width", "height", "duration", "score", "is_selected", "failure_reason",
		"retry_after", "failure_count", "selected_at"}).
		AddRow(int64(3), int64(7), url, "YouTube", "Official Trailer", true, nil,
			true, 1920, 1080, 120, 130.0, true, nil, nil, 0, time.Now())
}

func TestDownloadTrailerStoresAndSelects(t *testing.T) {
	p, mock, blobs := newTestPipeline(t)
	dl := &fakeDownloader{}
	p.downloader = dl
	url := "https://www.youtube.com/watch?v=abc123"

	mock.ExpectQuery(`FROM trailer_candidates`).WithArgs(int64(7)).
		WillReturnRows(selectedTrailerRow(url))
	mock.ExpectQuery(`FROM asset_candidates`).WithArgs(int64(7), "trailer").
		WillReturnRows(sqlmock.NewRows([]string{"id", "movie_id", "asset_type", "provider_name",
			"provider_url", "width", "height", "duration", "language", "votes", "likes",
			"content_hash", "perceptual_hash", "score", "is_selected", "rank", "created_at"}))
	mock.ExpectQuery(`INSERT INTO asset_candidates`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec(`UPDATE asset_candidates SET content_hash`).
		WithArgs("cafe", 1920, 1080, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE asset_candidates SET is_selected = FALSE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE asset_candidates SET is_selected = TRUE`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res := &Result{}
	require.NoError(t, p.downloadTrailer(context.Background(), &models.Movie{ID: 7}, res))

	assert.True(t, res.TrailerDownloaded)
	assert.Equal(t, 1, dl.downloads)
	assert.Equal(t, 1, blobs.puts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownloadTrailerAlreadyCachedSkips(t *testing.T) {
	p, mock, _ := newTestPipeline(t)
	dl := &fakeDownloader{}
	p.downloader = dl
	url := "https://www.youtube.com/watch?v=abc123"
	hash := "cafe"

	mock.ExpectQuery(`FROM trailer_candidates`).WithArgs(int64(7)).
		WillReturnRows(selectedTrailerRow(url))
	// The same URL already carries a content hash: nothing to fetch.
	mock.ExpectQuery(`FROM asset_candidates`).WithArgs(int64(7), "trailer").
		WillReturnRows(assetCandidateRow(9, "trailer", url, &hash))

	res := &Result{}
	require.NoError(t, p.downloadTrailer(context.Background(), &models.Movie{ID: 7}, res))

	assert.False(t, res.TrailerDownloaded)
	assert.Zero(t, dl.downloads)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownloadTrailerGoneVideoMarkedUnavailable(t *testing.T) {
	p, mock, _ := newTestPipeline(t)
	dl := &fakeDownloader{
		downloadErr: errkind.New(errkind.KindConnectionFailed, "fetch failed"),
		embeddable:  false,
	}
	p.downloader = dl
	url := "https://www.youtube.com/watch?v=gone"

	mock.ExpectQuery(`FROM trailer_candidates`).WithArgs(int64(7)).
		WillReturnRows(selectedTrailerRow(url))
	mock.ExpectQuery(`FROM asset_candidates`).WithArgs(int64(7), "trailer").
		WillReturnRows(sqlmock.NewRows([]string{"id", "movie_id", "asset_type", "provider_name",
			"provider_url", "width", "height", "duration", "language", "votes", "likes",
			"content_hash", "perceptual_hash", "score", "is_selected", "rank", "created_at"}))
	mock.ExpectExec(`UPDATE trailer_candidates SET failure_reason`).
		WithArgs("unavailable", nil, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := &Result{}
	require.NoError(t, p.downloadTrailer(context.Background(), &models.Movie{ID: 7}, res))

	// Unavailable is only recorded after the embed check confirms the video
	// is gone, never on the download error alone.
	assert.True(t, dl.verified)
	assert.False(t, res.TrailerDownloaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownloadTrailerRateLimitSchedulesRetry(t *testing.T) {
	p, mock, _ := newTestPipeline(t)
	dl := &fakeDownloader{
		downloadErr: errkind.New(errkind.KindRateLimit, "limited").WithRetryAfter(time.Hour),
	}
	p.downloader = dl
	url := "https://www.youtube.com/watch?v=busy"

	mock.ExpectQuery(`FROM trailer_candidates`).WithArgs(int64(7)).
		WillReturnRows(selectedTrailerRow(url))
	mock.ExpectQuery(`FROM asset_candidates`).WithArgs(int64(7), "trailer").
		WillReturnRows(sqlmock.NewRows([]string{"id", "movie_id", "asset_type", "provider_name",
			"provider_url", "width", "height", "duration", "language", "votes", "likes",
			"content_hash", "perceptual_hash", "score", "is_selected", "rank", "created_at"}))
	mock.ExpectExec(`UPDATE trailer_candidates SET failure_reason`).
		WithArgs("rate_limited", sqlmock.AnyArg(), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res := &Result{}
	require.NoError(t, p.downloadTrailer(context.Background(), &models.Movie{ID: 7}, res))

	// A rate limit is transient; the embed check is not consulted.
	assert.False(t, dl.verified)
	assert.False(t, res.TrailerDownloaded)
	assert.NoError(t, mock.ExpectationsWereMet())
}
