package providers

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/priority"
	"github.com/metarr/metarr/internal/repository"
)

func strp(s string) *string { return &s }
func intp(i int) *int       { return &i }

func TestMergeScalarFirstNonNilWins(t *testing.T) {
	merged := Merge([]*NormalizedMovie{
		{Provider: "imdb", Title: strp("IMDb Title"), Runtime: nil},
		{Provider: "tmdb", Title: strp("TMDB Title"), Tagline: strp("A tagline"), Runtime: intp(120)},
	})

	assert.Equal(t, "IMDb Title", *merged.Title)
	assert.Equal(t, "A tagline", *merged.Tagline)
	assert.Equal(t, 120, *merged.Runtime)
}

func TestMergeSetsUnionDeduplicated(t *testing.T) {
	merged := Merge([]*NormalizedMovie{
		{Provider: "imdb", Genres: []string{"Drama", "Crime"}},
		{Provider: "tmdb", Genres: []string{"Crime", "Thriller"}},
	})
	assert.Equal(t, []string{"Drama", "Crime", "Thriller"}, merged.Genres)
}

func TestMergeImagesDedupByProviderID(t *testing.T) {
	merged := Merge([]*NormalizedMovie{
		{Provider: "tmdb", Images: []NormalizedImage{
			{Provider: "tmdb", ProviderID: "/a.jpg", AssetType: "poster"},
			{Provider: "tmdb", ProviderID: "/a.jpg", AssetType: "poster"},
		}},
		{Provider: "fanart_tv", Images: []NormalizedImage{
			{Provider: "fanart_tv", ProviderID: "/a.jpg", AssetType: "poster"},
		}},
	})
	// Same path under different providers is two distinct candidates.
	assert.Len(t, merged.Images, 2)
}

func TestMergeRatingsStayPerSource(t *testing.T) {
	merged := Merge([]*NormalizedMovie{
		{Provider: "imdb", Ratings: []NormalizedRating{{Source: "imdb", Value: 8.8}}},
		{Provider: "tmdb", Ratings: []NormalizedRating{{Source: "tmdb", Value: 8.4}}},
	})
	require.Len(t, merged.Ratings, 2)
	assert.Equal(t, "imdb", merged.Ratings[0].Source)
	assert.Equal(t, "tmdb", merged.Ratings[1].Source)
}

func TestMergePeopleHighestPriorityProviderWins(t *testing.T) {
	merged := Merge([]*NormalizedMovie{
		{Provider: "imdb", Actors: []NormalizedPerson{{Name: "A"}, {Name: "B"}}},
		{Provider: "tmdb", Actors: []NormalizedPerson{{Name: "C"}}},
	})
	require.Len(t, merged.Actors, 2)
	assert.Equal(t, "A", merged.Actors[0].Name)
}

// ──────────────────── Orchestrator ────────────────────

type fakeMetadataProvider struct {
	name string
	resp *NormalizedMovie
	err  error
}

func (f *fakeMetadataProvider) Name() string { return f.name }
func (f *fakeMetadataProvider) FetchMovie(context.Context, ExternalIDs) (*NormalizedMovie, error) {
	return f.resp, f.err
}

type fakeImageProvider struct {
	name string
	imgs []NormalizedImage
	err  error
}

func (f *fakeImageProvider) Name() string { return f.name }
func (f *fakeImageProvider) FetchImages(context.Context, ExternalIDs) ([]NormalizedImage, error) {
	return f.imgs, f.err
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	settings := repository.NewSettingsRepository(db)
	resolver := priority.NewResolver(repository.NewPriorityRepository(db, settings), zerolog.Nop())
	o := NewOrchestrator(resolver, repository.NewProviderCacheRepository(db), metrics.New(), zerolog.Nop())
	return o, mock
}

func expectResolverQueries(mock sqlmock.Sqlmock) {
	// Metadata then image resolution, each reading preset and disabled set.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT value FROM settings`).
			WithArgs("active_priority_preset").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("balanced"))
		mock.ExpectQuery(`SELECT value FROM settings`).
			WithArgs("disabled_providers").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))
	}
}

func TestFetchServedFromFreshCache(t *testing.T) {
	o, mock := newTestOrchestrator(t)

	payload := `{"Provider":"merged","Title":"Cached"}`
	rows := sqlmock.NewRows([]string{"id", "movie_id", "payload", "providers", "fetched_at"}).
		AddRow(1, 42, []byte(payload), []byte(`["tmdb"]`), time.Now().Add(-time.Hour))
	mock.ExpectQuery(`SELECT id, movie_id, payload`).WithArgs(int64(42)).WillReturnRows(rows)

	res, err := o.FetchMovie(context.Background(), 42, ExternalIDs{}, false)
	require.NoError(t, err)
	assert.Equal(t, "cache", res.Source)
	assert.Equal(t, "Cached", *res.Data.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchExpiredCacheGoesToNetwork(t *testing.T) {
	o, mock := newTestOrchestrator(t)
	o.RegisterMetadata(&fakeMetadataProvider{name: "tmdb", resp: &NormalizedMovie{Provider: "tmdb", Title: strp("Fresh")}})

	stale := sqlmock.NewRows([]string{"id", "movie_id", "payload", "providers", "fetched_at"}).
		AddRow(1, 42, []byte(`{}`), []byte(`["tmdb"]`), time.Now().Add(-8*24*time.Hour))
	mock.ExpectQuery(`SELECT id, movie_id, payload`).WithArgs(int64(42)).WillReturnRows(stale)
	expectResolverQueries(mock)
	mock.ExpectExec(`INSERT INTO provider_cache`).WillReturnResult(sqlmock.NewResult(1, 1))

	res, err := o.FetchMovie(context.Background(), 42, ExternalIDs{}, false)
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Source)
	assert.Equal(t, "Fresh", *res.Data.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPartialWhenOneProviderFails(t *testing.T) {
	o, mock := newTestOrchestrator(t)
	o.RegisterMetadata(&fakeMetadataProvider{name: "imdb", err: errkind.New(errkind.KindTimeout, "imdb down")})
	o.RegisterMetadata(&fakeMetadataProvider{name: "tmdb", resp: &NormalizedMovie{Provider: "tmdb", Title: strp("Survivor")}})

	expectResolverQueries(mock)
	mock.ExpectExec(`INSERT INTO provider_cache`).WillReturnResult(sqlmock.NewResult(1, 1))

	res, err := o.FetchMovie(context.Background(), 7, ExternalIDs{}, true)
	require.NoError(t, err)
	assert.Equal(t, "partial", res.Source)
	assert.Equal(t, []string{"tmdb"}, res.Providers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchAllRetryableFailuresSurfaceError(t *testing.T) {
	o, mock := newTestOrchestrator(t)
	o.RegisterMetadata(&fakeMetadataProvider{name: "imdb", err: errkind.New(errkind.KindTimeout, "imdb down")})
	o.RegisterMetadata(&fakeMetadataProvider{name: "tmdb", err: errkind.New(errkind.KindRateLimit, "tmdb limited").WithRetryAfter(time.Hour)})

	expectResolverQueries(mock)

	_, err := o.FetchMovie(context.Background(), 7, ExternalIDs{}, true)
	require.Error(t, err)
	assert.True(t, errkind.IsRetryable(err))
}

func TestFetchAllPermanentFailuresYieldEmptyResult(t *testing.T) {
	o, mock := newTestOrchestrator(t)
	o.RegisterMetadata(&fakeMetadataProvider{name: "imdb", err: errkind.New(errkind.KindNotFound, "unknown title")})
	o.RegisterMetadata(&fakeMetadataProvider{name: "tmdb", err: errkind.New(errkind.KindNotFound, "unknown title")})

	expectResolverQueries(mock)

	res, err := o.FetchMovie(context.Background(), 7, ExternalIDs{}, true)
	require.NoError(t, err)
	assert.Nil(t, res.Data)
}
