package priority

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/repository"
)

func newTestResolver(t *testing.T) (*Resolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	settings := repository.NewSettingsRepository(db)
	return NewResolver(repository.NewPriorityRepository(db, settings), zerolog.Nop()), mock
}

func expectSetting(mock sqlmock.Sqlmock, key, value string) {
	rows := sqlmock.NewRows([]string{"value"})
	if value != "" {
		rows.AddRow(value)
	}
	mock.ExpectQuery(`SELECT value FROM settings`).WithArgs(key).WillReturnRows(rows)
}

func TestForcedLocalFieldsIgnorePreset(t *testing.T) {
	r, _ := newTestResolver(t)

	for _, field := range []string{"runtime", "codec", "file_size", "video_resolution", "audio_channels"} {
		// No settings queries expected; forced fields never touch the store.
		got, err := r.Resolve("movies", CategoryMetadata, field)
		require.NoError(t, err)
		assert.Equal(t, []string{"local"}, got, "field %s", field)
	}
}

func TestBalancedDefaults(t *testing.T) {
	cases := []struct {
		mediaType string
		category  Category
		want      []string
	}{
		{"movies", CategoryMetadata, []string{"imdb", "tmdb", "local"}},
		{"movies", CategoryImage, []string{"fanart_tv", "tmdb", "local"}},
		{"tv", CategoryMetadata, []string{"tvdb", "tmdb", "local"}},
		{"tv", CategoryImage, []string{"fanart_tv", "tvdb", "tmdb", "local"}},
		{"music", CategoryMetadata, []string{"musicbrainz", "theaudiodb", "local"}},
		{"music", CategoryImage, []string{"theaudiodb", "musicbrainz", "local"}},
	}
	for _, tc := range cases {
		r, mock := newTestResolver(t)
		expectSetting(mock, "active_priority_preset", "")
		expectSetting(mock, "disabled_providers", "")

		got, err := r.Resolve(tc.mediaType, tc.category, "title")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s/%s", tc.mediaType, tc.category)
	}
}

func TestCustomPresetEntryWins(t *testing.T) {
	r, mock := newTestResolver(t)
	expectSetting(mock, "active_priority_preset", "custom")
	expectSetting(mock, "disabled_providers", "")
	mock.ExpectQuery(`SELECT providers FROM field_priorities`).
		WithArgs("custom", "metadata", "title").
		WillReturnRows(sqlmock.NewRows([]string{"providers"}).AddRow(`["tmdb","local","imdb"]`))

	got, err := r.Resolve("movies", CategoryMetadata, "title")
	require.NoError(t, err)
	// local sorts last even when a custom entry puts it elsewhere.
	assert.Equal(t, []string{"tmdb", "imdb", "local"}, got)
}

func TestCustomPresetFallsBackWithoutEntry(t *testing.T) {
	r, mock := newTestResolver(t)
	expectSetting(mock, "active_priority_preset", "custom")
	expectSetting(mock, "disabled_providers", "")
	mock.ExpectQuery(`SELECT providers FROM field_priorities`).
		WithArgs("custom", "metadata", "tagline").
		WillReturnRows(sqlmock.NewRows([]string{"providers"}))

	got, err := r.Resolve("movies", CategoryMetadata, "tagline")
	require.NoError(t, err)
	assert.Equal(t, []string{"imdb", "tmdb", "local"}, got)
}

func TestDisabledProvidersFiltered(t *testing.T) {
	r, mock := newTestResolver(t)
	expectSetting(mock, "active_priority_preset", "balanced")
	expectSetting(mock, "disabled_providers", "imdb, fanart_tv")

	got, err := r.Resolve("movies", CategoryMetadata, "title")
	require.NoError(t, err)
	assert.Equal(t, []string{"tmdb", "local"}, got)
}

func TestLocalNeverDisabled(t *testing.T) {
	r, mock := newTestResolver(t)
	expectSetting(mock, "active_priority_preset", "balanced")
	expectSetting(mock, "disabled_providers", "local,imdb,tmdb")

	got, err := r.Resolve("movies", CategoryMetadata, "title")
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, got)
}

func TestUnknownMediaTypeUsesMovieDefaults(t *testing.T) {
	r, mock := newTestResolver(t)
	expectSetting(mock, "active_priority_preset", "balanced")
	expectSetting(mock, "disabled_providers", "")

	got, err := r.Resolve("anime", CategoryMetadata, "title")
	require.NoError(t, err)
	assert.Equal(t, []string{"imdb", "tmdb", "local"}, got)
}
