package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		want FileKind
	}{
		{"/m/The Matrix (1999).mkv", KindMedia},
		{"/m/movie.MP4", KindMedia},
		{"/m/The Matrix (1999).nfo", KindSidecar},
		{"/m/The Matrix (1999)-poster.jpg", KindImage},
		{"/m/The Matrix (1999)-fanart2.png", KindImage},
		{"/m/poster.jpg", KindImage},
		{"/m/folder.jpg", KindImage},
		{"/m/random-photo.jpg", KindUnknown},
		{"/m/The Matrix (1999)-trailer.mp4", KindLocalVideo},
		{"/m/The Matrix (1999).en.srt", KindSubtitle},
		{"/m/notes.txt", KindUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.path), tc.path)
	}
}

func TestParseTitleYear(t *testing.T) {
	title, year := ParseTitleYear("/m/The.Matrix.1999.1080p.BluRay.x264.mkv")
	assert.Equal(t, "The Matrix", title)
	require.NotNil(t, year)
	assert.Equal(t, 1999, *year)

	title, year = ParseTitleYear("/m/Heat (1995).mkv")
	assert.Equal(t, "Heat", title)
	require.NotNil(t, year)
	assert.Equal(t, 1995, *year)

	title, year = ParseTitleYear("/m/Primer.mkv")
	assert.Equal(t, "Primer", title)
	assert.Nil(t, year)

	// 2001 in the title, release year later in the name.
	title, year = ParseTitleYear("/m/2001 A Space Odyssey 1968 REMUX.mkv")
	require.NotNil(t, year)
	assert.Equal(t, 1968, *year)
	assert.Equal(t, "2001 A Space Odyssey", title)
}

func TestParseNFO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.nfo")
	require.NoError(t, os.WriteFile(path, []byte(`<?xml version="1.0" encoding="UTF-8"?>
<movie>
  <title>The Matrix</title>
  <sorttitle>Matrix</sorttitle>
  <year>1999</year>
  <premiered>1999-03-31</premiered>
  <mpaa>R</mpaa>
  <uniqueid type="imdb" default="true">tt0133093</uniqueid>
  <uniqueid type="tmdb">603</uniqueid>
  <lockdata>true</lockdata>
</movie>`), 0o644))

	parsed, err := ParseNFO(path)
	require.NoError(t, err)
	assert.Equal(t, "The Matrix", *parsed.Update.Title)
	assert.Equal(t, "Matrix", *parsed.Update.SortTitle)
	assert.Equal(t, 1999, *parsed.Update.Year)
	assert.Equal(t, "R", *parsed.Update.ContentRating)
	assert.Equal(t, "tt0133093", *parsed.Update.ImdbID)
	assert.Equal(t, int64(603), *parsed.Update.TmdbID)
	assert.True(t, parsed.HasIDs)
	assert.True(t, parsed.LockAll)
}

func TestParseNFOLegacyIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.nfo")
	require.NoError(t, os.WriteFile(path, []byte(`<movie><title>Old</title><imdbid>tt0000001</imdbid></movie>`), 0o644))

	parsed, err := ParseNFO(path)
	require.NoError(t, err)
	assert.Equal(t, "tt0000001", *parsed.Update.ImdbID)
	assert.False(t, parsed.LockAll)
}

func TestParseNFOInvalidXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "movie.nfo")
	require.NoError(t, os.WriteFile(path, []byte("this is not xml <"), 0o644))

	_, err := ParseNFO(path)
	assert.Error(t, err)
}
