package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

func TestAssetSuffixRanks(t *testing.T) {
	assert.Equal(t, "-poster", AssetSuffix(models.AssetPoster, 1))
	assert.Equal(t, "-poster1", AssetSuffix(models.AssetPoster, 2))
	assert.Equal(t, "-poster2", AssetSuffix(models.AssetPoster, 3))
	assert.Equal(t, "-fanart", AssetSuffix(models.AssetFanart, 0))
	assert.Equal(t, "-disc", AssetSuffix(models.AssetDiscart, 1))
}

func TestAssetSuffixUnknownTypeFallsBack(t *testing.T) {
	assert.Equal(t, "-keyart", AssetSuffix(models.AssetKeyart, 1))
	assert.Equal(t, "-keyart1", AssetSuffix(models.AssetKeyart, 2))
}

func TestSanitizeBasename(t *testing.T) {
	assert.Equal(t, "The Matrix (1999)", SanitizeBasename("/media/movies/The Matrix (1999)/The Matrix (1999).mkv"))
	assert.Equal(t, "Am_lie", SanitizeBasename("/media/movies/Amélie.mp4"))
	assert.Equal(t, "evil", SanitizeBasename("/media/../evil.mkv"))
	assert.Equal(t, "Spider-Man_ No Way Home", SanitizeBasename("/m/Spider-Man: No Way Home.mkv"))
}

func TestSanitizeNameStripsTraversal(t *testing.T) {
	assert.NotContains(t, SanitizeName("a..b/../c"), "..")
	assert.Equal(t, "a_b", SanitizeName("a/b"))
}

func mkNFOInput() NFOInput {
	year := 1999
	runtime := 136
	plot := "A hacker learns the truth."
	tagline := "Free your mind"
	imdb := "tt0133093"
	tmdb := int64(603)
	release := time.Date(1999, 3, 31, 0, 0, 0, 0, time.UTC)
	sort := "Matrix"
	return NFOInput{
		Movie: &models.Movie{
			ID:          1,
			Title:       "The Matrix",
			SortTitle:   &sort,
			Year:        &year,
			Runtime:     &runtime,
			Plot:        &plot,
			Tagline:     &tagline,
			ImdbID:      &imdb,
			TmdbID:      &tmdb,
			ReleaseDate: &release,
		},
		Genres:  []string{"Action", "Science Fiction"},
		Studios: []string{"Warner Bros."},
		Actors: []repository.ActorCredit{
			{Person: models.Person{Name: "Keanu Reeves"}, Role: "Neo", SortOrder: 0},
			{Person: models.Person{Name: "Carrie-Anne Moss"}, Role: "Trinity", SortOrder: 1},
		},
		Directors: []models.Person{{Name: "Lana Wachowski"}},
		Writers:   []models.Person{{Name: "Lilly Wachowski"}},
		Ratings:   []models.MovieRating{{Source: "imdb", Value: 8.7, Votes: 2000000, Max: 10}},
	}
}

func TestGenerateNFOContent(t *testing.T) {
	data, err := GenerateNFO(mkNFOInput())
	require.NoError(t, err)
	nfo := string(data)

	assert.True(t, strings.HasPrefix(nfo, "<?xml"))
	assert.Contains(t, nfo, "<movie>")
	assert.Contains(t, nfo, "<title>The Matrix</title>")
	assert.Contains(t, nfo, "<sorttitle>Matrix</sorttitle>")
	assert.Contains(t, nfo, "<year>1999</year>")
	assert.Contains(t, nfo, "<runtime>136</runtime>")
	assert.Contains(t, nfo, "<premiered>1999-03-31</premiered>")
	assert.Contains(t, nfo, `<uniqueid type="imdb" default="true">tt0133093</uniqueid>`)
	assert.Contains(t, nfo, `<uniqueid type="tmdb">603</uniqueid>`)
	assert.Contains(t, nfo, `<rating name="imdb" max="10">`)
	assert.Contains(t, nfo, "<role>Neo</role>")
	assert.Contains(t, nfo, "<director>Lana Wachowski</director>")
	assert.Contains(t, nfo, "<credits>Lilly Wachowski</credits>")
	assert.NotContains(t, nfo, "<lockdata>")
}

func TestGenerateNFODeterministic(t *testing.T) {
	// Same inputs must produce byte-identical output; republishing relies on
	// the stable hash.
	a, err := GenerateNFO(mkNFOInput())
	require.NoError(t, err)
	b, err := GenerateNFO(mkNFOInput())
	require.NoError(t, err)

	ha := sha256.Sum256(a)
	hb := sha256.Sum256(b)
	assert.Equal(t, hex.EncodeToString(ha[:]), hex.EncodeToString(hb[:]))
}

func TestGenerateNFOLockData(t *testing.T) {
	in := mkNFOInput()
	in.Movie.LockedFields = []string{"title"}
	data, err := GenerateNFO(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<lockdata>true</lockdata>")
}
