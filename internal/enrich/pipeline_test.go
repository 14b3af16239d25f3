package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/providers"
)

func strp(s string) *string { return &s }

func TestDeriveSortTitleStripsArticle(t *testing.T) {
	movie := &models.Movie{}

	assert.Equal(t, "Matrix", deriveSortTitle(movie, "The Matrix"))
	assert.Equal(t, "Beautiful Mind", deriveSortTitle(movie, "A Beautiful Mind"))
	assert.Equal(t, "American Werewolf in London", deriveSortTitle(movie, "An American Werewolf in London"))
	assert.Equal(t, "Heat", deriveSortTitle(movie, "Heat"))
}

func TestDeriveSortTitleRespectsExistingAndLock(t *testing.T) {
	withSort := &models.Movie{SortTitle: strp("Custom Sort")}
	assert.Empty(t, deriveSortTitle(withSort, "The Matrix"))

	locked := &models.Movie{LockedFields: []string{"sort_title"}}
	assert.Empty(t, deriveSortTitle(locked, "The Matrix"))

	wildcard := &models.Movie{LockedFields: []string{"*"}}
	assert.Empty(t, deriveSortTitle(wildcard, "The Matrix"))
}

func TestDedupeActorsByNameThenExternalID(t *testing.T) {
	id1 := int64(101)
	actors := []providers.NormalizedPerson{
		{Name: "Keanu Reeves", TmdbID: &id1},
		{Name: "keanu  reeves"},           // same normalized name
		{Name: "K. Reeves", TmdbID: &id1}, // same external id
		{Name: "Carrie-Anne Moss"},
	}
	out := dedupeActors(actors)
	assert.Len(t, out, 2)
	assert.Equal(t, "Keanu Reeves", out[0].Name)
	assert.Equal(t, "Carrie-Anne Moss", out[1].Name)
}

func TestScoreTrailerTiers(t *testing.T) {
	p := &Pipeline{preferredLanguage: "en", maxResolution: 2160}
	en := "en"
	de := "de"

	cases := []struct {
		name string
		c    models.TrailerCandidate
		want float64
	}{
		{"official 4k preferred language", models.TrailerCandidate{Official: true, Language: &en, Height: 2160}, 190},
		{"official 1080p", models.TrailerCandidate{Official: true, Height: 1080}, 130},
		{"unofficial 720p wrong language", models.TrailerCandidate{Language: &de, Height: 720}, 20},
		{"sd", models.TrailerCandidate{Height: 480}, 10},
		{"tiny", models.TrailerCandidate{Height: 240}, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, p.scoreTrailer(&tc.c), tc.name)
	}
}

func TestScoreTrailerClampsToMaxResolution(t *testing.T) {
	// With the cap at 1080, a 4K upload scores the 1080 tier.
	p := &Pipeline{preferredLanguage: "en", maxResolution: 1080}
	assert.Equal(t, 30.0, p.scoreTrailer(&models.TrailerCandidate{Height: 2160}))
}

func TestScoreAssetProviderRankDominates(t *testing.T) {
	rank := map[string]int{"fanart_tv": 3, "tmdb": 2}
	fanart := &models.AssetCandidate{ProviderName: "fanart_tv", Likes: 0, Votes: 0}
	tmdb := &models.AssetCandidate{ProviderName: "tmdb", Likes: 30, Votes: 100, Height: 2000}

	assert.Greater(t, scoreAsset(fanart, rank, "en"), scoreAsset(tmdb, rank, "en"))
}

func TestScoreAssetTieBreakers(t *testing.T) {
	rank := map[string]int{"tmdb": 1}
	en := "en"
	liked := &models.AssetCandidate{ProviderName: "tmdb", Likes: 10}
	voted := &models.AssetCandidate{ProviderName: "tmdb", Votes: 10}
	localized := &models.AssetCandidate{ProviderName: "tmdb", Language: &en}

	assert.Greater(t, scoreAsset(liked, rank, "en"), scoreAsset(voted, rank, "en"))
	assert.Greater(t, scoreAsset(localized, rank, "en"), scoreAsset(&models.AssetCandidate{ProviderName: "tmdb"}, rank, "en"))
}

func TestIsNearDupOfAny(t *testing.T) {
	base := int64(0x0F0F0F0F0F0F0F0F)
	assert.True(t, isNearDupOfAny(base, []int64{base}))
	// One bit difference is 63/64 similar.
	assert.True(t, isNearDupOfAny(base^1, []int64{base}))
	// Inverted hash shares no bits.
	assert.False(t, isNearDupOfAny(^base, []int64{base}))
	assert.False(t, isNearDupOfAny(base, nil))
}

func TestImageExt(t *testing.T) {
	assert.Equal(t, ".png", imageExt("https://host/img/a.png"))
	assert.Equal(t, ".jpg", imageExt("https://host/img/a.jpg?size=large"))
	assert.Equal(t, ".jpg", imageExt("https://host/img/a"))
	assert.Equal(t, ".webp", imageExt("https://host/a.WEBP"))
}

func TestPickTitleHonorsLock(t *testing.T) {
	data := &providers.NormalizedMovie{Title: strp("Provider Title")}

	unlocked := &models.Movie{Title: "Disk Title"}
	assert.Equal(t, "Provider Title", pickTitle(unlocked, data))

	locked := &models.Movie{Title: "Disk Title", LockedFields: []string{"title"}}
	assert.Equal(t, "Disk Title", pickTitle(locked, data))
}
