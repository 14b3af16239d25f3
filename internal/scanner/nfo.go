package scanner

import (
	"encoding/xml"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/repository"
)

// nfoMovie is the subset of the Kodi movie sidecar the scanner reads back.
type nfoMovie struct {
	XMLName       xml.Name `xml:"movie"`
	Title         string   `xml:"title"`
	OriginalTitle string   `xml:"originaltitle"`
	SortTitle     string   `xml:"sorttitle"`
	Tagline       string   `xml:"tagline"`
	Plot          string   `xml:"plot"`
	Year          string   `xml:"year"`
	MPAA          string   `xml:"mpaa"`
	Premiered     string   `xml:"premiered"`
	Trailer       string   `xml:"trailer"`
	LockData      string   `xml:"lockdata"`
	UniqueIDs     []struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"uniqueid"`
	IMDBId string `xml:"imdbid"`
	TMDBId string `xml:"tmdbid"`
}

// ParsedNFO is what a sidecar contributes to an entity row.
type ParsedNFO struct {
	Update   repository.MetadataUpdate
	LockAll  bool
	HasIDs   bool
}

// ParseNFO reads a movie sidecar from disk. Unknown elements are ignored;
// a file that is not valid XML is an input error, not a crash.
func ParseNFO(path string) (*ParsedNFO, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindReadFailed, "read nfo", err)
	}
	var m nfoMovie
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, errkind.Wrap(errkind.KindInputInvalid, "parse nfo", err)
	}

	out := &ParsedNFO{LockAll: strings.EqualFold(m.LockData, "true")}
	u := &out.Update
	setString(&u.Title, m.Title)
	setString(&u.OriginalTitle, m.OriginalTitle)
	setString(&u.SortTitle, m.SortTitle)
	setString(&u.Tagline, m.Tagline)
	setString(&u.Plot, m.Plot)
	setString(&u.ContentRating, m.MPAA)
	setString(&u.TrailerURL, m.Trailer)
	if y, err := strconv.Atoi(strings.TrimSpace(m.Year)); err == nil {
		u.Year = &y
	}
	if t, err := time.Parse("2006-01-02", m.Premiered); err == nil {
		u.ReleaseDate = &t
	}

	for _, id := range m.UniqueIDs {
		applyExternalID(u, id.Type, id.Value)
	}
	// Legacy single-id elements still appear in old sidecars.
	applyExternalID(u, "imdb", m.IMDBId)
	applyExternalID(u, "tmdb", m.TMDBId)
	out.HasIDs = u.ImdbID != nil || u.TmdbID != nil || u.TvdbID != nil
	return out, nil
}

func applyExternalID(u *repository.MetadataUpdate, idType, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	switch strings.ToLower(idType) {
	case "imdb":
		if u.ImdbID == nil {
			u.ImdbID = &value
		}
	case "tmdb":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && u.TmdbID == nil {
			u.TmdbID = &n
		}
	case "tvdb":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && u.TvdbID == nil {
			u.TvdbID = &n
		}
	}
}

func setString(dst **string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = &v
	}
}
