package publish

import (
	"encoding/xml"
	"strconv"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// ──────────────────── Kodi-compatible NFO structures ────────────────────

// xmlMovie is the <movie> root element of a Kodi movie NFO.
type xmlMovie struct {
	XMLName       xml.Name      `xml:"movie"`
	Title         string        `xml:"title"`
	OriginalTitle string        `xml:"originaltitle,omitempty"`
	SortTitle     string        `xml:"sorttitle,omitempty"`
	Tagline       string        `xml:"tagline,omitempty"`
	Plot          string        `xml:"plot,omitempty"`
	Year          string        `xml:"year,omitempty"`
	Runtime       string        `xml:"runtime,omitempty"`
	MPAA          string        `xml:"mpaa,omitempty"`
	Premiered     string        `xml:"premiered,omitempty"`
	Trailer       string        `xml:"trailer,omitempty"`
	Countries     []string      `xml:"country"`
	Genres        []string      `xml:"genre"`
	Studios       []string      `xml:"studio"`
	Tags          []string      `xml:"tag"`
	Directors     []string      `xml:"director"`
	Credits       []string      `xml:"credits"`
	Actors        []xmlActor    `xml:"actor"`
	UniqueIDs     []xmlUniqueID `xml:"uniqueid"`
	Ratings       *xmlRatings   `xml:"ratings"`
	LockData      string        `xml:"lockdata,omitempty"`
}

type xmlActor struct {
	Name  string `xml:"name"`
	Role  string `xml:"role,omitempty"`
	Thumb string `xml:"thumb,omitempty"`
	Order string `xml:"order"`
}

type xmlUniqueID struct {
	Type    string `xml:"type,attr"`
	Default string `xml:"default,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type xmlRatings struct {
	Ratings []xmlRating `xml:"rating"`
}

type xmlRating struct {
	Name  string  `xml:"name,attr"`
	Max   string  `xml:"max,attr"`
	Value float64 `xml:"value"`
	Votes int     `xml:"votes,omitempty"`
}

// NFOInput bundles the movie row with its related entities, in the stable
// order the repositories return them. The generated bytes are a pure
// function of this input, which keeps republishing idempotent.
type NFOInput struct {
	Movie     *models.Movie
	Genres    []string
	Studios   []string
	Countries []string
	Tags      []string
	Actors    []repository.ActorCredit
	Directors []models.Person
	Writers   []models.Person
	Ratings   []models.MovieRating
}

// GenerateNFO renders the Kodi movie sidecar.
func GenerateNFO(in NFOInput) ([]byte, error) {
	m := in.Movie
	movie := xmlMovie{
		Title:     m.Title,
		Countries: in.Countries,
		Genres:    in.Genres,
		Studios:   in.Studios,
		Tags:      in.Tags,
	}
	if m.OriginalTitle != nil {
		movie.OriginalTitle = *m.OriginalTitle
	}
	if m.SortTitle != nil {
		movie.SortTitle = *m.SortTitle
	}
	if m.Tagline != nil {
		movie.Tagline = *m.Tagline
	}
	if m.Plot != nil {
		movie.Plot = *m.Plot
	}
	if m.Year != nil {
		movie.Year = strconv.Itoa(*m.Year)
	}
	if m.Runtime != nil {
		movie.Runtime = strconv.Itoa(*m.Runtime)
	}
	if m.ContentRating != nil {
		movie.MPAA = *m.ContentRating
	}
	if m.ReleaseDate != nil {
		movie.Premiered = m.ReleaseDate.Format("2006-01-02")
	}
	if m.TrailerURL != nil {
		movie.Trailer = *m.TrailerURL
	}

	if m.ImdbID != nil {
		movie.UniqueIDs = append(movie.UniqueIDs, xmlUniqueID{Type: "imdb", Default: "true", Value: *m.ImdbID})
	}
	if m.TmdbID != nil {
		movie.UniqueIDs = append(movie.UniqueIDs, xmlUniqueID{Type: "tmdb", Value: strconv.FormatInt(*m.TmdbID, 10)})
	}
	if m.TvdbID != nil {
		movie.UniqueIDs = append(movie.UniqueIDs, xmlUniqueID{Type: "tvdb", Value: strconv.FormatInt(*m.TvdbID, 10)})
	}

	var ratings []xmlRating
	for _, r := range in.Ratings {
		ratings = append(ratings, xmlRating{
			Name:  r.Source,
			Max:   strconv.Itoa(r.Max),
			Value: r.Value,
			Votes: r.Votes,
		})
	}
	if len(ratings) > 0 {
		movie.Ratings = &xmlRatings{Ratings: ratings}
	}

	for _, a := range in.Actors {
		actor := xmlActor{Name: a.Person.Name, Role: a.Role, Order: strconv.Itoa(a.SortOrder)}
		if a.Person.ThumbURL != nil {
			actor.Thumb = *a.Person.ThumbURL
		}
		movie.Actors = append(movie.Actors, actor)
	}
	for _, d := range in.Directors {
		movie.Directors = append(movie.Directors, d.Name)
	}
	for _, w := range in.Writers {
		movie.Credits = append(movie.Credits, w.Name)
	}
	if len(m.LockedFields) > 0 {
		movie.LockData = "true"
	}

	body, err := xml.MarshalIndent(movie, "", "  ")
	if err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaMismatch, "marshal nfo", err)
	}
	return append([]byte(xml.Header), append(body, '\n')...), nil
}
