package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/metarr/metarr/internal/errkind"
)

const omdbBaseURL = "https://www.omdbapi.com/"

// OMDBProvider serves the "imdb" slot in priority lists: it keys lookups by
// IMDb id and carries IMDb ratings, Rotten Tomatoes and Metacritic scores.
type OMDBProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOMDBProvider(apiKey string) *OMDBProvider {
	return &OMDBProvider{
		apiKey:     apiKey,
		baseURL:    omdbBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Free tier is 1000/day; pace conservatively.
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}
}

func (p *OMDBProvider) Name() string { return "imdb" }

type omdbMovie struct {
	Title      string `json:"Title"`
	Year       string `json:"Year"`
	Rated      string `json:"Rated"`
	Released   string `json:"Released"`
	Runtime    string `json:"Runtime"`
	Genre      string `json:"Genre"`
	Director   string `json:"Director"`
	Writer     string `json:"Writer"`
	Actors     string `json:"Actors"`
	Plot       string `json:"Plot"`
	Country    string `json:"Country"`
	Poster     string `json:"Poster"`
	Production string `json:"Production"`
	ImdbID     string `json:"imdbID"`
	ImdbRating string `json:"imdbRating"`
	ImdbVotes  string `json:"imdbVotes"`
	Metascore  string `json:"Metascore"`
	Ratings    []struct {
		Source string `json:"Source"`
		Value  string `json:"Value"`
	} `json:"Ratings"`
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

func (p *OMDBProvider) FetchMovie(ctx context.Context, ids ExternalIDs) (*NormalizedMovie, error) {
	if ids.ImdbID == nil {
		return nil, errkind.New(errkind.KindNotFound, "imdb: no imdb id to look up")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, errkind.Wrap(errkind.KindTimeout, "omdb rate wait", err)
	}

	q := url.Values{}
	q.Set("apikey", p.apiKey)
	q.Set("i", *ids.ImdbID)
	q.Set("plot", "full")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInputInvalid, "build omdb request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errkind.Classify(err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus("imdb", resp); err != nil {
		return nil, err
	}
	var m omdbMovie
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaMismatch, "decode omdb response", err)
	}
	if m.Response != "True" {
		return nil, errkind.Newf(errkind.KindNotFound, "imdb: %s", m.Error)
	}
	return p.normalize(&m), nil
}

func (p *OMDBProvider) normalize(m *omdbMovie) *NormalizedMovie {
	out := &NormalizedMovie{
		Provider:      "imdb",
		Title:         nonEmptyNA(m.Title),
		Overview:      nonEmptyNA(m.Plot),
		ContentRating: nonEmptyNA(m.Rated),
		ExternalIDs:   ExternalIDs{ImdbID: nonEmpty(m.ImdbID)},
	}
	if t, err := time.Parse("02 Jan 2006", m.Released); err == nil {
		out.ReleaseDate = &t
		year := t.Year()
		out.Year = &year
	} else if y, err := strconv.Atoi(strings.TrimSpace(m.Year)); err == nil {
		out.Year = &y
	}
	if mins, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(m.Runtime), " min")); err == nil && mins > 0 {
		out.Runtime = &mins
	}
	out.Genres = splitList(m.Genre)
	out.Countries = splitList(m.Country)
	if m.Production != "" && m.Production != "N/A" {
		out.Studios = splitList(m.Production)
	}
	for i, name := range splitList(m.Actors) {
		out.Actors = append(out.Actors, NormalizedPerson{Name: name, Role: "actor", Order: i})
	}
	for _, name := range splitList(m.Director) {
		out.Directors = append(out.Directors, NormalizedPerson{Name: name, Role: "director"})
	}
	for _, name := range splitList(m.Writer) {
		// OMDB annotates writers like "Jane Doe (screenplay)".
		if idx := strings.Index(name, " ("); idx > 0 {
			name = name[:idx]
		}
		out.Writers = append(out.Writers, NormalizedPerson{Name: name, Role: "writer"})
	}
	if v, err := strconv.ParseFloat(m.ImdbRating, 64); err == nil {
		votes, _ := strconv.Atoi(strings.ReplaceAll(m.ImdbVotes, ",", ""))
		out.Ratings = append(out.Ratings, NormalizedRating{Source: "imdb", Value: v, Votes: votes, Max: 10})
	}
	if v, err := strconv.Atoi(m.Metascore); err == nil {
		out.Ratings = append(out.Ratings, NormalizedRating{Source: "metacritic", Value: float64(v), Max: 100})
	}
	for _, r := range m.Ratings {
		if r.Source != "Rotten Tomatoes" {
			continue
		}
		if v, err := strconv.Atoi(strings.TrimSuffix(r.Value, "%")); err == nil {
			out.Ratings = append(out.Ratings, NormalizedRating{Source: "rottentomatoes", Value: float64(v), Max: 100})
		}
	}
	if m.Poster != "" && m.Poster != "N/A" {
		out.Images = append(out.Images, NormalizedImage{
			Provider:   "imdb",
			ProviderID: m.ImdbID + "-poster",
			AssetType:  "poster",
			URL:        m.Poster,
		})
	}
	return out
}

func nonEmptyNA(s string) *string {
	if s == "" || s == "N/A" {
		return nil
	}
	return &s
}

func splitList(s string) []string {
	if s == "" || s == "N/A" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
