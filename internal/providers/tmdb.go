package providers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/metarr/metarr/internal/errkind"
)

const (
	tmdbBaseURL  = "https://api.themoviedb.org/3"
	tmdbImageURL = "https://image.tmdb.org/t/p/original"
)

// TMDBProvider adapts The Movie Database API. One request carries metadata,
// credits, images, videos, keywords and release dates via append_to_response.
type TMDBProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewTMDBProvider(apiKey string) *TMDBProvider {
	return &TMDBProvider{
		apiKey:     apiKey,
		baseURL:    tmdbBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// TMDB allows ~50 req/s; stay well under it.
		limiter: rate.NewLimiter(rate.Limit(20), 5),
	}
}

func (p *TMDBProvider) Name() string { return "tmdb" }

type tmdbMovie struct {
	ID            int64   `json:"id"`
	ImdbID        string  `json:"imdb_id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Tagline       string  `json:"tagline"`
	Overview      string  `json:"overview"`
	ReleaseDate   string  `json:"release_date"`
	Runtime       int     `json:"runtime"`
	VoteAverage   float64 `json:"vote_average"`
	VoteCount     int     `json:"vote_count"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
	ProductionCompanies []struct {
		Name string `json:"name"`
	} `json:"production_companies"`
	ProductionCountries []struct {
		Name string `json:"name"`
	} `json:"production_countries"`
	Credits struct {
		Cast []struct {
			ID        int64  `json:"id"`
			Name      string `json:"name"`
			Character string `json:"character"`
			Order     int    `json:"order"`
			Profile   string `json:"profile_path"`
		} `json:"cast"`
		Crew []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
	Images struct {
		Posters   []tmdbImage `json:"posters"`
		Backdrops []tmdbImage `json:"backdrops"`
		Logos     []tmdbImage `json:"logos"`
	} `json:"images"`
	Videos struct {
		Results []struct {
			Key      string `json:"key"`
			Name     string `json:"name"`
			Site     string `json:"site"`
			Type     string `json:"type"`
			Official bool   `json:"official"`
			Size     int    `json:"size"`
			Language string `json:"iso_639_1"`
		} `json:"results"`
	} `json:"videos"`
	Keywords struct {
		Keywords []struct {
			Name string `json:"name"`
		} `json:"keywords"`
	} `json:"keywords"`
	ReleaseDates struct {
		Results []struct {
			Country  string `json:"iso_3166_1"`
			Releases []struct {
				Certification string `json:"certification"`
			} `json:"release_dates"`
		} `json:"results"`
	} `json:"release_dates"`
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	VoteCount   int     `json:"vote_count"`
	VoteAverage float64 `json:"vote_average"`
	Language    string  `json:"iso_639_1"`
}

type tmdbFindResult struct {
	MovieResults []struct {
		ID int64 `json:"id"`
	} `json:"movie_results"`
}

func (p *TMDBProvider) FetchMovie(ctx context.Context, ids ExternalIDs) (*NormalizedMovie, error) {
	tmdbID, err := p.resolveID(ctx, ids)
	if err != nil {
		return nil, err
	}

	var m tmdbMovie
	path := fmt.Sprintf("/movie/%d?append_to_response=credits,images,videos,keywords,release_dates&include_image_language=en,null", tmdbID)
	if err := p.get(ctx, path, &m); err != nil {
		return nil, err
	}
	return p.normalize(&m), nil
}

func (p *TMDBProvider) FetchImages(ctx context.Context, ids ExternalIDs) ([]NormalizedImage, error) {
	movie, err := p.FetchMovie(ctx, ids)
	if err != nil {
		return nil, err
	}
	return movie.Images, nil
}

// resolveID converts whatever external id we hold into a TMDB id, using the
// /find endpoint for IMDb and TVDB ids.
func (p *TMDBProvider) resolveID(ctx context.Context, ids ExternalIDs) (int64, error) {
	if ids.TmdbID != nil {
		return *ids.TmdbID, nil
	}
	if ids.ImdbID != nil {
		var found tmdbFindResult
		if err := p.get(ctx, fmt.Sprintf("/find/%s?external_source=imdb_id", *ids.ImdbID), &found); err != nil {
			return 0, err
		}
		if len(found.MovieResults) > 0 {
			return found.MovieResults[0].ID, nil
		}
	}
	if ids.TvdbID != nil {
		var found tmdbFindResult
		if err := p.get(ctx, fmt.Sprintf("/find/%d?external_source=tvdb_id", *ids.TvdbID), &found); err != nil {
			return 0, err
		}
		if len(found.MovieResults) > 0 {
			return found.MovieResults[0].ID, nil
		}
	}
	return 0, errkind.New(errkind.KindNotFound, "no resolvable tmdb id")
}

func (p *TMDBProvider) get(ctx context.Context, path string, out interface{}) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errkind.Wrap(errkind.KindTimeout, "tmdb rate wait", err)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+sep+"api_key="+p.apiKey, nil)
	if err != nil {
		return errkind.Wrap(errkind.KindInputInvalid, "build tmdb request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return errkind.Classify(err)
	}
	defer resp.Body.Close()

	if err := checkProviderStatus("tmdb", resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errkind.Wrap(errkind.KindSchemaMismatch, "decode tmdb response", err)
	}
	return nil
}

func (p *TMDBProvider) normalize(m *tmdbMovie) *NormalizedMovie {
	out := &NormalizedMovie{
		Provider:      "tmdb",
		Title:         nonEmpty(m.Title),
		OriginalTitle: nonEmpty(m.OriginalTitle),
		Tagline:       nonEmpty(m.Tagline),
		Overview:      nonEmpty(m.Overview),
		ExternalIDs:   ExternalIDs{TmdbID: &m.ID, ImdbID: nonEmpty(m.ImdbID)},
	}
	if m.Runtime > 0 {
		out.Runtime = &m.Runtime
	}
	if t, err := time.Parse("2006-01-02", m.ReleaseDate); err == nil {
		out.ReleaseDate = &t
		year := t.Year()
		out.Year = &year
	}
	for _, rel := range m.ReleaseDates.Results {
		if rel.Country != "US" {
			continue
		}
		for _, r := range rel.Releases {
			if r.Certification != "" {
				cert := r.Certification
				out.ContentRating = &cert
				break
			}
		}
	}
	for _, g := range m.Genres {
		out.Genres = append(out.Genres, g.Name)
	}
	for _, s := range m.ProductionCompanies {
		out.Studios = append(out.Studios, s.Name)
	}
	for _, c := range m.ProductionCountries {
		out.Countries = append(out.Countries, c.Name)
	}
	for _, k := range m.Keywords.Keywords {
		out.Keywords = append(out.Keywords, k.Name)
	}
	if m.VoteCount > 0 {
		out.Ratings = append(out.Ratings, NormalizedRating{Source: "tmdb", Value: m.VoteAverage, Votes: m.VoteCount, Max: 10})
	}
	for _, c := range m.Credits.Cast {
		id := c.ID
		actor := NormalizedPerson{Name: c.Name, Role: "actor", Order: c.Order, TmdbID: &id}
		if c.Character != "" {
			ch := c.Character
			actor.Character = &ch
		}
		if c.Profile != "" {
			thumb := tmdbImageURL + c.Profile
			actor.ThumbURL = &thumb
		}
		out.Actors = append(out.Actors, actor)
	}
	for _, c := range m.Credits.Crew {
		id := c.ID
		person := NormalizedPerson{Name: c.Name, TmdbID: &id}
		switch c.Job {
		case "Director":
			person.Role = "director"
			out.Directors = append(out.Directors, person)
		case "Screenplay", "Writer", "Story":
			person.Role = "writer"
			out.Writers = append(out.Writers, person)
		}
	}
	appendImages := func(imgs []tmdbImage, assetType string) {
		for _, img := range imgs {
			out.Images = append(out.Images, NormalizedImage{
				Provider:   "tmdb",
				ProviderID: img.FilePath,
				AssetType:  assetType,
				URL:        tmdbImageURL + img.FilePath,
				Language:   nonEmpty(img.Language),
				Width:      img.Width,
				Height:     img.Height,
				VoteCount:  img.VoteCount,
			})
		}
	}
	appendImages(m.Images.Posters, "poster")
	appendImages(m.Images.Backdrops, "fanart")
	appendImages(m.Images.Logos, "clearlogo")

	for _, v := range m.Videos.Results {
		if v.Type != "Trailer" || v.Site != "YouTube" {
			continue
		}
		url := "https://www.youtube.com/watch?v=" + v.Key
		out.Videos = append(out.Videos, NormalizedVideo{
			Provider:   "tmdb",
			ProviderID: v.Key,
			URL:        url,
			Name:       v.Name,
			Site:       v.Site,
			Language:   nonEmpty(v.Language),
			Official:   v.Official,
			Resolution: v.Size,
		})
		if out.Trailer == nil {
			out.Trailer = &url
		}
	}
	return out
}

// checkProviderStatus maps HTTP error statuses to tagged errors. 429 carries
// the Retry-After hint when present, defaulting to one hour.
func checkProviderStatus(provider string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return errkind.Newf(errkind.KindNotFound, "%s: title not found", provider)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return errkind.Newf(errkind.KindAuthenticationFailed, "%s: invalid api key", provider).WithStatus(resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Hour
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return errkind.Newf(errkind.KindRateLimit, "%s: rate limited", provider).
			WithStatus(resp.StatusCode).WithRetryAfter(retryAfter)
	default:
		return errkind.Newf(errkind.KindServerError, "%s: http %d", provider, resp.StatusCode).WithStatus(resp.StatusCode)
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
