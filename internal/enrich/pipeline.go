package enrich

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/priority"
	"github.com/metarr/metarr/internal/providers"
	"github.com/metarr/metarr/internal/repository"
)

// Request drives one enrichment run for a single movie.
type Request struct {
	MovieID      int64
	Manual       bool
	ForceRefresh bool

	// Phase toggles; all true for a normal run.
	FetchMetadata   bool
	AnalyzeTrailer  bool
	SelectTrailer   bool
	DownloadTrailer bool
	SelectAssets    bool
}

// FullRequest returns a Request with every phase enabled.
func FullRequest(movieID int64, manual, forceRefresh bool) Request {
	return Request{
		MovieID:         movieID,
		Manual:          manual,
		ForceRefresh:    forceRefresh,
		FetchMetadata:   true,
		AnalyzeTrailer:  true,
		SelectTrailer:   true,
		DownloadTrailer: true,
		SelectAssets:    true,
	}
}

// Result summarizes what a run changed.
type Result struct {
	Skipped           bool
	Source            string
	FieldsWritten     []string
	TrailersAnalyzed  int
	TrailerSelected   bool
	TrailerDownloaded bool
	AssetsSelected    int
	PublishRequested  bool
}

// Pipeline runs the phased enrichment for one movie at a time. Per-movie
// serialization is the job queue's responsibility, not the pipeline's.
type Pipeline struct {
	movies     *repository.MovieRepository
	relations  *repository.RelationRepository
	assets     *repository.AssetRepository
	trailers   *repository.TrailerRepository
	libraries  *repository.LibraryRepository
	fetcher    *providers.Orchestrator
	resolver   *priority.Resolver
	prober     providers.VideoMetadataProvider
	downloader providers.VideoDownloader
	blobs      BlobStore
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	httpClient *http.Client

	preferredLanguage string
	maxResolution     int // height cap used for effective-resolution scoring
	probeDelay        time.Duration
	assetLimits       map[models.AssetType]int
}

// BlobStore is the slice of the content-addressed cache the pipeline needs.
type BlobStore interface {
	Put(data []byte, kind models.BlobKind, ext string) (string, error)
}

type Deps struct {
	Movies     *repository.MovieRepository
	Relations  *repository.RelationRepository
	Assets     *repository.AssetRepository
	Trailers   *repository.TrailerRepository
	Libraries  *repository.LibraryRepository
	Fetcher    *providers.Orchestrator
	Resolver   *priority.Resolver
	Prober     providers.VideoMetadataProvider
	Downloader providers.VideoDownloader
	Blobs      BlobStore
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger

	PreferredLanguage string
	MaxResolution     int
}

// defaultAssetLimits is the per-type selection cap.
var defaultAssetLimits = map[models.AssetType]int{
	models.AssetPoster:       1,
	models.AssetFanart:       3,
	models.AssetBanner:       1,
	models.AssetClearlogo:    1,
	models.AssetClearart:     1,
	models.AssetDiscart:      1,
	models.AssetLandscape:    1,
	models.AssetCharacterart: 1,
}

func NewPipeline(d Deps) *Pipeline {
	lang := d.PreferredLanguage
	if lang == "" {
		lang = "en"
	}
	maxRes := d.MaxResolution
	if maxRes == 0 {
		maxRes = 2160
	}
	return &Pipeline{
		movies:            d.Movies,
		relations:         d.Relations,
		assets:            d.Assets,
		trailers:          d.Trailers,
		libraries:         d.Libraries,
		fetcher:           d.Fetcher,
		resolver:          d.Resolver,
		prober:            d.Prober,
		downloader:        d.Downloader,
		blobs:             d.Blobs,
		metrics:           d.Metrics,
		logger:            d.Logger.With().Str("component", "enrich").Logger(),
		httpClient:        &http.Client{Timeout: 60 * time.Second},
		preferredLanguage: lang,
		maxResolution:     maxRes,
		probeDelay:        2 * time.Second,
		assetLimits:       defaultAssetLimits,
	}
}

// Run executes the enabled phases in order. Each phase is idempotent given
// unchanged inputs, so a retried job re-runs safely.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	movie, err := p.movies.GetByID(req.MovieID)
	if err != nil {
		return nil, err
	}
	if !movie.Monitored && !req.Manual {
		p.logger.Debug().Int64("movie_id", movie.ID).Msg("unmonitored, skipping")
		return &Result{Skipped: true}, nil
	}

	res := &Result{}

	var fetched *providers.FetchResult
	if req.FetchMetadata {
		fetched, err = p.fetchAndApply(ctx, movie, req, res)
		if err != nil {
			return nil, err
		}
		if fetched != nil && fetched.Data == nil {
			// Every provider failed permanently; nothing to enrich with.
			res.Skipped = true
			return res, nil
		}
	}

	if req.AnalyzeTrailer && fetched != nil && fetched.Data != nil {
		if err := p.analyzeTrailers(ctx, movie, fetched.Data.Videos, res); err != nil {
			return nil, err
		}
	}

	if req.SelectTrailer {
		if err := p.selectTrailer(movie, res); err != nil {
			return nil, err
		}
	}

	if req.DownloadTrailer {
		if err := p.downloadTrailer(ctx, movie, res); err != nil {
			return nil, err
		}
	}

	if req.SelectAssets {
		if err := p.selectAssets(ctx, movie, res); err != nil {
			return nil, err
		}
	}

	if err := p.movies.SetEnriched(movie.ID); err != nil {
		return nil, err
	}

	lib, err := p.libraries.GetByID(movie.LibraryID)
	if err == nil {
		res.PublishRequested = lib.AutoPublish
	}

	p.logger.Info().Int64("movie_id", movie.ID).Str("source", res.Source).
		Int("fields", len(res.FieldsWritten)).Int("assets", res.AssetsSelected).
		Bool("trailer", res.TrailerSelected).Msg("enrichment complete")
	return res, nil
}

// fetchAndApply is the provider-fetch phase: pull the merged record and copy
// it onto the movie row and its relations, honoring field locks.
func (p *Pipeline) fetchAndApply(ctx context.Context, movie *models.Movie, req Request, res *Result) (*providers.FetchResult, error) {
	ids := providers.ExternalIDs{TmdbID: movie.TmdbID, ImdbID: movie.ImdbID, TvdbID: movie.TvdbID}
	fetched, err := p.fetcher.FetchMovie(ctx, movie.ID, ids, req.ForceRefresh)
	if err != nil {
		return nil, err
	}
	res.Source = fetched.Source
	if fetched.Data == nil {
		return fetched, nil
	}
	data := fetched.Data

	update := &repository.MetadataUpdate{
		Title:         data.Title,
		OriginalTitle: data.OriginalTitle,
		Year:          data.Year,
		Plot:          data.Overview,
		Tagline:       data.Tagline,
		ContentRating: data.ContentRating,
		ReleaseDate:   data.ReleaseDate,
		TrailerURL:    data.Trailer,
		TmdbID:        data.ExternalIDs.TmdbID,
		ImdbID:        data.ExternalIDs.ImdbID,
		TvdbID:        data.ExternalIDs.TvdbID,
	}
	if title := pickTitle(movie, data); title != "" {
		if sort := deriveSortTitle(movie, title); sort != "" {
			update.SortTitle = &sort
		}
	}
	written, err := p.movies.ApplyMetadataWithLocks(movie, update)
	if err != nil {
		return nil, err
	}
	res.FieldsWritten = written

	for _, r := range data.Ratings {
		rating := models.MovieRating{MovieID: movie.ID, Source: r.Source, Value: r.Value, Votes: r.Votes, Max: int(r.Max)}
		if err := p.movies.SetRating(movie.ID, rating); err != nil {
			return nil, err
		}
	}

	if err := p.applyRelations(movie, data); err != nil {
		return nil, err
	}
	if err := p.populateAssetCandidates(movie, data.Images, req.Manual); err != nil {
		return nil, err
	}
	return fetched, nil
}

func (p *Pipeline) applyRelations(movie *models.Movie, data *providers.NormalizedMovie) error {
	for kind, names := range map[string][]string{
		"genre":   data.Genres,
		"studio":  data.Studios,
		"country": data.Countries,
		"tag":     data.Keywords,
	} {
		if len(names) == 0 {
			continue
		}
		if err := p.relations.ReplaceNamed(kind, movie.ID, names); err != nil {
			return err
		}
	}

	if actors := dedupeActors(data.Actors); len(actors) > 0 {
		links := make([]models.MovieActor, 0, len(actors))
		for i, a := range actors {
			person, err := p.relations.UpsertPerson(a.Name, a.TmdbID, a.ThumbURL)
			if err != nil {
				return err
			}
			role := ""
			if a.Character != nil {
				role = *a.Character
			}
			links = append(links, models.MovieActor{MovieID: movie.ID, PersonID: person.ID, Role: role, SortOrder: i})
		}
		if err := p.relations.ReplaceActors(movie.ID, links); err != nil {
			return err
		}
	}

	for table, people := range map[string][]providers.NormalizedPerson{
		"movie_directors": data.Directors,
		"movie_writers":   data.Writers,
	} {
		if len(people) == 0 {
			continue
		}
		ids := make([]int64, 0, len(people))
		seen := make(map[int64]bool)
		for _, person := range dedupeActors(people) {
			row, err := p.relations.UpsertPerson(person.Name, person.TmdbID, person.ThumbURL)
			if err != nil {
				return err
			}
			if !seen[row.ID] {
				seen[row.ID] = true
				ids = append(ids, row.ID)
			}
		}
		if err := p.relations.ReplaceCrew(table, movie.ID, ids); err != nil {
			return err
		}
	}
	return nil
}

// populateAssetCandidates records every provider image as a candidate row.
// Existing candidates (same movie, type, URL) are refreshed only in manual
// mode so background runs never clobber user state.
func (p *Pipeline) populateAssetCandidates(movie *models.Movie, images []providers.NormalizedImage, manual bool) error {
	for _, img := range images {
		assetType := models.AssetType(img.AssetType)
		if _, known := defaultAssetLimits[assetType]; !known {
			continue
		}
		c := &models.AssetCandidate{
			MovieID:      movie.ID,
			AssetType:    assetType,
			ProviderName: img.Provider,
			ProviderURL:  img.URL,
			Width:        img.Width,
			Height:       img.Height,
			Language:     img.Language,
			Votes:        img.VoteCount,
			Likes:        img.Likes,
		}
		if err := p.assets.Upsert(c, manual); err != nil {
			return err
		}
	}
	return nil
}

// dedupeActors removes duplicates by normalized name first, then by external
// person id.
func dedupeActors(in []providers.NormalizedPerson) []providers.NormalizedPerson {
	seenName := make(map[string]bool, len(in))
	seenID := make(map[int64]bool, len(in))
	out := make([]providers.NormalizedPerson, 0, len(in))
	for _, a := range in {
		key := repository.NormalizeName(a.Name)
		if key == "" || seenName[key] {
			continue
		}
		if a.TmdbID != nil {
			if seenID[*a.TmdbID] {
				continue
			}
			seenID[*a.TmdbID] = true
		}
		seenName[key] = true
		out = append(out, a)
	}
	return out
}

func pickTitle(movie *models.Movie, data *providers.NormalizedMovie) string {
	if data.Title != nil && !movie.IsFieldLocked("title") {
		return *data.Title
	}
	return movie.Title
}

// deriveSortTitle fills sort_title from the title with the leading article
// moved off, but only when the column is empty and unlocked.
func deriveSortTitle(movie *models.Movie, title string) string {
	if movie.IsFieldLocked("sort_title") {
		return ""
	}
	if movie.SortTitle != nil && *movie.SortTitle != "" {
		return ""
	}
	lower := strings.ToLower(title)
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(lower, article) && len(title) > len(article) {
			return title[len(article):]
		}
	}
	return title
}
