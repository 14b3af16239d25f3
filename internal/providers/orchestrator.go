package providers

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/priority"
	"github.com/metarr/metarr/internal/repository"
)

// DefaultTTL is how long a merged provider record stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// FetchResult is the orchestrator's answer. Data is nil when every provider
// failed permanently, which callers treat as an enrichment no-op.
type FetchResult struct {
	Data      *NormalizedMovie `json:"data"`
	Source    string           `json:"source"` // cache, fresh or partial
	Providers []string         `json:"providers"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Orchestrator fans a fetch out across the resolver-ordered providers and
// merges the responses into one cached record per movie.
type Orchestrator struct {
	metadata map[string]MovieMetadataProvider
	images   map[string]ImageProvider
	resolver *priority.Resolver
	cache    *repository.ProviderCacheRepository
	metrics  *metrics.Metrics
	ttl      time.Duration
	logger   zerolog.Logger
}

func NewOrchestrator(resolver *priority.Resolver, cache *repository.ProviderCacheRepository, m *metrics.Metrics, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		metadata: make(map[string]MovieMetadataProvider),
		images:   make(map[string]ImageProvider),
		resolver: resolver,
		cache:    cache,
		metrics:  m,
		ttl:      DefaultTTL,
		logger:   logger.With().Str("component", "providers").Logger(),
	}
}

func (o *Orchestrator) RegisterMetadata(p MovieMetadataProvider) { o.metadata[p.Name()] = p }
func (o *Orchestrator) RegisterImages(p ImageProvider)           { o.images[p.Name()] = p }

// FetchMovie returns the merged record for a movie, serving from cache when
// fresh unless forceRefresh is set.
func (o *Orchestrator) FetchMovie(ctx context.Context, movieID int64, ids ExternalIDs, forceRefresh bool) (*FetchResult, error) {
	if !forceRefresh {
		if rec, err := o.cache.Get(movieID); err == nil && time.Since(rec.FetchedAt) < o.ttl {
			var data NormalizedMovie
			if err := json.Unmarshal(rec.Payload, &data); err == nil {
				o.metrics.CacheHits.Inc()
				return &FetchResult{Data: &data, Source: "cache", Providers: rec.Providers, FetchedAt: rec.FetchedAt}, nil
			}
			// Undecodable payload; fall through and refetch.
		}
	}
	o.metrics.CacheMisses.Inc()

	order, err := o.resolver.Resolve("movies", priority.CategoryMetadata, "title")
	if err != nil {
		return nil, err
	}
	imageOrder, err := o.resolver.Resolve("movies", priority.CategoryImage, "poster")
	if err != nil {
		return nil, err
	}

	var (
		responses []*NormalizedMovie
		succeeded []string
		failures  []error
	)
	for _, name := range order {
		p, ok := o.metadata[name]
		if !ok {
			continue
		}
		o.metrics.ProviderCalls.WithLabelValues(name).Inc()
		resp, err := p.FetchMovie(ctx, ids)
		if err != nil {
			o.metrics.ProviderErrors.WithLabelValues(name, string(errkind.KindOf(err))).Inc()
			o.logger.Warn().Err(err).Str("provider", name).Int64("movie_id", movieID).Msg("metadata fetch failed")
			failures = append(failures, err)
			continue
		}
		responses = append(responses, resp)
		succeeded = append(succeeded, name)
	}

	// Image-only providers contribute artwork that metadata providers lack.
	for _, name := range imageOrder {
		p, ok := o.images[name]
		if !ok || contains(succeeded, name) {
			continue
		}
		o.metrics.ProviderCalls.WithLabelValues(name).Inc()
		imgs, err := p.FetchImages(ctx, ids)
		if err != nil {
			o.metrics.ProviderErrors.WithLabelValues(name, string(errkind.KindOf(err))).Inc()
			o.logger.Warn().Err(err).Str("provider", name).Int64("movie_id", movieID).Msg("image fetch failed")
			failures = append(failures, err)
			continue
		}
		responses = append(responses, &NormalizedMovie{Provider: name, Images: imgs})
		succeeded = append(succeeded, name)
	}

	if len(responses) == 0 {
		for _, f := range failures {
			if errkind.IsRetryable(f) {
				wrapped := errkind.Wrap(errkind.KindUnavailable, "all providers failed", joinErrors(failures))
				if hint, ok := errkind.RetryAfterOf(f); ok {
					wrapped = wrapped.WithRetryAfter(hint)
				}
				return nil, wrapped
			}
		}
		// Only permanent failures: report an empty result, not an error.
		return &FetchResult{Source: "fresh", FetchedAt: time.Now()}, nil
	}

	merged := Merge(responses)
	source := "fresh"
	if len(failures) > 0 {
		source = "partial"
	}

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindSchemaMismatch, "encode merged record", err)
	}
	if err := o.cache.Put(movieID, payload, succeeded); err != nil {
		return nil, err
	}
	return &FetchResult{Data: merged, Source: source, Providers: succeeded, FetchedAt: time.Now()}, nil
}

// Merge folds provider responses, in priority order, into one record.
// Scalars take the first non-nil value; sets union with de-duplication;
// ratings stay per-source.
func Merge(responses []*NormalizedMovie) *NormalizedMovie {
	out := &NormalizedMovie{Provider: "merged"}
	seenImages := make(map[string]bool)
	seenVideos := make(map[string]bool)

	for _, r := range responses {
		mergeScalar(&out.Title, r.Title)
		mergeScalar(&out.OriginalTitle, r.OriginalTitle)
		mergeScalar(&out.SortTitle, r.SortTitle)
		mergeScalar(&out.Tagline, r.Tagline)
		mergeScalar(&out.Overview, r.Overview)
		mergeScalar(&out.ContentRating, r.ContentRating)
		mergeScalar(&out.Trailer, r.Trailer)
		if out.ReleaseDate == nil {
			out.ReleaseDate = r.ReleaseDate
		}
		if out.Year == nil {
			out.Year = r.Year
		}
		if out.Runtime == nil {
			out.Runtime = r.Runtime
		}
		if out.ExternalIDs.TmdbID == nil {
			out.ExternalIDs.TmdbID = r.ExternalIDs.TmdbID
		}
		if out.ExternalIDs.ImdbID == nil {
			out.ExternalIDs.ImdbID = r.ExternalIDs.ImdbID
		}
		if out.ExternalIDs.TvdbID == nil {
			out.ExternalIDs.TvdbID = r.ExternalIDs.TvdbID
		}

		out.Genres = unionStrings(out.Genres, r.Genres)
		out.Studios = unionStrings(out.Studios, r.Studios)
		out.Countries = unionStrings(out.Countries, r.Countries)
		out.Keywords = unionStrings(out.Keywords, r.Keywords)
		out.Ratings = append(out.Ratings, r.Ratings...)

		for _, img := range r.Images {
			key := img.Provider + "|" + img.ProviderID
			if seenImages[key] {
				continue
			}
			seenImages[key] = true
			out.Images = append(out.Images, img)
		}
		for _, v := range r.Videos {
			key := v.Provider + "|" + v.ProviderID
			if seenVideos[key] {
				continue
			}
			seenVideos[key] = true
			out.Videos = append(out.Videos, v)
		}
		// People from the highest-priority provider that has any win whole.
		if len(out.Actors) == 0 {
			out.Actors = r.Actors
		}
		if len(out.Directors) == 0 {
			out.Directors = r.Directors
		}
		if len(out.Writers) == 0 {
			out.Writers = r.Writers
		}
	}
	return out
}

func mergeScalar(dst **string, src *string) {
	if *dst == nil && src != nil {
		*dst = src
	}
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			a = append(a, s)
		}
	}
	return a
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}
