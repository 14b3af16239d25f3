package priority

import (
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/repository"
)

// Category selects which kind of data a priority list orders providers for.
type Category string

const (
	CategoryMetadata Category = "metadata"
	CategoryImage    Category = "image"
)

// forcedLocalFields are always read from the file itself. Providers cannot
// know these better than a probe of the actual media.
var forcedLocalFields = map[string]bool{
	"runtime":          true,
	"codec":            true,
	"file_size":        true,
	"video_resolution": true,
	"audio_channels":   true,
}

// balancedDefaults is the built-in preset, keyed by media type then category.
var balancedDefaults = map[string]map[Category][]string{
	"movies": {
		CategoryMetadata: {"imdb", "tmdb", "local"},
		CategoryImage:    {"fanart_tv", "tmdb", "local"},
	},
	"tv": {
		CategoryMetadata: {"tvdb", "tmdb", "local"},
		CategoryImage:    {"fanart_tv", "tvdb", "tmdb", "local"},
	},
	"music": {
		CategoryMetadata: {"musicbrainz", "theaudiodb", "local"},
		CategoryImage:    {"theaudiodb", "musicbrainz", "local"},
	},
}

// Resolver answers "which providers, in what order, for this field".
type Resolver struct {
	repo   *repository.PriorityRepository
	logger zerolog.Logger
}

func NewResolver(repo *repository.PriorityRepository, logger zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger.With().Str("component", "priority").Logger()}
}

// Resolve returns the ordered provider list for a (media type, category,
// field) triple. Forced-local fields short-circuit every preset. Custom
// entries win over defaults, with disabled providers filtered out; "local"
// is never filtered and always sorts last.
func (r *Resolver) Resolve(mediaType string, category Category, field string) ([]string, error) {
	if forcedLocalFields[field] {
		return []string{"local"}, nil
	}

	preset, err := r.repo.ActivePreset()
	if err != nil {
		return nil, err
	}
	disabled, err := r.repo.DisabledProviders()
	if err != nil {
		return nil, err
	}

	if preset == "custom" {
		fp, err := r.repo.Get("custom", string(category), field)
		if err == nil {
			return orderProviders(fp.Providers, disabled), nil
		}
		if !errkind.IsKind(err, errkind.KindNotFound) {
			return nil, err
		}
		// No custom entry for this key. Fall through to defaults.
	}

	byCategory, ok := balancedDefaults[mediaType]
	if !ok {
		byCategory = balancedDefaults["movies"]
	}
	return orderProviders(byCategory[category], disabled), nil
}

// ForcedLocal reports whether a field only ever resolves to the local file.
func ForcedLocal(field string) bool {
	return forcedLocalFields[field]
}

// orderProviders drops disabled providers and moves "local" to the tail.
func orderProviders(providers []string, disabled map[string]bool) []string {
	out := make([]string, 0, len(providers))
	hasLocal := false
	for _, p := range providers {
		if p == "local" {
			hasLocal = true
			continue
		}
		if disabled[p] {
			continue
		}
		out = append(out, p)
	}
	if hasLocal {
		out = append(out, "local")
	}
	return out
}
