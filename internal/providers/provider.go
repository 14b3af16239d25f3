package providers

import (
	"context"
	"time"
)

// ExternalIDs carries every cross-provider identifier known for a title.
type ExternalIDs struct {
	TmdbID *int64
	ImdbID *string
	TvdbID *int64
}

// NormalizedImage is one artwork candidate in provider-neutral shape.
type NormalizedImage struct {
	Provider   string
	ProviderID string
	AssetType  string
	URL        string
	Language   *string
	Width      int
	Height     int
	VoteCount  int
	Likes      int
}

// NormalizedVideo is a trailer or clip reference.
type NormalizedVideo struct {
	Provider   string
	ProviderID string
	URL        string
	Name       string
	Site       string
	Language   *string
	Official   bool
	Resolution int
}

// NormalizedPerson is a cast or crew credit.
type NormalizedPerson struct {
	Name      string
	Role      string
	Order     int
	ThumbURL  *string
	TmdbID    *int64
	ImdbID    *string
	Character *string
}

// NormalizedRating keeps ratings per source; they are never merged.
type NormalizedRating struct {
	Source string
	Value  float64
	Votes  int
	Max    float64
}

// NormalizedMovie is the common shape every metadata adapter produces.
// Scalars are pointers so the merge step can distinguish absent from zero.
type NormalizedMovie struct {
	Provider string

	Title         *string
	OriginalTitle *string
	SortTitle     *string
	Tagline       *string
	Overview      *string
	ReleaseDate   *time.Time
	Year          *int
	Runtime       *int
	ContentRating *string
	Trailer       *string

	ExternalIDs ExternalIDs

	Genres    []string
	Studios   []string
	Countries []string
	Keywords  []string

	Actors    []NormalizedPerson
	Directors []NormalizedPerson
	Writers   []NormalizedPerson

	Ratings []NormalizedRating
	Images  []NormalizedImage
	Videos  []NormalizedVideo
}

// MovieMetadataProvider fetches full metadata for one title.
type MovieMetadataProvider interface {
	Name() string
	FetchMovie(ctx context.Context, ids ExternalIDs) (*NormalizedMovie, error)
}

// ImageProvider fetches artwork candidates only.
type ImageProvider interface {
	Name() string
	FetchImages(ctx context.Context, ids ExternalIDs) ([]NormalizedImage, error)
}

// VideoMetadataProvider probes a video URL for playability and stream facts.
type VideoMetadataProvider interface {
	Probe(ctx context.Context, url string) (*VideoProbe, error)
}

// VideoDownloader fetches a remote video to a local file. VerifyEmbeddable
// is the cheap liveness check used to tell a gone video apart from a
// transient download failure.
type VideoDownloader interface {
	Download(ctx context.Context, url, destDir string) (string, error)
	VerifyEmbeddable(ctx context.Context, url string) (bool, error)
}

// VideoProbe is the result of probing a remote video.
type VideoProbe struct {
	Playable   bool
	Width      int
	Height     int
	Duration   time.Duration
	Language   *string
	Official   bool
	FailReason string
}
