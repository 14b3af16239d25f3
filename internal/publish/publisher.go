package publish

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/metrics"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// assetSuffixes maps asset types to the canonical filename suffix players
// expect next to the media file.
var assetSuffixes = map[models.AssetType]string{
	models.AssetPoster:       "-poster",
	models.AssetFanart:       "-fanart",
	models.AssetBanner:       "-banner",
	models.AssetClearlogo:    "-clearlogo",
	models.AssetClearart:     "-clearart",
	models.AssetDiscart:      "-disc",
	models.AssetLandscape:    "-landscape",
	models.AssetCharacterart: "-characterart",
	models.AssetTrailer:      "-trailer",
}

var basenameSanitizer = regexp.MustCompile(`[^A-Za-z0-9 _\-().]`)

// Phases selects which publish steps run. The zero value publishes nothing.
type Phases struct {
	PublishAssets   bool
	PublishActors   bool
	PublishTrailers bool
	GenerateNFO     bool
}

// AllPhases enables every publish step.
func AllPhases() Phases {
	return Phases{PublishAssets: true, PublishActors: true, PublishTrailers: true, GenerateNFO: true}
}

// Result counts what was deployed; per-asset failures accumulate in Errors
// without aborting the run.
type Result struct {
	AssetsPublished int
	ActorsPublished int
	NFOWritten      bool
	NFOHash         string
	Errors          []error
}

// BlobStore is the slice of the content-addressed cache the publisher needs.
type BlobStore interface {
	Put(data []byte, kind models.BlobKind, ext string) (string, error)
	Path(hash string) (string, error)
}

// Publisher deploys selected assets and the generated sidecar into the
// library directory next to the media file.
type Publisher struct {
	movies     *repository.MovieRepository
	relations  *repository.RelationRepository
	assets     *repository.AssetRepository
	libraries  *repository.LibraryRepository
	blobs      BlobStore
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	httpClient *http.Client
}

func NewPublisher(movies *repository.MovieRepository, relations *repository.RelationRepository,
	assets *repository.AssetRepository, libraries *repository.LibraryRepository,
	blobs BlobStore, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{
		movies:     movies,
		relations:  relations,
		assets:     assets,
		libraries:  libraries,
		blobs:      blobs,
		metrics:    m,
		logger:     logger.With().Str("component", "publish").Logger(),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Run publishes one movie. Per-asset failures are collected rather than
// aborting the run; the state flip to published requires a clean run.
func (p *Publisher) Run(ctx context.Context, movieID int64, phases Phases) (*Result, error) {
	movie, err := p.movies.GetByID(movieID)
	if err != nil {
		return nil, err
	}
	libDir := filepath.Dir(movie.FilePath)
	basename := SanitizeBasename(movie.FilePath)
	res := &Result{}

	if phases.PublishAssets {
		p.publishAssets(movie, libDir, basename, phases.PublishTrailers, res)
	}
	if phases.PublishActors {
		p.publishActors(ctx, movie, libDir, res)
	}
	if phases.GenerateNFO {
		if err := p.publishNFO(movie, libDir, basename, res); err != nil {
			return res, err
		}
	}

	// A run with per-asset failures has not earned the published state; the
	// retried job finishes the remainder and flips it then.
	if len(res.Errors) == 0 {
		if err := p.movies.UpdateState(movie.ID, models.StatePublished); err != nil {
			return res, err
		}
	}
	p.logger.Info().Int64("movie_id", movie.ID).Int("assets", res.AssetsPublished).
		Bool("nfo", res.NFOWritten).Int("errors", len(res.Errors)).Msg("publish complete")
	return res, nil
}

func (p *Publisher) publishAssets(movie *models.Movie, libDir, basename string, includeTrailers bool, res *Result) {
	selected, err := p.assets.ListSelected(movie.ID)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	for _, a := range selected {
		if a.AssetType == models.AssetTrailer && !includeTrailers {
			continue
		}
		if a.ContentHash == nil {
			// Trailer candidates that were never downloaded stay URL-only.
			continue
		}
		src, err := p.blobs.Path(*a.ContentHash)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			res.Errors = append(res.Errors, errkind.Wrap(errkind.KindReadFailed, "read cached blob", err))
			continue
		}
		target := filepath.Join(libDir, basename+AssetSuffix(a.AssetType, a.Rank)+filepath.Ext(src))
		// An unchanged target is not a copy; re-publishing a movie whose
		// assets are already on disk must report zero writes.
		if existing, rerr := os.ReadFile(target); rerr == nil && bytes.Equal(existing, data) {
			continue
		}
		if err := writeAtomic(target, data); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		p.metrics.AssetsPublished.Inc()
		res.AssetsPublished++
	}
}

// publishActors rebuilds <library>/.actors/ from scratch each run so removed
// cast members disappear from disk.
func (p *Publisher) publishActors(ctx context.Context, movie *models.Movie, libDir string, res *Result) {
	actors, err := p.relations.ListActors(movie.ID)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	actorsDir := filepath.Join(libDir, ".actors")
	if err := os.RemoveAll(actorsDir); err != nil {
		res.Errors = append(res.Errors, errkind.Wrap(errkind.KindWriteFailed, "clear actors dir", err))
		return
	}
	if err := os.MkdirAll(actorsDir, 0o755); err != nil {
		res.Errors = append(res.Errors, errkind.Wrap(errkind.KindWriteFailed, "create actors dir", err))
		return
	}
	for _, a := range actors {
		hash := a.Person.ThumbHash
		if hash == nil && a.Person.ThumbURL != nil {
			h, err := p.cacheActorImage(ctx, a.Person)
			if err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			hash = &h
		}
		if hash == nil {
			continue
		}
		src, err := p.blobs.Path(*hash)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		name := strings.ReplaceAll(SanitizeName(a.Person.Name), " ", "_") + ".jpg"
		if err := copyAtomic(src, filepath.Join(actorsDir, name)); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.ActorsPublished++
	}
}

func (p *Publisher) cacheActorImage(ctx context.Context, person models.Person) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *person.ThumbURL, nil)
	if err != nil {
		return "", errkind.Wrap(errkind.KindInputInvalid, "build actor image request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", errkind.Classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errkind.Newf(errkind.KindUnavailable, "actor image http %d", resp.StatusCode).WithStatus(resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return "", errkind.Wrap(errkind.KindReadFailed, "read actor image", err)
	}
	hash, err := p.blobs.Put(data, models.BlobImage, ".jpg")
	if err != nil {
		return "", err
	}
	if err := p.relations.SetPersonThumbHash(person.ID, hash); err != nil {
		return "", err
	}
	return hash, nil
}

func (p *Publisher) publishNFO(movie *models.Movie, libDir, basename string, res *Result) error {
	in := NFOInput{Movie: movie}
	var err error
	if in.Genres, err = p.relations.ListNamed("genre", movie.ID); err != nil {
		return err
	}
	if in.Studios, err = p.relations.ListNamed("studio", movie.ID); err != nil {
		return err
	}
	if in.Countries, err = p.relations.ListNamed("country", movie.ID); err != nil {
		return err
	}
	if in.Tags, err = p.relations.ListNamed("tag", movie.ID); err != nil {
		return err
	}
	if in.Actors, err = p.relations.ListActors(movie.ID); err != nil {
		return err
	}
	if in.Directors, err = p.relations.ListCrew("movie_directors", movie.ID); err != nil {
		return err
	}
	if in.Writers, err = p.relations.ListCrew("movie_writers", movie.ID); err != nil {
		return err
	}
	if in.Ratings, err = p.movies.ListRatings(movie.ID); err != nil {
		return err
	}

	data, err := GenerateNFO(in)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if _, err := p.blobs.Put(data, models.BlobText, ".nfo"); err != nil {
		return err
	}
	target := filepath.Join(libDir, basename+".nfo")
	if err := writeAtomic(target, data); err != nil {
		return err
	}
	if err := p.movies.SetPublished(movie.ID, hash); err != nil {
		return err
	}
	p.metrics.NFOsPublished.Inc()
	res.NFOWritten = true
	res.NFOHash = hash
	return nil
}

// AssetSuffix returns the filename suffix for an asset type and rank.
// Rank 1 uses the bare suffix; rank n >= 2 appends n-1 (-poster1, -poster2).
func AssetSuffix(assetType models.AssetType, rank int) string {
	suffix, ok := assetSuffixes[assetType]
	if !ok {
		suffix = "-" + string(assetType)
	}
	if rank >= 2 {
		suffix += strconv.Itoa(rank - 1)
	}
	return suffix
}

// SanitizeBasename takes the filename portion of a path, drops the media
// extension, and scrubs it for portability.
func SanitizeBasename(mediaPath string) string {
	base := filepath.Base(mediaPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return SanitizeName(base)
}

// SanitizeName keeps [A-Za-z0-9 _-().], replaces everything else with an
// underscore and strips path traversal sequences.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	return basenameSanitizer.ReplaceAllString(name, "_")
}

func copyAtomic(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errkind.Wrap(errkind.KindReadFailed, "read cached blob", err)
	}
	return writeAtomic(dst, data)
}

func writeAtomic(dst string, data []byte) error {
	pending, err := renameio.NewPendingFile(dst)
	if err != nil {
		return errkind.Wrap(errkind.KindWriteFailed, "create pending file", err)
	}
	defer pending.Cleanup()
	if _, err := pending.Write(data); err != nil {
		return errkind.Wrap(errkind.KindWriteFailed, "write file", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errkind.Wrap(errkind.KindWriteFailed, "commit file", err)
	}
	return nil
}
