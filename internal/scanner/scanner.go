package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// Scanner walks library directories, classifies files and upserts movie
// rows. Enrichment work for the discoveries is enqueued by the caller.
type Scanner struct {
	movies *repository.MovieRepository
	assets *repository.AssetRepository
	logger zerolog.Logger
}

func New(movies *repository.MovieRepository, assets *repository.AssetRepository, logger zerolog.Logger) *Scanner {
	return &Scanner{
		movies: movies,
		assets: assets,
		logger: logger.With().Str("component", "scanner").Logger(),
	}
}

// Result summarizes one library walk.
type Result struct {
	FilesSeen   int
	Created     int
	Updated     int
	Skipped     int
	NewMovieIDs []int64 // movies that need enrichment
}

// ScanLibrary walks the library root. Unreadable subtrees are logged and
// skipped so one bad mount never aborts the whole walk.
func (s *Scanner) ScanLibrary(ctx context.Context, lib *models.Library) (*Result, error) {
	res := &Result{}
	err := filepath.WalkDir(lib.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("walk error, skipping subtree")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			// Hidden directories hold our own published artifacts.
			if strings.HasPrefix(d.Name(), ".") && path != lib.Path {
				return fs.SkipDir
			}
			return nil
		}
		res.FilesSeen++
		if Classify(path) != KindMedia {
			return nil
		}
		return s.ingestMedia(lib, path, res)
	})
	if err != nil {
		return res, errkind.Wrap(errkind.KindReadFailed, "walk library", err)
	}
	s.logger.Info().Int64("library_id", lib.ID).Int("seen", res.FilesSeen).
		Int("created", res.Created).Int("updated", res.Updated).Msg("scan complete")
	return res, nil
}

// ScanFile ingests one media path, for webhook-driven single-file scans.
// Returns the movie and whether it was newly created.
func (s *Scanner) ScanFile(lib *models.Library, path string) (*models.Movie, bool, error) {
	if Classify(path) != KindMedia {
		return nil, false, errkind.Newf(errkind.KindInputInvalid, "not a media file: %s", path)
	}
	res := &Result{}
	if err := s.ingestMedia(lib, path, res); err != nil {
		return nil, false, err
	}
	movie, err := s.movies.GetByPath(path)
	if err != nil {
		return nil, false, err
	}
	return movie, res.Created > 0, nil
}

func (s *Scanner) ingestMedia(lib *models.Library, path string, res *Result) error {
	rejected, err := s.assets.IsPathRejected(path)
	if err != nil {
		return err
	}
	if rejected {
		res.Skipped++
		return nil
	}

	movie, err := s.movies.GetByPath(path)
	switch {
	case err == nil:
		if err := s.attachSidecar(movie); err != nil {
			return err
		}
		res.Updated++
		return nil
	case errkind.IsKind(err, errkind.KindNotFound):
		// New discovery.
	default:
		return err
	}

	title, year := ParseTitleYear(path)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	movie = &models.Movie{
		LibraryID: lib.ID,
		FilePath:  path,
		Title:     title,
		Year:      year,
		State:     models.StatePendingMetadata,
		Monitored: true,
	}
	if err := s.movies.Create(movie); err != nil {
		if errkind.IsKind(err, errkind.KindDuplicateKey) {
			res.Skipped++
			return nil
		}
		return err
	}
	if err := s.attachSidecar(movie); err != nil {
		return err
	}
	res.Created++
	res.NewMovieIDs = append(res.NewMovieIDs, movie.ID)
	return nil
}

// attachSidecar folds an adjacent .nfo file into the entity row, honoring
// field locks, and stamps nfo_parsed_at.
func (s *Scanner) attachSidecar(movie *models.Movie) error {
	nfoPath := strings.TrimSuffix(movie.FilePath, filepath.Ext(movie.FilePath)) + ".nfo"
	if _, err := os.Stat(nfoPath); err != nil {
		return nil
	}
	parsed, err := ParseNFO(nfoPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", nfoPath).Msg("unreadable sidecar, ignoring")
		return nil
	}
	if _, err := s.movies.ApplyMetadataWithLocks(movie, &parsed.Update); err != nil {
		return err
	}
	if parsed.LockAll && !movie.IsFieldLocked("*") {
		if err := s.movies.SetLockedFields(movie.ID, append(movie.LockedFields, "*")); err != nil {
			return err
		}
	}
	if parsed.HasIDs && movie.State == models.StatePendingMetadata {
		if err := s.movies.UpdateState(movie.ID, models.StateIdentified); err != nil {
			return err
		}
	}
	return s.movies.SetNfoParsed(movie.ID)
}
