package playersync

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/providers"
	"github.com/metarr/metarr/internal/repository"
)

const (
	pollInterval = 2 * time.Second
	scanWaitCap  = 60 * time.Second
	refreshCap   = 30 * time.Second
	fullScanCap  = 120 * time.Second
)

// Syncer drives external players after publish and delete events. Every
// mutation follows action, verification, completion; nothing is fire and
// forget.
type Syncer struct {
	players *repository.PlayerRepository
	dial    PlayerDialer
	logger  zerolog.Logger
}

func NewSyncer(players *repository.PlayerRepository, dial PlayerDialer, logger zerolog.Logger) *Syncer {
	if dial == nil {
		dial = NewKodiPlayer
	}
	return &Syncer{
		players: players,
		dial:    dial,
		logger:  logger.With().Str("component", "playersync").Logger(),
	}
}

// NotifyPublished handles a newly published or re-published movie for one
// group. Instances are tried in id order; the first success completes the
// scenario.
func (s *Syncer) NotifyPublished(ctx context.Context, group *models.PlayerGroup, movie *models.Movie, republished bool) error {
	instances, err := s.players.ListInstances(group.ID)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return nil
	}

	var lastErr error
	for _, inst := range instances {
		player := s.dial(inst.BaseURL, inst.Token)
		log := s.logger.With().Str("instance", inst.Name).Int64("movie_id", movie.ID).Logger()

		if group.SkipActive {
			playing, err := player.HasActivePlayback(ctx)
			if err != nil {
				lastErr = err
				continue
			}
			if playing {
				log.Info().Msg("instance is playing, skipping")
				return nil
			}
		}

		if republished {
			err = s.refreshExisting(ctx, player, group, movie)
		} else {
			err = s.scanNew(ctx, player, group, movie)
		}
		if err == nil {
			log.Info().Bool("republished", republished).Msg("player updated")
			return nil
		}
		lastErr = err
		log.Warn().Err(err).Msg("instance failed, trying next")
	}
	return lastErr
}

// NotifyDeleted removes the movie from every instance that knows it.
func (s *Syncer) NotifyDeleted(ctx context.Context, group *models.PlayerGroup, movie *models.Movie) error {
	instances, err := s.players.ListInstances(group.ID)
	if err != nil {
		return err
	}
	var lastErr error
	for _, inst := range instances {
		player := s.dial(inst.BaseURL, inst.Token)
		item, err := player.Find(ctx, s.query(group, movie))
		if errkind.IsKind(err, errkind.KindNotFound) {
			continue
		}
		if err != nil {
			lastErr = err
			continue
		}
		if err := player.Remove(ctx, item.PlayerID); err != nil {
			lastErr = err
			continue
		}
		// Verify the removal took.
		if _, err := player.Find(ctx, s.query(group, movie)); !errkind.IsKind(err, errkind.KindNotFound) {
			lastErr = errkind.Newf(errkind.KindInvalidState, "movie %d still present after remove", movie.ID)
		}
	}
	return lastErr
}

// scanNew triggers a directory-scoped scan, waits for it, and verifies the
// movie landed. A miss falls back to a full-library scan with a longer cap.
func (s *Syncer) scanNew(ctx context.Context, player ExternalPlayer, group *models.PlayerGroup, movie *models.Movie) error {
	dir := group.MapPath(filepath.Dir(movie.FilePath))
	if err := player.Scan(ctx, dir); err != nil {
		return err
	}
	if err := s.waitForScan(ctx, player, scanWaitCap); err != nil {
		return err
	}
	if _, err := player.Find(ctx, s.query(group, movie)); err == nil {
		return nil
	} else if !errkind.IsKind(err, errkind.KindNotFound) {
		return err
	}

	// Directory scan missed it; a full scan is the last resort.
	if err := player.Scan(ctx, ""); err != nil {
		return err
	}
	if err := s.waitForScan(ctx, player, fullScanCap); err != nil {
		return err
	}
	_, err := player.Find(ctx, s.query(group, movie))
	return err
}

// refreshExisting refreshes the player's record in place. An unknown movie
// degrades to the new-publish scan path.
func (s *Syncer) refreshExisting(ctx context.Context, player ExternalPlayer, group *models.PlayerGroup, movie *models.Movie) error {
	item, err := player.Find(ctx, s.query(group, movie))
	if errkind.IsKind(err, errkind.KindNotFound) {
		return s.scanNew(ctx, player, group, movie)
	}
	if err != nil {
		return err
	}
	if err := player.Refresh(ctx, item.PlayerID); err != nil {
		return err
	}
	return s.waitForScan(ctx, player, refreshCap)
}

// waitForScan polls the scanning flag until it clears or the cap expires.
func (s *Syncer) waitForScan(ctx context.Context, player ExternalPlayer, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for {
		scanning, err := player.IsScanning(ctx)
		if err != nil {
			return err
		}
		if !scanning {
			return nil
		}
		if time.Now().After(deadline) {
			return errkind.Newf(errkind.KindTimeout, "player scan still running after %s", limit)
		}
		select {
		case <-ctx.Done():
			return errkind.Wrap(errkind.KindTimeout, "player sync cancelled", ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}

func (s *Syncer) query(group *models.PlayerGroup, movie *models.Movie) FindQuery {
	q := FindQuery{
		IDs:   providers.ExternalIDs{TmdbID: movie.TmdbID, ImdbID: movie.ImdbID, TvdbID: movie.TvdbID},
		Path:  group.MapPath(filepath.Dir(movie.FilePath)),
		Title: movie.Title,
	}
	if movie.Year != nil {
		q.Year = *movie.Year
	}
	return q
}
