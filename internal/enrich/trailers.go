package enrich

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/providers"
)

// analyzeTrailers is the trailer-analysis phase: probe every provider video
// that has not been analyzed yet. Probes are paced 2 seconds apart so the
// video sites never see a burst.
func (p *Pipeline) analyzeTrailers(ctx context.Context, movie *models.Movie, videos []providers.NormalizedVideo, res *Result) error {
	first := true
	for _, v := range videos {
		url, err := providers.CanonicalWatchURL(v.Site, v.ProviderID)
		if err != nil {
			continue
		}
		candidate := &models.TrailerCandidate{
			MovieID:  movie.ID,
			URL:      url,
			Site:     v.Site,
			Title:    v.Name,
			Official: v.Official,
			Language: v.Language,
		}
		if err := p.trailers.Upsert(candidate); err != nil {
			return err
		}
		if candidate.Analyzed {
			continue
		}
		existing, err := p.trailers.GetByURL(movie.ID, url)
		if err == nil && existing.FailureReason != nil {
			switch *existing.FailureReason {
			case models.TrailerUnavailable:
				continue
			case models.TrailerRateLimited:
				if existing.RetryAfter != nil && existing.RetryAfter.After(time.Now()) {
					continue
				}
			}
		}

		if !first {
			select {
			case <-ctx.Done():
				return errkind.Wrap(errkind.KindTimeout, "trailer analysis cancelled", ctx.Err())
			case <-time.After(p.probeDelay):
			}
		}
		first = false

		probe, err := p.prober.Probe(ctx, url)
		switch {
		case err != nil && errkind.IsKind(err, errkind.KindRateLimit):
			hint, ok := errkind.RetryAfterOf(err)
			if !ok {
				hint = time.Hour
			}
			retryAt := time.Now().Add(hint)
			if ferr := p.trailers.MarkFailed(candidate.ID, models.TrailerRateLimited, &retryAt); ferr != nil {
				return ferr
			}
		case err != nil:
			if ferr := p.trailers.MarkFailed(candidate.ID, models.TrailerDownloadError, nil); ferr != nil {
				return ferr
			}
		case !probe.Playable:
			if ferr := p.trailers.MarkFailed(candidate.ID, models.TrailerUnavailable, nil); ferr != nil {
				return ferr
			}
		default:
			duration := int(probe.Duration / time.Second)
			if ferr := p.trailers.MarkAnalyzed(candidate.ID, probe.Width, probe.Height, duration); ferr != nil {
				return ferr
			}
			res.TrailersAnalyzed++
		}
	}
	return nil
}

// selectTrailer is the trailer-selection phase: score analyzed candidates
// and atomically promote the winner. A locked trailer field skips the phase.
func (p *Pipeline) selectTrailer(movie *models.Movie, res *Result) error {
	if movie.IsFieldLocked("trailer") {
		return nil
	}
	candidates, err := p.trailers.ListAnalyzed(movie.ID)
	if err != nil {
		return err
	}

	var best *models.TrailerCandidate
	var bestScore float64
	for _, c := range candidates {
		if c.FailureReason != nil && *c.FailureReason == models.TrailerUnavailable {
			continue
		}
		score := p.scoreTrailer(c)
		if best == nil || score > bestScore {
			best = c
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	if err := p.trailers.Select(movie.ID, best.ID, bestScore); err != nil {
		return err
	}
	res.TrailerSelected = true
	return nil
}

// downloadTrailer is the trailer-download phase: fetch the selected trailer
// into the blob cache and promote it as the movie's trailer asset. A trailer
// already hashed for the same URL makes the phase a no-op, so re-runs never
// hit the video site again.
func (p *Pipeline) downloadTrailer(ctx context.Context, movie *models.Movie, res *Result) error {
	best, err := p.trailers.GetSelected(movie.ID)
	if err != nil {
		if errkind.IsKind(err, errkind.KindNotFound) {
			return nil
		}
		return err
	}
	if best.RetryAfter != nil && best.RetryAfter.After(time.Now()) {
		return nil
	}

	existing, err := p.assets.ListByType(movie.ID, models.AssetTrailer)
	if err != nil {
		return err
	}
	for _, a := range existing {
		if a.ProviderURL == best.URL && a.ContentHash != nil {
			return nil
		}
	}

	dir, err := os.MkdirTemp("", "trailer-*")
	if err != nil {
		return errkind.Wrap(errkind.KindWriteFailed, "create download dir", err)
	}
	defer os.RemoveAll(dir)

	file, err := p.downloader.Download(ctx, best.URL, dir)
	if err != nil {
		return p.recordDownloadFailure(ctx, best, err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return errkind.Wrap(errkind.KindReadFailed, "read downloaded trailer", err)
	}
	hash, err := p.blobs.Put(data, models.BlobVideo, filepath.Ext(file))
	if err != nil {
		return err
	}
	p.metrics.BlobsWritten.Inc()

	c := &models.AssetCandidate{
		MovieID:      movie.ID,
		AssetType:    models.AssetTrailer,
		ProviderName: best.Site,
		ProviderURL:  best.URL,
		Width:        best.Width,
		Height:       best.Height,
		Duration:     best.Duration,
		Language:     best.Language,
		Score:        best.Score,
	}
	if err := p.assets.Upsert(c, true); err != nil {
		return err
	}
	if err := p.assets.SetContentHash(c.ID, hash, best.Width, best.Height); err != nil {
		return err
	}
	c.ContentHash = &hash
	if err := p.assets.Select(movie.ID, models.AssetTrailer, []*models.AssetCandidate{c}); err != nil {
		return err
	}
	res.TrailerDownloaded = true
	return nil
}

// recordDownloadFailure classifies a failed download. The oEmbed check tells
// a gone video apart from a transient failure; only a video the check
// confirms gone is marked unavailable, which excludes it permanently.
func (p *Pipeline) recordDownloadFailure(ctx context.Context, best *models.TrailerCandidate, cause error) error {
	p.logger.Warn().Err(cause).Str("url", best.URL).Msg("trailer download failed")
	if errkind.IsKind(cause, errkind.KindRateLimit) {
		hint, ok := errkind.RetryAfterOf(cause)
		if !ok {
			hint = time.Hour
		}
		retryAt := time.Now().Add(hint)
		return p.trailers.MarkFailed(best.ID, models.TrailerRateLimited, &retryAt)
	}
	embeddable, verr := p.downloader.VerifyEmbeddable(ctx, best.URL)
	if verr == nil && !embeddable {
		return p.trailers.MarkFailed(best.ID, models.TrailerUnavailable, nil)
	}
	return p.trailers.MarkFailed(best.ID, models.TrailerDownloadError, nil)
}

// scoreTrailer: 100 for an official upload, +50 for the preferred language,
// plus a resolution tier bonus. The height is clamped to the configured
// maximum so an 8K upload scores no better than the cap.
func (p *Pipeline) scoreTrailer(c *models.TrailerCandidate) float64 {
	score := 0.0
	if c.Official {
		score += 100
	}
	if c.Language != nil && *c.Language == p.preferredLanguage {
		score += 50
	}
	height := c.Height
	if height > p.maxResolution {
		height = p.maxResolution
	}
	switch {
	case height >= 2160:
		score += 40
	case height >= 1080:
		score += 30
	case height >= 720:
		score += 20
	case height >= 480:
		score += 10
	}
	return score
}
