package enrich

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/metarr/metarr/internal/blobcache"
	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/priority"
)

// selectAssets is the asset-scoring phase: per type, score candidates,
// download the winners into the blob cache, drop near-duplicate images, and
// atomically update the selection.
func (p *Pipeline) selectAssets(ctx context.Context, movie *models.Movie, res *Result) error {
	for assetType, limit := range p.assetLimits {
		if movie.IsFieldLocked(string(assetType)) {
			continue
		}
		// Provider order is per asset type: a custom preset may rank fanart
		// sources differently from poster sources.
		order, err := p.resolver.Resolve("movies", priority.CategoryImage, string(assetType))
		if err != nil {
			return err
		}
		providerRank := make(map[string]int, len(order))
		for i, name := range order {
			providerRank[name] = len(order) - i
		}
		all, err := p.assets.ListByType(movie.ID, assetType)
		if err != nil {
			return err
		}
		candidates := all[:0]
		for _, c := range all {
			rejected, err := p.assets.IsRejected(movie.ID, c.ProviderURL)
			if err != nil {
				return err
			}
			if !rejected {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		for _, c := range candidates {
			c.Score = scoreAsset(c, providerRank, p.preferredLanguage)
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})

		selected, err := p.pickAndFetch(ctx, candidates, limit)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			continue
		}
		if err := p.assets.Select(movie.ID, assetType, selected); err != nil {
			return err
		}
		res.AssetsSelected += len(selected)
	}
	return nil
}

// pickAndFetch walks candidates in score order, downloading each until limit
// selections exist. A candidate whose image is a near-duplicate of one
// already picked is skipped; a failed download skips the candidate rather
// than failing the phase.
func (p *Pipeline) pickAndFetch(ctx context.Context, candidates []*models.AssetCandidate, limit int) ([]*models.AssetCandidate, error) {
	var selected []*models.AssetCandidate
	var pickedHashes []int64

	for _, c := range candidates {
		if len(selected) >= limit {
			break
		}
		if c.ContentHash == nil {
			data, err := p.downloadImage(ctx, c.ProviderURL)
			if err != nil {
				p.logger.Warn().Err(err).Str("url", c.ProviderURL).Msg("asset download failed")
				if errkind.IsKind(err, errkind.KindRateLimit) {
					return nil, err
				}
				continue
			}
			hash, err := p.blobs.Put(data, models.BlobImage, imageExt(c.ProviderURL))
			if err != nil {
				return nil, err
			}
			p.metrics.BlobsWritten.Inc()
			if err := p.assets.SetContentHash(c.ID, hash, c.Width, c.Height); err != nil {
				return nil, err
			}
			c.ContentHash = &hash

			if phash, err := blobcache.PerceptualHash(bytes.NewReader(data)); err == nil {
				if err := p.assets.SetPerceptualHash(c.ID, phash); err != nil {
					return nil, err
				}
				c.PerceptualHash = &phash
			}
		}
		if c.PerceptualHash != nil && isNearDupOfAny(*c.PerceptualHash, pickedHashes) {
			continue
		}
		if c.PerceptualHash != nil {
			pickedHashes = append(pickedHashes, *c.PerceptualHash)
		}
		selected = append(selected, c)
	}
	return selected, nil
}

func isNearDupOfAny(phash int64, picked []int64) bool {
	for _, h := range picked {
		if blobcache.IsNearDuplicate(phash, h) {
			return true
		}
	}
	return false
}

func (p *Pipeline) downloadImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindInputInvalid, "build image request", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errkind.Classify(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errkind.New(errkind.KindRateLimit, "image host rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errkind.Newf(errkind.KindUnavailable, "image fetch http %d", resp.StatusCode).WithStatus(resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, errkind.Wrap(errkind.KindReadFailed, "read image body", err)
	}
	return data, nil
}

// scoreAsset combines provider priority with community signals. Provider
// rank dominates; votes, likes, resolution and language break ties.
func scoreAsset(c *models.AssetCandidate, providerRank map[string]int, preferredLanguage string) float64 {
	score := float64(providerRank[c.ProviderName]) * 1000
	score += float64(c.Likes) * 25
	score += float64(c.Votes) * 5
	score += float64(c.Height) / 10
	if c.Language != nil && *c.Language == preferredLanguage {
		score += 50
	}
	return score
}

func imageExt(url string) string {
	ext := strings.ToLower(path.Ext(stripQuery(url)))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return ext
	default:
		return ".jpg"
	}
}

func stripQuery(url string) string {
	if idx := strings.IndexByte(url, '?'); idx >= 0 {
		return url[:idx]
	}
	return url
}
