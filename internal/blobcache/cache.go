package blobcache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

// Cache is the content-addressed blob store. Blobs live at
// <root>/<kind>/<first-two-hex>/<hash><ext> and are immutable once written;
// the repository row carries the reference count.
type Cache struct {
	root   string
	repo   *repository.CacheRepository
	logger zerolog.Logger
}

func New(root string, repo *repository.CacheRepository, logger zerolog.Logger) *Cache {
	return &Cache{root: root, repo: repo, logger: logger.With().Str("component", "blobcache").Logger()}
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(hash string, kind models.BlobKind, ext string) string {
	return filepath.Join(c.root, string(kind), hash[:2], hash+ext)
}

// Put writes data into the cache and takes one reference. Writing the same
// bytes twice is idempotent on disk and adds one reference per call.
// Returns the content hash.
func (c *Cache) Put(data []byte, kind models.BlobKind, ext string) (string, error) {
	hash := HashBytes(data)
	target := c.path(hash, kind, ext)

	if _, err := os.Stat(target); err != nil {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", errkind.Wrap(errkind.KindWriteFailed, "create cache dir", err)
		}
		// Atomic: temp file in the target directory, fsync, rename.
		// Concurrent writers of the same hash race harmlessly.
		pending, err := renameio.NewPendingFile(target)
		if err != nil {
			return "", errkind.Wrap(errkind.KindWriteFailed, "create pending blob", err)
		}
		defer pending.Cleanup()
		if _, err := pending.Write(data); err != nil {
			return "", errkind.Wrap(errkind.KindWriteFailed, "write blob", err)
		}
		if err := pending.CloseAtomicallyReplace(); err != nil {
			return "", errkind.Wrap(errkind.KindWriteFailed, "commit blob", err)
		}
	}

	entry := &models.CacheEntry{
		ContentHash: hash,
		CachePath:   target,
		FileSize:    int64(len(data)),
		Kind:        kind,
	}
	if err := c.repo.UpsertRef(entry); err != nil {
		return "", err
	}
	c.logger.Debug().Str("hash", hash).Str("kind", string(kind)).Int("size", len(data)).Msg("blob stored")
	return hash, nil
}

// Read opens the blob for reading. The caller closes the handle.
func (c *Cache) Read(hash string) (io.ReadCloser, error) {
	entry, err := c.repo.Get(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(entry.CachePath)
	if err != nil {
		return nil, errkind.Wrap(errkind.KindFileNotFound, "open blob", err)
	}
	return f, nil
}

// Path returns the on-disk location of a cached blob.
func (c *Cache) Path(hash string) (string, error) {
	entry, err := c.repo.Get(hash)
	if err != nil {
		return "", err
	}
	return entry.CachePath, nil
}

// RefInc adds a reference to an existing blob.
func (c *Cache) RefInc(hash string) error { return c.repo.RefInc(hash) }

// RefDec drops a reference. The blob is not deleted here; GC sweeps later.
func (c *Cache) RefDec(hash string) error { return c.repo.RefDec(hash) }

// GC unlinks blobs that have been unreferenced for longer than grace. The
// row delete re-verifies refcount = 0 under a row lock, so a reference taken
// between listing and deleting keeps the blob alive.
func (c *Cache) GC(grace time.Duration, limit int) (int, error) {
	entries, err := c.repo.ListGarbage(grace, limit)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		ok, err := c.repo.DeleteIfUnreferenced(e.ContentHash)
		if err != nil {
			return removed, err
		}
		if !ok {
			continue
		}
		if err := os.Remove(e.CachePath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn().Err(err).Str("hash", e.ContentHash).Msg("unlink blob failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		c.logger.Info().Int("removed", removed).Msg("cache GC swept")
	}
	return removed, nil
}
