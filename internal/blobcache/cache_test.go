package blobcache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

func newTestCache(t *testing.T) (*Cache, sqlmock.Sqlmock, string) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	root := t.TempDir()
	c := New(root, repository.NewCacheRepository(db), zerolog.Nop())
	return c, mock, root
}

func TestPutWritesShardedPath(t *testing.T) {
	c, mock, root := newTestCache(t)
	data := []byte("poster bytes")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	mock.ExpectExec(`INSERT INTO cache_entries`).
		WithArgs(hash, filepath.Join(root, "images", hash[:2], hash+".jpg"), int64(len(data)), models.BlobImage).
		WillReturnResult(sqlmock.NewResult(1, 1))

	got, err := c.Put(data, models.BlobImage, ".jpg")
	require.NoError(t, err)
	assert.Equal(t, hash, got)

	ondisk := filepath.Join(root, "images", hash[:2], hash+".jpg")
	written, err := os.ReadFile(ondisk)
	require.NoError(t, err)
	assert.Equal(t, data, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutSameBytesAddsReference(t *testing.T) {
	c, mock, _ := newTestCache(t)
	data := []byte("same bytes twice")

	mock.ExpectExec(`INSERT INTO cache_entries`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO cache_entries`).WillReturnResult(sqlmock.NewResult(1, 1))

	h1, err := c.Put(data, models.BlobImage, ".png")
	require.NoError(t, err)
	h2, err := c.Put(data, models.BlobImage, ".png")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGCRemovesUnreferencedBlob(t *testing.T) {
	c, mock, root := newTestCache(t)

	hash := "aabbccdd00112233aabbccdd00112233aabbccdd00112233aabbccdd00112233"
	blobPath := filepath.Join(root, "images", hash[:2], hash+".jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(blobPath), 0o755))
	require.NoError(t, os.WriteFile(blobPath, []byte("stale"), 0o644))

	rows := sqlmock.NewRows([]string{"content_hash", "cache_path", "file_size", "kind", "reference_count", "created_at"}).
		AddRow(hash, blobPath, int64(5), "images", 0, time.Now().Add(-48*time.Hour))
	mock.ExpectQuery(`SELECT content_hash, cache_path`).WillReturnRows(rows)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT reference_count FROM cache_entries`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"reference_count"}).AddRow(0))
	mock.ExpectExec(`DELETE FROM cache_entries`).WithArgs(hash).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	removed, err := c.GC(24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, blobPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGCSkipsReReferencedBlob(t *testing.T) {
	c, mock, root := newTestCache(t)

	hash := "ffeeddcc00112233ffeeddcc00112233ffeeddcc00112233ffeeddcc00112233"
	blobPath := filepath.Join(root, "images", hash[:2], hash+".jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(blobPath), 0o755))
	require.NoError(t, os.WriteFile(blobPath, []byte("live"), 0o644))

	rows := sqlmock.NewRows([]string{"content_hash", "cache_path", "file_size", "kind", "reference_count", "created_at"}).
		AddRow(hash, blobPath, int64(4), "images", 0, time.Now().Add(-48*time.Hour))
	mock.ExpectQuery(`SELECT content_hash, cache_path`).WillReturnRows(rows)

	// A reference arrived between listing and the locked re-check.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT reference_count FROM cache_entries`).
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"reference_count"}).AddRow(1))
	mock.ExpectRollback()

	removed, err := c.GC(24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
	assert.FileExists(t, blobPath)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHashBytesStable(t *testing.T) {
	assert.Equal(t, HashBytes([]byte("abc")), HashBytes([]byte("abc")))
	assert.NotEqual(t, HashBytes([]byte("abc")), HashBytes([]byte("abd")))
	assert.Len(t, HashBytes(nil), 64)
}
