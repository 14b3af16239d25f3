package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/models"
	"github.com/metarr/metarr/internal/repository"
)

type enqueueCall struct {
	jobType  string
	priority int
}

type fakeQueue struct {
	calls []enqueueCall
}

func (f *fakeQueue) Enqueue(jobType string, priority int, payload interface{}) (int64, error) {
	f.calls = append(f.calls, enqueueCall{jobType, priority})
	return int64(len(f.calls)), nil
}

func newDispatcher(t *testing.T) (*Dispatcher, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDispatcher(
		repository.NewWebhookSourceRepository(db),
		repository.NewLibraryRepository(db),
		repository.NewMovieRepository(db),
		repository.NewRecycleRepository(db),
		repository.NewNotificationRepository(db),
		repository.NewActivityRepository(db),
		zerolog.Nop(),
	), mock
}

func expectSource(mock sqlmock.Sqlmock, source, secret, from, to string) {
	mock.ExpectQuery(`SELECT source, secret, path_from, path_to FROM webhook_sources`).
		WillReturnRows(sqlmock.NewRows([]string{"source", "secret", "path_from", "path_to"}).
			AddRow(source, secret, from, to))
}

func TestParseBodyRadarrDownload(t *testing.T) {
	body := []byte(`{"eventType":"Download","movie":{"folderPath":"/downloads/movies/Heat (1995)"},
		"movieFile":{"path":"/downloads/movies/Heat (1995)/Heat (1995).mkv"}}`)
	ev, err := ParseBody(SourceRadarr, body)
	require.NoError(t, err)
	assert.Equal(t, "download", ev.EventType)
	assert.Equal(t, "/downloads/movies/Heat (1995)/Heat (1995).mkv", ev.FilePath)
}

func TestParseBodyRelativePathFallback(t *testing.T) {
	body := []byte(`{"eventType":"Download","movie":{"folderPath":"/dl/Heat (1995)"},
		"movieFile":{"relativePath":"Heat (1995).mkv"}}`)
	ev, err := ParseBody(SourceRadarr, body)
	require.NoError(t, err)
	assert.Equal(t, "/dl/Heat (1995)/Heat (1995).mkv", ev.FilePath)
}

func TestParseBodyMissingEventType(t *testing.T) {
	_, err := ParseBody(SourceRadarr, []byte(`{"movie":{}}`))
	assert.Error(t, err)
}

func TestVerifySignature(t *testing.T) {
	d, mock := newDispatcher(t)
	body := []byte(`{"eventType":"Download"}`)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))

	expectSource(mock, SourceRadarr, "s3cret", "", "")
	assert.NoError(t, d.VerifySignature(SourceRadarr, body, "sha256="+sig))

	expectSource(mock, SourceRadarr, "s3cret", "", "")
	assert.Error(t, d.VerifySignature(SourceRadarr, body, "sha256=deadbeef"))

	// No secret configured disables verification.
	expectSource(mock, SourceRadarr, "", "", "")
	assert.NoError(t, d.VerifySignature(SourceRadarr, body, ""))
}

func TestDispatchGrabIsInformational(t *testing.T) {
	d, _ := newDispatcher(t)
	q := &fakeQueue{}
	require.NoError(t, d.Dispatch(&Event{Source: SourceRadarr, EventType: "grab"}, q))
	assert.Empty(t, q.calls)
}

func TestDispatchDownloadFansOut(t *testing.T) {
	d, mock := newDispatcher(t)
	q := &fakeQueue{}

	// Path mapping rewrites the downloader prefix into ours.
	expectSource(mock, SourceRadarr, "", "/downloads/movies", "/data/movies")
	mock.ExpectQuery(`SELECT id, name, path, auto_enrich, auto_publish, created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "path", "auto_enrich", "auto_publish", "created_at"}).
			AddRow(int64(3), "Movies", "/data/movies", true, true, time.Now()))
	mock.ExpectQuery(`SELECT id, name, channel_type, webhook_url, enabled`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "channel_type", "webhook_url", "enabled"}).
			AddRow(int64(1), "ops", "discord", "https://discord.test/hook", true).
			AddRow(int64(2), "team", "slack", "https://slack.test/hook", true))
	mock.ExpectExec(`INSERT INTO activity_log`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	ev := &Event{Source: SourceRadarr, EventType: "download",
		FilePath: "/downloads/movies/Heat (1995)/Heat (1995).mkv"}
	require.NoError(t, d.Dispatch(ev, q))

	require.Len(t, q.calls, 3)
	assert.Equal(t, enqueueCall{"scan-movie", models.PriorityHigh}, q.calls[0])
	assert.Equal(t, enqueueCall{"notify-channel", models.PriorityNormal}, q.calls[1])
	assert.Equal(t, enqueueCall{"notify-channel", models.PriorityNormal}, q.calls[2])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatchUnknownDeletePathIsIgnored(t *testing.T) {
	d, mock := newDispatcher(t)
	q := &fakeQueue{}

	expectSource(mock, SourceRadarr, "", "", "")
	mock.ExpectQuery(`FROM movies WHERE file_path`).
		WillReturnError(sql.ErrNoRows)

	ev := &Event{Source: SourceRadarr, EventType: "moviefiledelete", FilePath: "/data/movies/x.mkv"}
	require.NoError(t, d.Dispatch(ev, q))
	assert.Empty(t, q.calls)
}

func TestKnownSource(t *testing.T) {
	assert.True(t, KnownSource("radarr"))
	assert.True(t, KnownSource("sonarr"))
	assert.True(t, KnownSource("lidarr"))
	assert.False(t, KnownSource("qbittorrent"))
}
