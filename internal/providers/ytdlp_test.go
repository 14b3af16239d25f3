package providers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metarr/metarr/internal/errkind"
)

func TestClassifyProbeFailureRateLimit(t *testing.T) {
	_, err := classifyProbeFailure("ERROR: HTTP Error 429: Too Many Requests", errors.New("exit 1"))
	require.Error(t, err)
	assert.True(t, errkind.IsKind(err, errkind.KindRateLimit))
	hint, ok := errkind.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, hint)
}

func TestClassifyProbeFailureUnavailableIsPermanent(t *testing.T) {
	for _, msg := range []string{
		"ERROR: Video unavailable",
		"ERROR: Private video. Sign in if you've been granted access",
		"ERROR: This video has been removed by the uploader",
	} {
		probe, err := classifyProbeFailure(msg, errors.New("exit 1"))
		require.NoError(t, err, msg)
		assert.False(t, probe.Playable)
		assert.Equal(t, "unavailable", probe.FailReason)
	}
}

func TestClassifyProbeFailureDefaultIsTransient(t *testing.T) {
	_, err := classifyProbeFailure("ERROR: unable to download webpage", errors.New("exit 1"))
	require.Error(t, err)
	assert.True(t, errkind.IsRetryable(err))
}

func TestCanonicalWatchURL(t *testing.T) {
	url, err := CanonicalWatchURL("YouTube", "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", url)

	url, err = CanonicalWatchURL("vimeo", "12345")
	require.NoError(t, err)
	assert.Equal(t, "https://vimeo.com/12345", url)

	_, err = CanonicalWatchURL("dailymotion", "x")
	assert.Error(t, err)
}

func TestCheckProviderStatus(t *testing.T) {
	mk := func(status int, headers map[string]string) *http.Response {
		rec := httptest.NewRecorder()
		for k, v := range headers {
			rec.Header().Set(k, v)
		}
		rec.WriteHeader(status)
		return rec.Result()
	}

	assert.NoError(t, checkProviderStatus("tmdb", mk(200, nil)))
	assert.True(t, errkind.IsKind(checkProviderStatus("tmdb", mk(404, nil)), errkind.KindNotFound))
	assert.True(t, errkind.IsKind(checkProviderStatus("tmdb", mk(401, nil)), errkind.KindAuthenticationFailed))

	err := checkProviderStatus("tmdb", mk(429, map[string]string{"Retry-After": "120"}))
	assert.True(t, errkind.IsKind(err, errkind.KindRateLimit))
	hint, ok := errkind.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, hint)

	// No Retry-After header defaults to an hour.
	err = checkProviderStatus("tmdb", mk(429, nil))
	hint, ok = errkind.RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, hint)

	// 5xx retryable, 4xx not.
	assert.True(t, errkind.IsRetryable(checkProviderStatus("tmdb", mk(503, nil))))
	assert.False(t, errkind.IsRetryable(checkProviderStatus("tmdb", mk(418, nil))))
}
