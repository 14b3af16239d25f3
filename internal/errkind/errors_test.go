package errkind

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryableByKind(t *testing.T) {
	cases := []struct {
		kind      Kind
		retryable bool
	}{
		{KindInputInvalid, false},
		{KindNotFound, false},
		{KindAuthenticationFailed, false},
		{KindQueryFailed, true},
		{KindDBConnectionFailed, true},
		{KindDuplicateKey, false},
		{KindFKViolation, false},
		{KindWriteFailed, true},
		{KindReadFailed, false},
		{KindFileNotFound, false},
		{KindConnectionFailed, true},
		{KindTimeout, true},
		{KindDNSFailed, true},
		{KindRateLimit, true},
		{KindUnavailable, true},
		{KindInvalidResponse, false},
		{KindConfiguration, false},
		{KindInvalidState, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.retryable, New(tc.kind, "x").Retryable(), "kind %s", tc.kind)
	}
}

func TestServerErrorRetryableByStatus(t *testing.T) {
	assert.True(t, New(KindServerError, "upstream").WithStatus(503).Retryable())
	assert.False(t, New(KindServerError, "upstream").WithStatus(404).Retryable())
	assert.False(t, New(KindServerError, "upstream").Retryable())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindQueryFailed, "select movies", cause)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindQueryFailed, KindOf(err))

	// A tagged error survives further fmt wrapping.
	outer := fmt.Errorf("handler: %w", err)
	assert.Equal(t, KindQueryFailed, KindOf(outer))
	assert.True(t, IsRetryable(outer))
}

func TestWrapNilReturnsNil(t *testing.T) {
	var err error = Wrap(KindQueryFailed, "x", nil)
	// Typed nil must not escape as a non-nil interface value via Wrap's
	// callers; Wrap itself returns a nil *Error.
	assert.Nil(t, Wrap(KindQueryFailed, "x", nil))
	_ = err
}

func TestRetryAfterHint(t *testing.T) {
	err := New(KindRateLimit, "429 from tmdb").WithRetryAfter(60 * time.Second)
	d, ok := RetryAfterOf(err)
	require.True(t, ok)
	assert.Equal(t, 60*time.Second, d)

	_, ok = RetryAfterOf(New(KindRateLimit, "no hint"))
	assert.False(t, ok)
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindInputInvalid))
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindAuthenticationFailed))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(KindAuthorizationDenied))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindAlreadyExists))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(KindRateLimit))
	assert.Equal(t, http.StatusNotImplemented, HTTPStatus(KindNotImplemented))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInvalidState))
}

func TestOperational(t *testing.T) {
	assert.True(t, Operational(New(KindNotFound, "x")))
	assert.False(t, Operational(New(KindInvalidState, "x")))
	assert.False(t, Operational(New(KindConfiguration, "x")))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindNotFound, Classify(sql.ErrNoRows).Kind)
	assert.Equal(t, KindTimeout, Classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, KindInvalidState, Classify(errors.New("mystery")).Kind)

	tagged := New(KindRateLimit, "limit")
	assert.Same(t, tagged, Classify(tagged))
}
