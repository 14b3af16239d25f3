package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/repository"
)

func newAuth(t *testing.T) (*Auth, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAuth("test-secret", repository.NewSettingsRepository(db)), mock
}

func expectSetting(mock sqlmock.Sqlmock, value string) {
	mock.ExpectQuery(`SELECT value FROM settings`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(value))
}

func TestLoginIssuesValidToken(t *testing.T) {
	a, mock := newAuth(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	expectSetting(mock, "admin")
	expectSetting(mock, string(hash))

	token, err := a.Login("admin", "hunter2")
	require.NoError(t, err)

	user, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", user)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	a, mock := newAuth(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	expectSetting(mock, "admin")
	expectSetting(mock, string(hash))

	_, err = a.Login("admin", "wrong")
	assert.True(t, errkind.IsKind(err, errkind.KindAuthenticationFailed))
}

func TestValidateRejectsGarbage(t *testing.T) {
	a, _ := newAuth(t)
	_, err := a.Validate("not.a.token")
	assert.True(t, errkind.IsKind(err, errkind.KindTokenInvalid))
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	a, _ := newAuth(t)
	other := NewAuth("other-secret", nil)
	token, err := other.issue("admin")
	require.NoError(t, err)

	_, err = a.Validate(token)
	assert.Error(t, err)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	a, _ := newAuth(t)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/movies", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewarePassesValidToken(t *testing.T) {
	a, _ := newAuth(t)
	token, err := a.issue("admin")
	require.NoError(t, err)

	var called bool
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}
