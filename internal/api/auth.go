package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/metarr/metarr/internal/errkind"
	"github.com/metarr/metarr/internal/httputil"
	"github.com/metarr/metarr/internal/repository"
)

const tokenLifetime = 24 * time.Hour

// Auth issues and validates the API's bearer tokens. Credentials live in the
// settings table as a bcrypt hash, so the operator can rotate them without a
// restart.
type Auth struct {
	secret   []byte
	settings *repository.SettingsRepository
}

func NewAuth(secret string, settings *repository.SettingsRepository) *Auth {
	return &Auth{secret: []byte(secret), settings: settings}
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Login checks the credentials and returns a signed token.
func (a *Auth) Login(username, password string) (string, error) {
	wantUser, err := a.settings.Get("admin_user")
	if err != nil {
		return "", err
	}
	hash, err := a.settings.Get("admin_password_hash")
	if err != nil {
		return "", err
	}
	if username != wantUser || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", errkind.New(errkind.KindAuthenticationFailed, "invalid credentials")
	}
	return a.issue(username)
}

// SetPassword stores a fresh bcrypt hash for the admin account.
func (a *Auth) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errkind.Wrap(errkind.KindInvalidState, "hash password", err)
	}
	return a.settings.Set("admin_password_hash", string(hash))
}

func (a *Auth) issue(username string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", errkind.Wrap(errkind.KindInvalidState, "sign token", err)
	}
	return signed, nil
}

// Validate parses a bearer token and returns the username it names.
func (a *Auth) Validate(tokenString string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errkind.Newf(errkind.KindTokenInvalid, "unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", errkind.Wrap(errkind.KindTokenExpired, "token expired", err)
	case err != nil:
		return "", errkind.Wrap(errkind.KindTokenInvalid, "parse token", err)
	case !token.Valid:
		return "", errkind.New(errkind.KindTokenInvalid, "token invalid")
	}
	return c.Username, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httputil.WriteErrorCode(w, http.StatusUnauthorized, "token_invalid", "missing bearer token")
			return
		}
		if _, err := a.Validate(token); err != nil {
			httputil.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
