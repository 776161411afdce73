// Package middleware holds the HTTP middleware that sits in front of the API
// routes.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

var (
	ErrTokenMissing = errors.New("missing bearer token")
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the JWT payload. The user id is read from userId, falling back
// to the standard sub claim.
type Claims struct {
	UserID string `json:"userId,omitempty"`
	jwt.StandardClaims
}

func (c *Claims) user() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Auth resolves the calling user for every request.
//
// With a Secret, requests must carry "Authorization: Bearer <HS256 JWT>".
// Without one (development only, config refuses it in production) the
// X-User-ID header set by the API gateway is trusted as is.
type Auth struct {
	Secret []byte
	Log    *logrus.Logger
}

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.authenticate(r)
		if err != nil {
			if a.Log != nil {
				a.Log.WithFields(logrus.Fields{
					"path":   r.URL.Path,
					"method": r.Method,
				}).WithError(err).Warn("request rejected")
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

func (a *Auth) authenticate(r *http.Request) (string, error) {
	if len(a.Secret) == 0 {
		if id := strings.TrimSpace(r.Header.Get("X-User-ID")); id != "" {
			return id, nil
		}
		return "", ErrTokenMissing
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrTokenMissing
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrTokenInvalid
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return a.Secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrTokenInvalid
	}
	if claims.user() == "" {
		return "", ErrTokenInvalid
	}
	return claims.user(), nil
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user stored by the middleware.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}
