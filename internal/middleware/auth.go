package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/templui/pledge/internal/ctxkeys"
	"github.com/templui/pledge/internal/model"
)

var errInvalidToken = errors.New("invalid token")

// UserSyncer mirrors a verified identity into local storage.
type UserSyncer interface {
	Sync(ctx context.Context, id, email, name string) (*model.User, error)
}

// Identity verifies the identity provider's HS256 bearer token and puts the
// local user on the context. Requests without a valid token get 401.
func Identity(secret string, users UserSyncer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			claims, err := verifyJWT(token, secret)
			if err != nil {
				slog.Debug("identity token rejected", "error", err)
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			userID := claimString(claims, "sub")
			if userID == "" {
				userID = claimString(claims, "user_id")
			}
			if userID == "" {
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			user, err := users.Sync(r.Context(), userID, claimString(claims, "email"), claimString(claims, "name"))
			if err != nil {
				slog.Error("failed to sync user", "error", err, "user_id", userID)
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(ctxkeys.WithUser(r.Context(), user)))
		})
	}
}

// RequireBearer admits only requests carrying the shared secret as a bearer token.
func RequireBearer(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				slog.Warn("bearer auth failed", "path", r.URL.Path, "request_id", ctxkeys.RequestID(r.Context()))
				writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func verifyJWT(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if ok && token.Valid {
		return claims, nil
	}
	return nil, errInvalidToken
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func claimString(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
