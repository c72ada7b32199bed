package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// BasicAuth guards next with a single username/password pair. Comparison is
// constant time over digests so neither length nor content leaks.
func BasicAuth(realm, username, password string) func(http.Handler) http.Handler {
	wantUser := sha256.Sum256([]byte(username))
	wantPass := sha256.Sum256([]byte(password))
	challenge := `Basic realm="` + realm + `", charset="UTF-8"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if ok {
				gotUser := sha256.Sum256([]byte(user))
				gotPass := sha256.Sum256([]byte(pass))
				userMatch := subtle.ConstantTimeCompare(gotUser[:], wantUser[:]) == 1
				passMatch := subtle.ConstantTimeCompare(gotPass[:], wantPass[:]) == 1
				if userMatch && passMatch && username != "" {
					ctx := context.WithValue(r.Context(), userKey, user)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}
			w.Header().Set("WWW-Authenticate", challenge)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success":    false,
				"error":      "invalid credentials",
				"error_kind": "unauthorized",
			})
		})
	}
}

// UserFromContext returns the authenticated basic auth username.
func UserFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userKey).(string); ok {
		return v
	}
	return ""
}
