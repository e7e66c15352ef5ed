package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// TokenAuth guards the API with a single bearer token whose bcrypt hash is
// configured. An empty hash disables authentication.
type TokenAuth struct {
	hash []byte
}

// NewTokenAuth returns a TokenAuth for the given bcrypt hash.
func NewTokenAuth(hash string) *TokenAuth {
	return &TokenAuth{hash: []byte(strings.TrimSpace(hash))}
}

// Enabled reports whether a token is required.
func (a *TokenAuth) Enabled() bool {
	return len(a.hash) > 0
}

// Check reports whether token matches the configured hash.
func (a *TokenAuth) Check(token string) bool {
	if !a.Enabled() {
		return true
	}
	if token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}

// Middleware rejects requests that do not present the token, either as
// "Authorization: Bearer <token>" or as the X-API-Token header.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(requestToken(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="iconforge"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.Header.Get("X-API-Token")
}

// HashToken returns the bcrypt hash to configure for token.
func HashToken(token string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
