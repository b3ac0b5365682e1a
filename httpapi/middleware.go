package httpapi

import (
	"net/http"
	"strings"
)

// RequestVerifier verifies HTTP requests for authentication. Implementations
// return nil if the request is authorized, or an error (typically
// ErrUnauthorized) otherwise.
type RequestVerifier interface {
	Verify(r *http.Request) error
}

// BearerVerifier checks Authorization: Bearer <token> against a single
// configured secret, the only supported auth model.
type BearerVerifier struct {
	Token string
}

// Verify implements RequestVerifier.
func (v *BearerVerifier) Verify(r *http.Request) error {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token != v.Token {
		return ErrUnauthorized
	}
	return nil
}

// AuthMiddleware enforces verifier.Verify on every request. A nil verifier
// passes every request through, for AUTH_ENABLED=false deployments.
func AuthMiddleware(verifier RequestVerifier) func(http.Handler) http.Handler {
	if verifier == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := verifier.Verify(r); err != nil {
				HandleError(w, ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
