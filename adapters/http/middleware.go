// Package authhttp adapts token verification to net/http.
package authhttp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/PaulFidika/jwtverify/claims"
	core "github.com/PaulFidika/jwtverify/core"
)

// Authenticator verifies the Authorization header of a request.
// *core.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (claims.Claims, error)
}

// Middleware rejects requests without a valid bearer token and attaches the
// verified claims to the request context otherwise.
func Middleware(svc Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cl, err := svc.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(claims.WithClaims(r.Context(), cl)))
		})
	}
}

// WriteError answers with the JSON error body for err.
func WriteError(w http.ResponseWriter, err error) {
	e := core.AsError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if e.StatusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.WriteHeader(e.StatusCode)
	_ = json.NewEncoder(w).Encode(e.Body())
}
