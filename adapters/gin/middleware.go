// Package authgin adapts token verification to gin.
package authgin

import (
	"context"

	"github.com/PaulFidika/jwtverify/claims"
	core "github.com/PaulFidika/jwtverify/core"
	"github.com/gin-gonic/gin"
)

// Gin context keys set by the middleware.
const (
	ClaimsKey = "auth.claims"
	UserIDKey = "auth.user_id"
)

// Authenticator verifies the Authorization header of a request.
// *core.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (claims.Claims, error)
}

// AuthRequired rejects requests without a valid bearer token. On success the
// claims are available via ClaimsFromGin and claims.FromContext.
func AuthRequired(svc Authenticator) gin.HandlerFunc {
	return func(g *gin.Context) {
		cl, err := svc.Authenticate(g.Request.Context(), g.GetHeader("Authorization"))
		if err != nil {
			e := core.AsError(err)
			g.AbortWithStatusJSON(e.StatusCode, e.Body())
			return
		}
		attach(g, cl)
		g.Next()
	}
}

// AuthOptional attaches claims when a valid token is present and otherwise
// lets the request through anonymously. A request carrying a token that fails
// verification is still rejected.
func AuthOptional(svc Authenticator) gin.HandlerFunc {
	return func(g *gin.Context) {
		if g.GetHeader("Authorization") == "" {
			g.Next()
			return
		}
		AuthRequired(svc)(g)
	}
}

// ClaimsFromGin returns the claims attached by AuthRequired.
func ClaimsFromGin(g *gin.Context) (claims.Claims, bool) {
	v, ok := g.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(claims.Claims)
	return cl, ok
}

func attach(g *gin.Context, cl claims.Claims) {
	g.Set(ClaimsKey, cl)
	if sub := cl.Subject(); sub != "" {
		g.Set(UserIDKey, sub)
	}
	g.Request = g.Request.WithContext(claims.WithClaims(g.Request.Context(), cl))
}
