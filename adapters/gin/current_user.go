package authgin

import (
	"github.com/gin-gonic/gin"
)

// UserView is a typed snapshot of the caller built from verified claims.
type UserView struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email,omitempty"`
	Issuer string   `json:"issuer,omitempty"`
	Roles  []string `json:"roles,omitempty"`

	// Source is "claims" for an authenticated caller and "none" otherwise.
	Source string `json:"source"`
}

// CurrentUser returns the caller as seen by AuthRequired or AuthOptional.
func CurrentUser(c *gin.Context) (UserView, bool) {
	cl, ok := ClaimsFromGin(c)
	if !ok || cl.Subject() == "" {
		return UserView{Source: "none"}, false
	}
	email, _ := cl.String("email")
	return UserView{
		UserID: cl.Subject(),
		Email:  email,
		Issuer: cl.Issuer(),
		Roles:  stringList(cl["roles"]),
		Source: "claims",
	}, true
}

// stringList accepts a JSON array of strings or a single string.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
