package auth

import "github.com/golang-jwt/jwt/v5"

// Token scopes. Access tokens authorize API calls; refresh tokens are only
// accepted by the token refresh endpoint.
const (
	ScopeAccess  = "access"
	ScopeRefresh = "refresh"
)

// Claims represents the JWT claims for session tokens.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}
