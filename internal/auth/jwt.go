package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medlinkhq/auth-service/internal/domain"
)

// ErrTokenExpired is returned when a validly signed token has expired.
// Callers can use errors.Is to check for this condition without importing
// the JWT library directly.
var ErrTokenExpired = jwt.ErrTokenExpired

// Validator validates JWT session tokens.
type Validator struct {
	keyStore KeyStore
	issuer   string
	audience string
	clock    domain.Clock
}

// ValidatorConfig holds configuration for creating a Validator.
type ValidatorConfig struct {
	KeyStore KeyStore
	Issuer   string
	Audience string
	Clock    domain.Clock
}

// NewValidator creates a new JWT validator.
func NewValidator(cfg ValidatorConfig) *Validator {
	return &Validator{
		keyStore: cfg.KeyStore,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		clock:    cfg.Clock,
	}
}

// ValidateAccessToken parses and fully validates a JWT access token.
func (v *Validator) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := v.parseToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if claims.Scope != ScopeAccess {
		return nil, fmt.Errorf("token scope %q is not an access token: %w", claims.Scope, domain.ErrUnauthorized)
	}
	return claims, nil
}

// ValidateRefreshToken parses and fully validates a JWT refresh token.
// Any failure — signature, expiry, issuer, or a non-refresh scope — maps to
// domain.ErrInvalidRefreshToken so callers never leak parser detail.
func (v *Validator) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := v.parseToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRefreshToken, err)
	}
	if claims.Scope != ScopeRefresh {
		return nil, fmt.Errorf("token scope %q is not a refresh token: %w", claims.Scope, domain.ErrInvalidRefreshToken)
	}
	return claims, nil
}

func (v *Validator) parseToken(tokenString string) (*Claims, error) {
	var claims Claims

	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}

	if _, err := jwt.ParseWithClaims(tokenString, &claims, v.keyFunc, opts...); err != nil {
		return nil, err
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("missing sub claim: %w", domain.ErrUnauthorized)
	}

	return &claims, nil
}

func (v *Validator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, fmt.Errorf("missing or invalid kid in token header")
	}

	return v.keyStore.PublicKey(kid)
}
