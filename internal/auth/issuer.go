package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/medlinkhq/auth-service/internal/domain"
)

// TokenPair holds the signed session tokens returned after a successful
// verification or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Issuer creates signed RS256 JWT session tokens. Both halves of the pair
// are JWTs; they differ only in TTL and the scope claim.
type Issuer struct {
	keyStore   KeyStore
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   string
	clock      domain.Clock
}

// IssuerConfig holds configuration for creating an Issuer.
type IssuerConfig struct {
	KeyStore   KeyStore
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Clock      domain.Clock
}

// NewIssuer creates a new token issuer.
func NewIssuer(cfg IssuerConfig) *Issuer {
	return &Issuer{
		keyStore:   cfg.KeyStore,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		clock:      cfg.Clock,
	}
}

// IssueSessionTokens mints an access/refresh token pair for the given user.
func (i *Issuer) IssueSessionTokens(userID domain.UserID) (TokenPair, error) {
	access, accessExp, err := i.mint(userID.String(), ScopeAccess, i.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint access token: %w", err)
	}

	refresh, refreshExp, err := i.mint(userID.String(), ScopeRefresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("mint refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) mint(subject, scope string, ttl time.Duration) (string, time.Time, error) {
	privateKey, keyID, err := i.keyStore.SigningKey()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("get signing key: %w", err)
	}

	now := i.clock.Now().UTC()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Scope: scope,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	token.Header["kid"] = keyID

	signed, err := token.SignedString(privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}
