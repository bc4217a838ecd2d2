// services/iotcore/internal/core/token_service.go
package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the session token lifetime when none is configured.
// Tokens are stateless and remain valid until natural expiry; there is no
// revocation list.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the signed identity bundle carried by a session token.
type Claims struct {
	jwt.RegisteredClaims
	AccountID   uint   `json:"uid"`
	Role        string `json:"role"`
	AccessLevel string `json:"access_level"`
}

// Email returns the token subject.
func (c *Claims) Email() string { return c.Subject }

// TokenService issues and validates signed session tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a token service with the process-wide secret.
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed token embedding the account's identity and role.
func (s *TokenService) Issue(account *Account) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.Email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		AccountID:   account.ID,
		Role:        account.Role,
		AccessLevel: account.AccessLevel,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// ExtractClaims verifies the signature before trusting any claim. Expired
// tokens are reported distinctly from malformed ones.
func (s *TokenService) ExtractClaims(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" || claims.Role == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
