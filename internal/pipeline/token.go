package pipeline

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSigner mints the short-lived HS256 service tokens every pipeline API
// call carries. The shared secret is provisioned on both sides out of band.
type TokenSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenSigner creates a signer for the given shared secret.
func NewTokenSigner(secret, issuer string, ttl time.Duration) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Token returns a freshly signed service token.
func (s *TokenSigner) Token() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
