// Package identity verifies bearer tokens issued to users.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity errors.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingKey   = errors.New("jwt secret key is required")
)

// Config configures token verification.
type Config struct {
	SecretKey string        `koanf:"secret_key"`
	Issuer    string        `koanf:"issuer"`
	Leeway    time.Duration `koanf:"leeway"`
}

// Claims are the claims of an access token. The subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens.
type Verifier struct {
	key    []byte
	parser *jwt.Parser

	// Now returns the current time.
	Now func() time.Time
}

// NewVerifier creates a verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingKey
	}

	v := &Verifier{key: []byte(cfg.SecretKey), Now: time.Now}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithTimeFunc(func() time.Time { return v.Now() }),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// ValidateToken returns the user id of a valid token.
func (v *Verifier) ValidateToken(_ context.Context, token string) (string, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// IssueToken signs a token for userID valid for ttl.
func (v *Verifier) IssueToken(userID, issuer string, ttl time.Duration) (string, error) {
	now := v.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
