package identity

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var issuedAt = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newTestVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	if cfg.SecretKey == "" {
		cfg.SecretKey = "test-secret-key"
	}
	v, err := NewVerifier(cfg)
	require.NoError(t, err)
	v.Now = func() time.Time { return issuedAt }
	return v
}

func TestNewVerifier_RequiresKey(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestVerifier_RoundTrip(t *testing.T) {
	v := newTestVerifier(t, Config{Issuer: "nudge"})

	token, err := v.IssueToken("user-1", "nudge", time.Hour)
	require.NoError(t, err)

	userID, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestVerifier_Rejects(t *testing.T) {
	v := newTestVerifier(t, Config{Issuer: "nudge"})
	other := newTestVerifier(t, Config{SecretKey: "another-key"})

	expired, err := v.IssueToken("user-1", "nudge", time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := v.IssueToken("user-1", "someone-else", time.Hour)
	require.NoError(t, err)
	noSubject, err := v.IssueToken("", "nudge", time.Hour)
	require.NoError(t, err)
	foreign, err := other.IssueToken("user-1", "nudge", time.Hour)
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "nudge",
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
	}}).SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "user-1",
		Issuer:  "nudge",
	}}).SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		at    time.Time
	}{
		{name: "expired", token: expired, at: issuedAt.Add(2 * time.Minute)},
		{name: "wrong issuer", token: wrongIssuer, at: issuedAt},
		{name: "missing subject", token: noSubject, at: issuedAt},
		{name: "foreign key", token: foreign, at: issuedAt},
		{name: "unexpected algorithm", token: hs512, at: issuedAt},
		{name: "no expiry", token: noExpiry, at: issuedAt},
		{name: "garbage", token: "not-a-token", at: issuedAt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v.Now = func() time.Time { return tt.at }
			_, err := v.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
