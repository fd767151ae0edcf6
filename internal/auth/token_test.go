package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens(secret, time.Hour)
	require.NoError(t, err)

	raw, expires, err := tokens.Issue(User{ID: 42, Name: "Store", Role: shared.RoleStoreOfficer})
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	principal, err := tokens.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, shared.Principal{UserID: 42, Name: "Store", Role: shared.RoleStoreOfficer}, principal)
}

func TestTokensRejectExpired(t *testing.T) {
	tokens, err := NewTokens(secret, time.Minute)
	require.NoError(t, err)
	tokens.now = func() time.Time { return time.Now().Add(-time.Hour) }
	raw, _, err := tokens.Issue(User{ID: 1, Role: shared.RoleAdmin})
	require.NoError(t, err)

	tokens.now = time.Now
	_, err = tokens.Parse(raw)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestTokensRejectForeignSecret(t *testing.T) {
	issuer, err := NewTokens(secret, time.Hour)
	require.NoError(t, err)
	verifier, err := NewTokens("ffffffffffffffffffffffffffffffff", time.Hour)
	require.NoError(t, err)

	raw, _, err := issuer.Issue(User{ID: 1, Role: shared.RoleAdmin})
	require.NoError(t, err)
	_, err = verifier.Parse(raw)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestTokensRejectUnknownRole(t *testing.T) {
	tokens, err := NewTokens(secret, time.Hour)
	require.NoError(t, err)
	c := claims{
		Role: "pharmacist",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   "5",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
	require.NoError(t, err)

	_, err = tokens.Parse(raw)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestNewTokensRequiresSecret(t *testing.T) {
	_, err := NewTokens("short", time.Hour)
	require.Error(t, err)
}
