package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Andersonizuwa/holyrosary-pharmacy-sub000/internal/shared"
)

const tokenIssuer = "holyrosary-pharmacy"

type claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a token codec. ttl <= 0 defaults to 12 hours.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: jwt secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for user.
func (t *Tokens) Issue(user User) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	c := claims{
		Name: user.Name,
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies raw and returns the principal it names. Any failure, including
// an unknown role claim, is reported as shared.ErrUnauthorized.
func (t *Tokens) Parse(raw string) (shared.Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(token *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return shared.Principal{}, fmt.Errorf("%w: invalid subject", shared.ErrUnauthorized)
	}
	role, err := shared.ParseRole(c.Role)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}
	return shared.Principal{UserID: id, Name: c.Name, Role: role}, nil
}
