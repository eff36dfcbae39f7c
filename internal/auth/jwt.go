// Package auth resolves who is calling: bearer tokens (our own JWTs or a
// GitHub access token), server-side sessions keyed by a cookie, password
// hashing, and the middleware that gates routes by tier.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"42","uid":42,"username":"alice","exp":1234567890,...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "soundboard"

// DefaultTokenExpiry is used when NewTokenService gets a zero expiry.
const DefaultTokenExpiry = 24 * time.Hour

// TokenService signs and verifies the HS256 tokens handed out at login.
// It implements Verifier.
type TokenService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

var _ Verifier = (*TokenService)(nil)

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: SOUNDBOARD_JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, expiry time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &TokenService{secret: []byte(secret), expiry: expiry, now: time.Now}, nil
}

// claims is the JWT payload. "sub" carries the user id as a string, as the
// registered claim requires; uid repeats it as a number.
type claims struct {
	UserID   int64  `json:"uid"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Generate signs a token for p with the service's expiry.
func (s *TokenService) Generate(p *Principal) (string, error) {
	return s.GenerateWithDuration(p, s.expiry)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to get an already-expired token.
func (s *TokenService) GenerateWithDuration(p *Principal, d time.Duration) (string, error) {
	now := s.now()

	c := claims{
		UserID:   p.ID,
		Email:    p.Email,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and checks a token string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired
//   - Issuer is "soundboard"
//   - Algorithm is HS256, so a token signed with "none" is rejected
func (s *TokenService) Verify(_ context.Context, tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	if c.UserID == 0 || c.Subject != strconv.FormatInt(c.UserID, 10) {
		return nil, fmt.Errorf("%w: token has no usable subject", ErrInvalidToken)
	}

	id := &Identity{
		Subject:  c.Subject,
		UserID:   c.UserID,
		Email:    c.Email,
		Username: c.Username,
	}
	id.normalize()
	return id, nil
}
