// Package auth issues and checks the credentials microblog hands out.
//
// TWO KINDS OF TOKEN, ONE SECRET:
//
//	session         → proves "this request is user X"; lives in the "token" cookie
//	                  or an Authorization: Bearer header; 15 minutes by default
//	password-reset  → proves "whoever holds this link may set X's password";
//	                  single use, short-lived, carries a unique jti
//
// Both are HS256 JWTs signed with the same key. They are told apart by the
// "aud" (audience) claim, and each verifier requires its own audience, so a
// leaked session token can never be replayed as a reset link or vice versa.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"iss":"microblog","sub":"<userID>","aud":["session"],"exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer = "microblog"

	audienceSession = "session"
	audienceReset   = "password-reset"

	// DefaultSessionTTL is how long a login lasts when no TTL is configured.
	DefaultSessionTTL = 15 * time.Minute
)

var (
	// ErrTokenExpired is returned by Validate for a well-formed token past its exp.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrInvalidToken covers every other reason a token is rejected.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// TokenService signs and verifies session and reset tokens.
//
// The clock is injectable so expiry can be tested without sleeping: the
// same function is used to stamp iat/exp and as the validator's "now".
type TokenService struct {
	secret     []byte
	sessionTTL time.Duration
	now        func() time.Time
}

// TokenOption customises a TokenService.
type TokenOption func(*TokenService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) { s.now = now }
}

// WithSessionTTL sets how long session tokens are valid. Non-positive values are ignored.
func WithSessionTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	s := &TokenService{
		secret:     []byte(secret),
		sessionTTL: DefaultSessionTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SessionTTL is the lifetime given to tokens from Generate. Handlers use it
// for the cookie Max-Age.
func (s *TokenService) SessionTTL() time.Duration {
	return s.sessionTTL
}

// Generate creates and signs a session token for userID.
func (s *TokenService) Generate(userID string) (string, error) {
	now := s.now()
	return s.sign(jwt.RegisteredClaims{
		Subject:   userID,
		Audience:  jwt.ClaimStrings{audienceSession},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.sessionTTL)),
		Issuer:    issuer,
	})
}

// Validate verifies a session token and returns the user ID in its "sub" claim.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid and the algorithm is HS256 (no "none", no RS/HS confusion)
//   - exp is present and in the future according to the injected clock
//   - iss is "microblog" and aud contains "session"
func (s *TokenService) Validate(tokenStr string) (string, error) {
	c, err := s.parse(tokenStr, audienceSession)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return c.Subject, nil
}

// ResetClaims is what a valid reset token proves.
type ResetClaims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
}

// IssueResetToken signs a password-reset token for userID that expires ttl
// from now. Every token gets a fresh random jti, so two tokens issued in the
// same second for the same user are still distinct and can be consumed
// independently.
func (s *TokenService) IssueResetToken(userID string, ttl time.Duration) (string, error) {
	if ttl < 0 {
		ttl = 0
	}
	now := s.now()
	return s.sign(jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		Audience:  jwt.ClaimStrings{audienceReset},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    issuer,
	})
}

// VerifyResetToken checks signature, audience and expiry. It never returns an
// error: an expired, tampered, foreign or malformed token is simply not ok,
// and callers can't tell which.
func (s *TokenService) VerifyResetToken(tokenStr string) (ResetClaims, bool) {
	c, err := s.parse(tokenStr, audienceReset)
	if err != nil || c.Subject == "" || c.ID == "" || c.ExpiresAt == nil {
		return ResetClaims{}, false
	}
	return ResetClaims{
		UserID:    c.Subject,
		TokenID:   c.ID,
		ExpiresAt: c.ExpiresAt.Time,
	}, true
}

func (s *TokenService) sign(c jwt.RegisteredClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) parse(tokenStr, audience string) (*jwt.RegisteredClaims, error) {
	c := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return c, nil
}
