package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor: roughly 250ms per hash on a modern
// server. Slow enough to hurt an offline attacker, fast enough for a login.
const defaultCost = 12

// maxPasswordBytes is bcrypt's input limit. Longer inputs would be silently
// truncated, so they are rejected instead.
const maxPasswordBytes = 72

// ErrPasswordMismatch is returned by Verify when the password is wrong.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
//
// The hash format embeds version, cost and salt:
//
//	$2a$12$<22-char salt><31-char hash>
//
// so nothing besides the hash string needs to be stored.
type PasswordService struct {
	cost int

	// dummyHash is compared against when there is no real hash to check, so
	// "no such user" costs the same as "wrong password".
	dummyHash []byte
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return NewPasswordServiceWithCost(defaultCost)
}

// NewPasswordServiceWithCost lets tests drop to bcrypt.MinCost (4).
// Do NOT use a low cost in production.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	dummy, err := bcrypt.GenerateFromPassword([]byte("microblog-dummy-password"), cost)
	if err != nil {
		// Only possible for a cost outside bcrypt's range, which is a programming error.
		panic(fmt.Sprintf("auth: building dummy hash: %v", err))
	}
	return &PasswordService{cost: cost, dummyHash: dummy}
}

// Hash hashes the given plaintext password with bcrypt.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", maxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks plaintext against a stored bcrypt hash. It returns
// ErrPasswordMismatch for a wrong password and a wrapped error for a
// malformed hash. An empty hash (an account with no password) never matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		p.Burn(plaintext)
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// Burn runs a comparison against a throwaway hash and discards the result.
// Call it on paths that have no user to check so the response time matches
// the path that does.
func (p *PasswordService) Burn(plaintext string) {
	_ = bcrypt.CompareHashAndPassword(p.dummyHash, []byte(plaintext))
}
