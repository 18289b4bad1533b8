// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// Field limits shared by validation and the schema.
const (
	MaxUsernameLength = 64
	MaxEmailLength    = 120
	MaxAboutMeLength  = 140
)

// User represents a registered account.
//
// WHY PasswordHash HAS json:"-"?
// The hash is an opaque credential. It must never leave the process, not even
// in an API response for the account owner. The "-" tag tells encoding/json to
// skip the field entirely, so a handler that writes a User cannot leak it.
//
// WHY GitHubID *int64?
// Most accounts are created with a username and password and have no GitHub
// identity at all. A nil pointer maps to SQL NULL, which keeps the UNIQUE
// constraint on github_id from colliding between unlinked accounts.
type User struct {
	ID           string    `json:"id"                 db:"id"`
	Username     string    `json:"username"           db:"username"`
	Email        string    `json:"email"              db:"email"`
	PasswordHash string    `json:"-"                  db:"password_hash"` // bcrypt; empty for GitHub-only accounts
	AboutMe      string    `json:"aboutMe"            db:"about_me"`
	LastSeen     time.Time `json:"lastSeen"           db:"last_seen"`
	GitHubID     *int64    `json:"githubId,omitempty" db:"github_id"`
	CreatedAt    time.Time `json:"createdAt"          db:"created_at"`
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Profile is the public view of a user as seen by a viewer.
type Profile struct {
	User        *User `json:"user"`
	Followers   int   `json:"followers"`
	Following   int   `json:"following"`
	IsFollowing bool  `json:"isFollowing"` // whether the viewer follows this user
	IsSelf      bool  `json:"isSelf"`
}
