// Package repository declares the storage contracts the service layer depends on.
//
// Each store is the sole writer of its own entity: users go through
// UserRepository, follow edges through FollowRepository, posts through
// PostRepository. The feed is composed in the service layer from reads on
// the latter two; nothing here reaches into another store's tables.
package repository

import (
	"context"
	"iter"
	"time"

	"github.com/sakif/microblog/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
	// Before is a post ID keyset cursor. When set, the page holds the posts
	// that come after it in newest-first order and Offset is ignored.
	Before string
}

// UserRepository is the identity store.
//
// Lookups return apperror.ErrNotFound when nothing matches; Create and
// UpdateProfile return apperror.ErrDuplicateKey on a username/email collision.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByGitHubID(ctx context.Context, githubID int64) (*model.User, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.User, error)
	UpdateProfile(ctx context.Context, user *model.User) error
	SetPasswordHash(ctx context.Context, id, hash string) error
	LinkGitHub(ctx context.Context, id string, githubID int64) error
	TouchLastSeen(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// FollowRepository is the follow-graph store.
//
// Follow and Unfollow are idempotent: Follow reports whether a new edge was
// written, Unfollow whether one was removed. Neither errors on a redundant call.
type FollowRepository interface {
	Follow(ctx context.Context, edge *model.FollowEdge) (bool, error)
	Unfollow(ctx context.Context, followerID, followedID string) (bool, error)
	IsFollowing(ctx context.Context, followerID, followedID string) (bool, error)
	FollowingIDs(ctx context.Context, userID string) ([]string, error)
	FollowerIDs(ctx context.Context, userID string) ([]string, error)
	FollowingCount(ctx context.Context, userID string) (int, error)
	FollowerCount(ctx context.Context, userID string) (int, error)
}

// PostRepository is the post store. Posts are never updated or deleted
// through it; they go away only with their author.
type PostRepository interface {
	Create(ctx context.Context, post *model.Post) error
	GetByID(ctx context.Context, id string) (*model.Post, error)
	ListByAuthors(ctx context.Context, authorIDs []string, opts ListOptions) ([]model.Post, error)
	// AllByAuthor returns a lazy, restartable sequence, newest first. Each
	// range over it runs the query afresh.
	AllByAuthor(ctx context.Context, authorID string) iter.Seq2[model.Post, error]
	// AllByAuthors is AllByAuthor over a set of authors.
	AllByAuthors(ctx context.Context, authorIDs []string) iter.Seq2[model.Post, error]
}
