package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

// GraphService manages who follows whom.
//
// Edges are directed: actor → target means actor sees target's posts in
// their feed. Uniqueness of an edge is guaranteed by storage, so Follow and
// Unfollow are safe to call repeatedly and concurrently.
type GraphService struct {
	follows repository.FollowRepository
	users   repository.UserRepository
	logger  *slog.Logger
	options
}

func NewGraphService(
	follows repository.FollowRepository,
	users repository.UserRepository,
	logger *slog.Logger,
	opts ...Option,
) *GraphService {
	return &GraphService{
		follows: follows,
		users:   users,
		logger:  orDiscard(logger),
		options: buildOptions(opts),
	}
}

// Follow makes actorID a follower of targetID.
// Following yourself is a validation error and writes nothing.
// Following someone twice is not an error.
func (s *GraphService) Follow(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return apperror.ValidationFailed("user", "you cannot follow yourself")
	}

	created, err := s.follows.Follow(ctx, &model.FollowEdge{
		FollowerID: actorID,
		FollowedID: targetID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return fmt.Errorf("following user %s: %w", targetID, err)
	}

	if created {
		s.metrics.FollowChanged("follow")
		s.logger.Info("user followed",
			slog.String("followerID", actorID),
			slog.String("followedID", targetID),
		)
	}
	return nil
}

// Unfollow removes the actorID → targetID edge if there is one.
func (s *GraphService) Unfollow(ctx context.Context, actorID, targetID string) error {
	if actorID == targetID {
		return apperror.ValidationFailed("user", "you cannot unfollow yourself")
	}

	removed, err := s.follows.Unfollow(ctx, actorID, targetID)
	if err != nil {
		return fmt.Errorf("unfollowing user %s: %w", targetID, err)
	}

	if removed {
		s.metrics.FollowChanged("unfollow")
		s.logger.Info("user unfollowed",
			slog.String("followerID", actorID),
			slog.String("followedID", targetID),
		)
	}
	return nil
}

func (s *GraphService) IsFollowing(ctx context.Context, actorID, targetID string) (bool, error) {
	ok, err := s.follows.IsFollowing(ctx, actorID, targetID)
	if err != nil {
		return false, fmt.Errorf("checking follow: %w", err)
	}
	return ok, nil
}

// Following lists the users userID follows, ordered by username.
func (s *GraphService) Following(ctx context.Context, userID string) ([]model.User, error) {
	ids, err := s.follows.FollowingIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing following: %w", err)
	}
	return s.usersByIDs(ctx, ids)
}

// Followers lists the users following userID, ordered by username.
func (s *GraphService) Followers(ctx context.Context, userID string) ([]model.User, error) {
	ids, err := s.follows.FollowerIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing followers: %w", err)
	}
	return s.usersByIDs(ctx, ids)
}

func (s *GraphService) usersByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	return users, nil
}

// Counts returns how many users follow userID and how many userID follows.
func (s *GraphService) Counts(ctx context.Context, userID string) (followers, following int, err error) {
	followers, err = s.follows.FollowerCount(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("counting followers: %w", err)
	}
	following, err = s.follows.FollowingCount(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("counting following: %w", err)
	}
	return followers, following, nil
}

// Profile assembles the public view of username as seen by viewerID.
// viewerID may be empty for anonymous visitors.
func (s *GraphService) Profile(ctx context.Context, viewerID, username string) (*model.Profile, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	followers, following, err := s.Counts(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	profile := &model.Profile{
		User:      user,
		Followers: followers,
		Following: following,
		IsSelf:    viewerID == user.ID,
	}
	if viewerID != "" && !profile.IsSelf {
		profile.IsFollowing, err = s.IsFollowing(ctx, viewerID, user.ID)
		if err != nil {
			return nil, err
		}
	}
	return profile, nil
}
