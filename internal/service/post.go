package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

// PostService writes and reads posts.
type PostService struct {
	posts  repository.PostRepository
	logger *slog.Logger
	options
}

func NewPostService(posts repository.PostRepository, logger *slog.Logger, opts ...Option) *PostService {
	return &PostService{
		posts:   posts,
		logger:  orDiscard(logger),
		options: buildOptions(opts),
	}
}

// Create publishes a post by authorID.
//
// VALIDATION:
// The body is trimmed first. Length is counted in characters (runes), not
// bytes, so "héllo" is 5 long.
func (s *PostService) Create(ctx context.Context, authorID, body string) (*model.Post, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperror.ValidationFailed("body", "post body is required")
	}
	if utf8.RuneCountInString(body) > model.MaxPostLength {
		return nil, apperror.ValidationFailed("body",
			fmt.Sprintf("post body must be %d characters or less", model.MaxPostLength))
	}

	post := &model.Post{
		AuthorID:  authorID,
		Body:      body,
		Timestamp: s.now().UTC(),
	}
	if err := s.posts.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("creating post: %w", err)
	}

	s.metrics.PostCreated()
	s.logger.Info("post created",
		slog.String("postID", post.ID),
		slog.String("authorID", authorID),
	)
	return post, nil
}

func (s *PostService) Get(ctx context.Context, id string) (*model.Post, error) {
	post, err := s.posts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting post: %w", err)
	}
	return post, nil
}

// ListByAuthor returns one page of authorID's posts, newest first.
// The repository clamps limit to a sane range.
func (s *PostService) ListByAuthor(ctx context.Context, authorID string, limit, offset int) ([]model.Post, error) {
	posts, err := s.posts.ListByAuthors(ctx, []string{authorID},
		repository.ListOptions{Limit: limit, Offset: max(offset, 0)})
	if err != nil {
		return nil, fmt.Errorf("listing posts: %w", err)
	}
	return posts, nil
}

// PostsByAuthor streams every post by authorID, newest first. Nothing is
// queried until the sequence is ranged over.
func (s *PostService) PostsByAuthor(ctx context.Context, authorID string) iter.Seq2[model.Post, error] {
	return s.posts.AllByAuthor(ctx, authorID)
}
