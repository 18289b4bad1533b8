package service

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

// FeedService composes a viewer's timeline.
//
// HOW THE FEED IS BUILT:
//
//	authors = FollowingIDs(viewer) ∪ {viewer}
//	feed    = posts WHERE author_id IN authors ORDER BY timestamp DESC
//
// The author set is built in Go as a set, then handed to the post store as a
// single IN query. There is no outer join between posts and followers, so a
// post can't show up once per matching edge.
type FeedService struct {
	follows repository.FollowRepository
	posts   repository.PostRepository
	logger  *slog.Logger
	options
}

func NewFeedService(
	follows repository.FollowRepository,
	posts repository.PostRepository,
	logger *slog.Logger,
	opts ...Option,
) *FeedService {
	return &FeedService{
		follows: follows,
		posts:   posts,
		logger:  orDiscard(logger),
		options: buildOptions(opts),
	}
}

// FeedFor returns one page of viewerID's timeline: their own posts and the
// posts of everyone they follow, newest first. Equal timestamps fall back to
// insertion order, later insert first.
//
// Offset pages shift when new posts arrive between calls; clients walking
// the timeline should use FeedBefore, or Feed for the whole sequence.
func (s *FeedService) FeedFor(ctx context.Context, viewerID string, limit, offset int) ([]model.Post, error) {
	return s.page(ctx, viewerID, repository.ListOptions{Limit: limit, Offset: max(offset, 0)})
}

// FeedBefore returns the page of viewerID's timeline that follows the post
// beforeID, in the same order as FeedFor. Pages chained this way never repeat
// or skip a post, whatever is written in between. An empty beforeID starts at
// the newest post; an unknown one is apperror.ErrNotFound.
func (s *FeedService) FeedBefore(ctx context.Context, viewerID, beforeID string, limit int) ([]model.Post, error) {
	return s.page(ctx, viewerID, repository.ListOptions{Limit: limit, Before: beforeID})
}

func (s *FeedService) page(ctx context.Context, viewerID string, opts repository.ListOptions) ([]model.Post, error) {
	following, err := s.follows.FollowingIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("building feed: %w", err)
	}

	authors := authorSet(viewerID, following)

	posts, err := s.posts.ListByAuthors(ctx, authors, opts)
	if err != nil {
		return nil, fmt.Errorf("building feed: %w", err)
	}

	posts = dedupePosts(posts)
	s.metrics.FeedServed(len(posts))
	s.logger.Debug("feed served",
		slog.String("viewerID", viewerID),
		slog.Int("authors", len(authors)),
		slog.Int("posts", len(posts)),
	)
	return posts, nil
}

// Feed returns viewerID's whole timeline as a lazy sequence in FeedFor order,
// each post exactly once. The follow set is read when ranging starts, so
// every range reflects the graph and the posts as they are at that moment.
// A storage failure is yielded once and ends the sequence.
//
// Don't call other store methods from inside the loop when the database
// pool has a single connection; the post cursor holds it.
func (s *FeedService) Feed(ctx context.Context, viewerID string) iter.Seq2[model.Post, error] {
	return func(yield func(model.Post, error) bool) {
		following, err := s.follows.FollowingIDs(ctx, viewerID)
		if err != nil {
			yield(model.Post{}, fmt.Errorf("building feed: %w", err))
			return
		}

		seen := make(map[string]struct{})
		for post, err := range s.posts.AllByAuthors(ctx, authorSet(viewerID, following)) {
			if err != nil {
				yield(model.Post{}, fmt.Errorf("building feed: %w", err))
				return
			}
			if _, ok := seen[post.ID]; ok {
				continue
			}
			seen[post.ID] = struct{}{}
			if !yield(post, nil) {
				return
			}
		}
	}
}

// authorSet returns {viewer} ∪ following with no repeats, viewer first.
func authorSet(viewerID string, following []string) []string {
	seen := make(map[string]struct{}, len(following)+1)
	authors := make([]string, 0, len(following)+1)
	for _, id := range append([]string{viewerID}, following...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		authors = append(authors, id)
	}
	return authors
}

// dedupePosts keeps the first occurrence of each post ID, preserving order.
// The input slice is left untouched.
func dedupePosts(posts []model.Post) []model.Post {
	seen := make(map[string]struct{}, len(posts))
	out := make([]model.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
