package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository"
)

// alice follows bob; alice posts at t1, bob at t2, alice again at t3.
func TestFeedFor_OwnAndFollowedNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")

	env.follow(t, alice, bob)
	env.post(t, alice, "t1 alice")
	env.post(t, bob, "t2 bob")
	env.post(t, carol, "carol, not followed")
	env.post(t, alice, "t3 alice")

	feed, err := env.feed.FeedFor(context.Background(), alice.ID, 0, 0)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}

	want := []string{"t3 alice", "t2 bob", "t1 alice"}
	if diff := cmp.Diff(want, bodies(feed)); diff != "" {
		t.Errorf("feed mismatch (-want +got):\n%s", diff)
	}

	// bob doesn't follow alice, so he sees only his own.
	feed, err = env.feed.FeedFor(context.Background(), bob.ID, 0, 0)
	if err != nil {
		t.Fatalf("FeedFor(bob) error = %v", err)
	}
	if diff := cmp.Diff([]string{"t2 bob"}, bodies(feed)); diff != "" {
		t.Errorf("bob's feed mismatch (-want +got):\n%s", diff)
	}
}

// A post must appear once however many edges point at its author. A join of
// posts against the followers table would repeat it once per follower.
func TestFeedFor_NoDuplicatesFromManyFollowers(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	carol := env.register(t, "carol")
	dave := env.register(t, "dave")

	// carol is followed by three people, and follows alice back.
	env.follow(t, alice, carol)
	env.follow(t, bob, carol)
	env.follow(t, dave, carol)
	env.follow(t, carol, alice)
	env.post(t, carol, "popular")
	env.post(t, alice, "mine")

	feed, err := env.feed.FeedFor(context.Background(), alice.ID, 0, 0)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}
	if diff := cmp.Diff([]string{"mine", "popular"}, bodies(feed)); diff != "" {
		t.Errorf("feed mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedFor_LonelyViewerSeesOwnPosts(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	env.post(t, alice, "anyone out there?")

	feed, err := env.feed.FeedFor(context.Background(), alice.ID, 0, 0)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}
	if len(feed) != 1 || feed[0].AuthorID != alice.ID {
		t.Errorf("feed = %v, want alice's single post", bodies(feed))
	}
}

// Equal timestamps fall back to insertion order, later insert first.
func TestFeedFor_TieBreak(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	env.follow(t, alice, bob)

	for _, p := range []struct {
		author *model.User
		body   string
	}{
		{alice, "first"},
		{bob, "second"},
		{alice, "third"},
	} {
		// Clock not advanced: all three share a timestamp.
		if _, err := env.posts.Create(context.Background(), p.author.ID, p.body); err != nil {
			t.Fatalf("Create(%q) error = %v", p.body, err)
		}
	}

	feed, err := env.feed.FeedFor(context.Background(), alice.ID, 0, 0)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}
	if diff := cmp.Diff([]string{"third", "second", "first"}, bodies(feed)); diff != "" {
		t.Errorf("feed mismatch (-want +got):\n%s", diff)
	}
}

// For any interleaving of posts, the feed is sorted newest first and
// contains exactly the posts by the viewer and their followees.
func TestFeedFor_SortedAndComplete(t *testing.T) {
	env := newTestEnv(t)
	viewer := env.register(t, "viewer")
	followed := env.register(t, "followed")
	stranger := env.register(t, "stranger")
	env.follow(t, viewer, followed)

	authors := []*model.User{viewer, followed, stranger}
	var wantIDs []string
	for i := range 30 {
		author := authors[(i*7)%len(authors)]
		// Mix of equal and increasing timestamps.
		if i%3 == 0 {
			env.clock.Advance(time.Duration(i) * time.Second)
		}
		p, err := env.posts.Create(context.Background(), author.ID, fmt.Sprintf("post %d", i))
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if author != stranger {
			wantIDs = append(wantIDs, p.ID)
		}
	}

	feed, err := env.feed.FeedFor(context.Background(), viewer.ID, 100, 0)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}

	sorted := slices.IsSortedFunc(feed, func(a, b model.Post) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if !sorted {
		t.Error("feed is not ordered newest first")
	}

	gotIDs := make([]string, len(feed))
	for i, p := range feed {
		gotIDs[i] = p.ID
	}
	slices.Sort(gotIDs)
	slices.Sort(wantIDs)
	if diff := cmp.Diff(wantIDs, gotIDs); diff != "" {
		t.Errorf("feed post set mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedFor_Pagination(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	for i := range 5 {
		env.post(t, alice, fmt.Sprintf("p%d", i))
	}

	page, err := env.feed.FeedFor(context.Background(), alice.ID, 2, 1)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}
	if diff := cmp.Diff([]string{"p3", "p2"}, bodies(page)); diff != "" {
		t.Errorf("page mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedFor_UnfollowRemovesPosts(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	env.follow(t, alice, bob)
	env.post(t, bob, "from bob")

	if err := env.graph.Unfollow(context.Background(), alice.ID, bob.ID); err != nil {
		t.Fatalf("Unfollow() error = %v", err)
	}

	feed, err := env.feed.FeedFor(context.Background(), alice.ID, 0, 0)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}
	if len(feed) != 0 {
		t.Errorf("feed = %v, want empty after unfollow", bodies(feed))
	}
}

// =========================================================================
// STORAGE FAILURES
// =========================================================================

// stubFollows and stubPosts embed the interface so only the methods under
// test need a body; anything else panics on the nil embedded value.
type stubFollows struct {
	repository.FollowRepository
	ids []string
	err error
}

func (s stubFollows) FollowingIDs(context.Context, string) ([]string, error) { return s.ids, s.err }

type stubPosts struct {
	repository.PostRepository
	posts  []model.Post
	err    error
	gotIDs *[]string
}

func (s stubPosts) AllByAuthors(_ context.Context, ids []string) iter.Seq2[model.Post, error] {
	if s.gotIDs != nil {
		*s.gotIDs = ids
	}
	return func(yield func(model.Post, error) bool) {
		for _, p := range s.posts {
			if !yield(p, nil) {
				return
			}
		}
		if s.err != nil {
			yield(model.Post{}, s.err)
		}
	}
}

func (s stubPosts) ListByAuthors(_ context.Context, ids []string, _ repository.ListOptions) ([]model.Post, error) {
	if s.gotIDs != nil {
		*s.gotIDs = ids
	}
	return s.posts, s.err
}

func TestFeedFor_StorageFailuresSurface(t *testing.T) {
	unavailable := apperror.Unavailable("reading", errors.New("database is locked"))

	tests := []struct {
		name    string
		follows stubFollows
		posts   stubPosts
	}{
		{"following lookup fails", stubFollows{err: unavailable}, stubPosts{}},
		{"post query fails", stubFollows{}, stubPosts{err: unavailable}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := NewFeedService(tt.follows, tt.posts, nil)
			_, err := feed.FeedFor(context.Background(), "viewer", 10, 0)
			if !errors.Is(err, apperror.ErrUnavailable) {
				t.Errorf("FeedFor() error = %v, want ErrUnavailable", err)
			}

			_, err = collect(feed.Feed(context.Background(), "viewer"))
			if !errors.Is(err, apperror.ErrUnavailable) {
				t.Errorf("Feed() error = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestFeedFor_AuthorSetAndDedupe(t *testing.T) {
	var gotIDs []string
	dup := model.Post{ID: "p1", Body: "dup"}
	feed := NewFeedService(
		stubFollows{ids: []string{"b", "viewer", "c", "b"}},
		stubPosts{posts: []model.Post{dup, {ID: "p2", Body: "other"}, dup}, gotIDs: &gotIDs},
		nil,
	)

	posts, err := feed.FeedFor(context.Background(), "viewer", 10, 0)
	if err != nil {
		t.Fatalf("FeedFor() error = %v", err)
	}

	if diff := cmp.Diff([]string{"viewer", "b", "c"}, gotIDs); diff != "" {
		t.Errorf("author set mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"dup", "other"}, bodies(posts)); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}
}

func TestFeed_StreamDedupesAndKeepsInputOrder(t *testing.T) {
	var gotIDs []string
	dup := model.Post{ID: "p1", Body: "dup"}
	feed := NewFeedService(
		stubFollows{ids: []string{"b", "viewer"}},
		stubPosts{posts: []model.Post{dup, {ID: "p2", Body: "other"}, dup}, gotIDs: &gotIDs},
		nil,
	)

	posts, err := collect(feed.Feed(context.Background(), "viewer"))
	if err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	if diff := cmp.Diff([]string{"viewer", "b"}, gotIDs); diff != "" {
		t.Errorf("author set mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"dup", "other"}, bodies(posts)); diff != "" {
		t.Errorf("posts mismatch (-want +got):\n%s", diff)
	}
}

func TestDedupePosts_LeavesInputAlone(t *testing.T) {
	in := []model.Post{{ID: "a"}, {ID: "a"}, {ID: "b"}}
	out := dedupePosts(in)

	if diff := cmp.Diff([]string{"a", "b"}, postIDs(out)); diff != "" {
		t.Errorf("dedupePosts() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "a", "b"}, postIDs(in)); diff != "" {
		t.Errorf("input was modified (-want +got):\n%s", diff)
	}
}

// =========================================================================
// WHOLE TIMELINE AND KEYSET PAGING
// =========================================================================

// u posts at t1 < t2 < t3 and v follows only u: v's feed is exactly
// [t3 t2 t1], and so is u's own.
func TestFeedFor_FollowerOfOneAuthor(t *testing.T) {
	env := newTestEnv(t)
	u := env.register(t, "u")
	v := env.register(t, "v")
	env.follow(t, v, u)

	env.post(t, u, "t1")
	env.post(t, u, "t2")
	env.post(t, u, "t3")

	want := []string{"t3", "t2", "t1"}
	for _, viewer := range []*model.User{v, u} {
		feed, err := env.feed.FeedFor(context.Background(), viewer.ID, 0, 0)
		if err != nil {
			t.Fatalf("FeedFor(%s) error = %v", viewer.Username, err)
		}
		if diff := cmp.Diff(want, bodies(feed)); diff != "" {
			t.Errorf("FeedFor(%s) mismatch (-want +got):\n%s", viewer.Username, diff)
		}

		all, err := collect(env.feed.Feed(context.Background(), viewer.ID))
		if err != nil {
			t.Fatalf("Feed(%s) error = %v", viewer.Username, err)
		}
		if diff := cmp.Diff(want, bodies(all)); diff != "" {
			t.Errorf("Feed(%s) mismatch (-want +got):\n%s", viewer.Username, diff)
		}
	}
}

// The whole timeline is not capped by the page size.
func TestFeed_WholeTimelineBeyondPageLimit(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	env.follow(t, bob, alice)

	const n = 150
	for i := range n {
		env.post(t, alice, fmt.Sprintf("alice %03d", i))
	}
	env.post(t, bob, "bob")

	mine, err := collect(env.feed.Feed(context.Background(), alice.ID))
	if err != nil {
		t.Fatalf("Feed(alice) error = %v", err)
	}
	if len(mine) != n {
		t.Fatalf("Feed(alice) returned %d posts, want %d", len(mine), n)
	}
	if mine[0].Body != "alice 149" || mine[n-1].Body != "alice 000" {
		t.Errorf("Feed(alice) ends = %q .. %q, want newest first", mine[0].Body, mine[n-1].Body)
	}

	theirs, err := collect(env.feed.Feed(context.Background(), bob.ID))
	if err != nil {
		t.Fatalf("Feed(bob) error = %v", err)
	}
	if len(theirs) != n+1 {
		t.Errorf("Feed(bob) returned %d posts, want %d", len(theirs), n+1)
	}
	if !slices.IsSortedFunc(theirs, func(a, b model.Post) int { return b.Timestamp.Compare(a.Timestamp) }) {
		t.Error("Feed(bob) is not newest first")
	}
}

func TestFeed_IsLazyAndRestartable(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")
	env.post(t, alice, "first")

	seq := env.feed.Feed(context.Background(), alice.ID)

	// Following bob after the sequence was built still counts.
	env.follow(t, alice, bob)
	env.post(t, bob, "second")

	for range 2 {
		got, err := collect(seq)
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		if diff := cmp.Diff([]string{"second", "first"}, bodies(got)); diff != "" {
			t.Errorf("Feed() mismatch (-want +got):\n%s", diff)
		}
	}
}

// A post written between two page fetches must not push an already-seen
// post onto the next page.
func TestFeedBefore_NoRepeatsWhenPostsArrive(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")
	env.post(t, alice, "p1")
	env.post(t, alice, "p2")
	env.post(t, alice, "p3")

	page1, err := env.feed.FeedBefore(context.Background(), alice.ID, "", 2)
	if err != nil {
		t.Fatalf("FeedBefore(first page) error = %v", err)
	}
	if diff := cmp.Diff([]string{"p3", "p2"}, bodies(page1)); diff != "" {
		t.Fatalf("page 1 mismatch (-want +got):\n%s", diff)
	}

	env.post(t, alice, "p4")

	page2, err := env.feed.FeedBefore(context.Background(), alice.ID, page1[len(page1)-1].ID, 2)
	if err != nil {
		t.Fatalf("FeedBefore(second page) error = %v", err)
	}
	if diff := cmp.Diff([]string{"p1"}, bodies(page2)); diff != "" {
		t.Errorf("page 2 mismatch (-want +got):\n%s", diff)
	}
}

func TestFeedBefore_UnknownCursor(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice")

	_, err := env.feed.FeedBefore(context.Background(), alice.ID, "no-such-post", 10)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("FeedBefore() error = %v, want ErrNotFound", err)
	}
}

func collect(seq iter.Seq2[model.Post, error]) ([]model.Post, error) {
	var out []model.Post
	for p, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
	return out, nil
}

func postIDs(posts []model.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
