package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
)

func mustFollow(t *testing.T, db *DB, followerID, followedID string) {
	t.Helper()
	edge := &model.FollowEdge{FollowerID: followerID, FollowedID: followedID}
	if _, err := db.Follows().Follow(context.Background(), edge); err != nil {
		t.Fatalf("Follow(%s -> %s): %v", followerID, followedID, err)
	}
}

func TestFollow_IsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a")
	b := createTestUser(t, db, "b")

	created, err := db.Follows().Follow(ctx, &model.FollowEdge{FollowerID: a.ID, FollowedID: b.ID})
	if err != nil || !created {
		t.Fatalf("first Follow() = %v, %v; want true, nil", created, err)
	}
	created, err = db.Follows().Follow(ctx, &model.FollowEdge{FollowerID: a.ID, FollowedID: b.ID})
	if err != nil || created {
		t.Fatalf("second Follow() = %v, %v; want false, nil", created, err)
	}

	if n, _ := db.Follows().FollowerCount(ctx, b.ID); n != 1 {
		t.Errorf("FollowerCount = %d, want 1", n)
	}
	if n, _ := db.Follows().FollowingCount(ctx, a.ID); n != 1 {
		t.Errorf("FollowingCount = %d, want 1", n)
	}
}

func TestFollow_IsDirected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a")
	b := createTestUser(t, db, "b")
	mustFollow(t, db, a.ID, b.ID)

	if ok, _ := db.Follows().IsFollowing(ctx, a.ID, b.ID); !ok {
		t.Error("IsFollowing(a, b) = false, want true")
	}
	if ok, _ := db.Follows().IsFollowing(ctx, b.ID, a.ID); ok {
		t.Error("IsFollowing(b, a) = true, want false")
	}
}

func TestFollow_SelfEdgeIsNeverStored(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a")

	created, err := db.Follows().Follow(ctx, &model.FollowEdge{FollowerID: a.ID, FollowedID: a.ID})
	if err != nil {
		t.Fatalf("Follow(self) error = %v", err)
	}
	if created {
		t.Error("Follow(self) reported a new edge")
	}
	if ok, _ := db.Follows().IsFollowing(ctx, a.ID, a.ID); ok {
		t.Error("self edge was stored")
	}
}

func TestFollow_MissingUser(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a")

	_, err := db.Follows().Follow(ctx, &model.FollowEdge{FollowerID: a.ID, FollowedID: "ghost"})
	var appErr *apperror.AppError
	if !errors.Is(err, apperror.ErrNotFound) || !errors.As(err, &appErr) {
		t.Fatalf("Follow() error = %v, want ErrNotFound", err)
	}
	if appErr.Message != "user not found with id ghost" {
		t.Errorf("Message = %q, want the followed side named", appErr.Message)
	}

	_, err = db.Follows().Follow(ctx, &model.FollowEdge{FollowerID: "ghost", FollowedID: a.ID})
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("Follow() from missing user error = %v, want ErrNotFound", err)
	}
}

func TestUnfollow_IsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a")
	b := createTestUser(t, db, "b")
	mustFollow(t, db, a.ID, b.ID)

	removed, err := db.Follows().Unfollow(ctx, a.ID, b.ID)
	if err != nil || !removed {
		t.Fatalf("first Unfollow() = %v, %v; want true, nil", removed, err)
	}
	removed, err = db.Follows().Unfollow(ctx, a.ID, b.ID)
	if err != nil || removed {
		t.Fatalf("second Unfollow() = %v, %v; want false, nil", removed, err)
	}
	if ok, _ := db.Follows().IsFollowing(ctx, a.ID, b.ID); ok {
		t.Error("edge still present after Unfollow")
	}
}

func TestFollowIDs(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a")
	b := createTestUser(t, db, "b")
	c := createTestUser(t, db, "c")
	mustFollow(t, db, a.ID, b.ID)
	mustFollow(t, db, a.ID, c.ID)
	mustFollow(t, db, c.ID, b.ID)

	following, err := db.Follows().FollowingIDs(ctx, a.ID)
	if err != nil {
		t.Fatalf("FollowingIDs(): %v", err)
	}
	if len(following) != 2 || following[0] != b.ID || following[1] != c.ID {
		t.Errorf("FollowingIDs(a) = %v, want [%s %s]", following, b.ID, c.ID)
	}

	followers, err := db.Follows().FollowerIDs(ctx, b.ID)
	if err != nil {
		t.Fatalf("FollowerIDs(): %v", err)
	}
	if len(followers) != 2 || followers[0] != a.ID || followers[1] != c.ID {
		t.Errorf("FollowerIDs(b) = %v, want [%s %s]", followers, a.ID, c.ID)
	}

	none, err := db.Follows().FollowerIDs(ctx, a.ID)
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("FollowerIDs(a) = %#v, %v; want empty non-nil slice", none, err)
	}
}

// TestFollow_Concurrent hammers the same edge from many goroutines. The
// composite primary key must leave exactly one row and exactly one caller
// must observe created == true.
func TestFollow_Concurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	a := createTestUser(t, db, "a")
	b := createTestUser(t, db, "b")

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.Follows().Follow(ctx, &model.FollowEdge{FollowerID: a.ID, FollowedID: b.ID})
			if err != nil {
				t.Errorf("Follow() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Errorf("%d callers created the edge, want 1", created)
	}
	if n, _ := db.Follows().FollowerCount(ctx, b.ID); n != 1 {
		t.Errorf("FollowerCount = %d, want 1", n)
	}
}
