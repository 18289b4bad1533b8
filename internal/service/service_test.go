package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/microblog/internal/auth"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/repository/sqlite"
)

// Every test closes its database in t.Cleanup, so nothing should still be
// running once the package finishes.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =========================================================================
// FIXTURES
// =========================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv is the whole service layer on top of a private in-memory database.
type testEnv struct {
	db       *sqlite.DB
	clock    *fakeClock
	tokens   *auth.TokenService
	identity *IdentityService
	graph    *GraphService
	posts    *PostService
	feed     *FeedService
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := newFakeClock()
	tokens, err := auth.NewTokenService("test-secret-0123456789", auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}

	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return &testEnv{
		db:     db,
		clock:  clock,
		tokens: tokens,
		identity: NewIdentityService(
			db.Users(),
			auth.NewPasswordServiceWithCost(bcrypt.MinCost),
			tokens,
			auth.NewMemoryLedger(clock.Now),
			nil,
			opts...,
		),
		graph: NewGraphService(db.Follows(), db.Users(), nil, opts...),
		posts: NewPostService(db.Posts(), nil, opts...),
		feed:  NewFeedService(db.Follows(), db.Posts(), nil, opts...),
	}
}

// register creates a user whose email and password derive from username.
func (e *testEnv) register(t *testing.T, username string) *model.User {
	t.Helper()
	user, err := e.identity.Register(context.Background(), username, username+"@example.com", "pw-"+username)
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return user
}

func (e *testEnv) follow(t *testing.T, actor, target *model.User) {
	t.Helper()
	if err := e.graph.Follow(context.Background(), actor.ID, target.ID); err != nil {
		t.Fatalf("Follow(%s -> %s) error = %v", actor.Username, target.Username, err)
	}
}

// post writes body as author, then moves the clock on a second so the next
// post is strictly newer.
func (e *testEnv) post(t *testing.T, author *model.User, body string) *model.Post {
	t.Helper()
	p, err := e.posts.Create(context.Background(), author.ID, body)
	if err != nil {
		t.Fatalf("Create post %q error = %v", body, err)
	}
	e.clock.Advance(time.Second)
	return p
}

func bodies(posts []model.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.Body
	}
	return out
}

func usernames(users []model.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Username
	}
	return out
}
