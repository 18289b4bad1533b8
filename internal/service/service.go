// Package service contains the business rules of microblog.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Four services live here, one per part of the domain:
//
//	IdentityService → accounts, credentials, sessions, password reset, GitHub login
//	GraphService    → follow / unfollow, follower and following lists, profiles
//	PostService     → writing and listing posts
//	FeedService     → the viewer's timeline: own posts ∪ posts of everyone they follow
//
// NO AMBIENT CURRENT USER:
// Every method that acts on behalf of someone takes that someone's ID as an
// explicit argument (actorID, viewerID). The service layer never looks at a
// request, a cookie or a context value to find out who is asking.
package service

import (
	"log/slog"
	"time"

	"github.com/sakif/microblog/internal/metrics"
)

// DefaultResetTokenTTL is how long a password reset link stays usable.
const DefaultResetTokenTTL = 10 * time.Minute

// options are the optional collaborators shared by every service.
type options struct {
	now      func() time.Time
	metrics  *metrics.Metrics
	resetTTL time.Duration
}

// Option customises a service at construction time.
type Option func(*options)

// WithClock replaces time.Now. Tests use it to control timestamps and token expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics records domain events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithResetTokenTTL sets the lifetime of password reset tokens. Zero is
// allowed and yields tokens that are dead as soon as the clock moves.
func WithResetTokenTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl >= 0 {
			o.resetTTL = ttl
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, resetTTL: DefaultResetTokenTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// orDiscard lets tests pass a nil logger.
func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}
