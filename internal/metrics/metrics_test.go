package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Registered("password")
		m.Login("password", true)
		m.PasswordReset("requested")
		m.FollowChanged("follow")
		m.PostCreated()
		m.FeedServed(3)
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.Middleware(next))
}

func TestDomainCounters(t *testing.T) {
	m := New()

	m.Registered("password")
	m.Registered("github")
	m.Registered("password")
	m.Login("password", false)
	m.FollowChanged("follow")
	m.PostCreated()
	m.PostCreated()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.registrations.WithLabelValues("password")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues("github")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("password", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.followChanges.WithLabelValues("follow")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.postsCreated))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/users/{username}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, name := range []string{"alice", "bob", "carol"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users/"+name, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/users/{username}", "404"))
	assert.Equal(t, 3.0, got, "three requests to different users share one series")
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.PostCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "microblog_posts_created_total 1"), "body missing posts counter")
	assert.Contains(t, body, "go_goroutines")
}
