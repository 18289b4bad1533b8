package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/auth"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/service"
)

// userView is a user as anyone may see them. No email, no GitHub ID.
type userView struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AboutMe   string    `json:"aboutMe"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserView(u *model.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		AboutMe:   u.AboutMe,
		LastSeen:  u.LastSeen,
		CreatedAt: u.CreatedAt,
	}
}

func newUserViews(users []model.User) []userView {
	out := make([]userView, len(users))
	for i := range users {
		out[i] = newUserView(&users[i])
	}
	return out
}

// meView is the account owner's view of themselves.
type meView struct {
	userView
	Email       string `json:"email"`
	HasGitHub   bool   `json:"hasGithub"`
	HasPassword bool   `json:"hasPassword"`
}

func newMeView(u *model.User) meView {
	return meView{
		userView:    newUserView(u),
		Email:       u.Email,
		HasGitHub:   u.GitHubID != nil,
		HasPassword: u.HasPassword(),
	}
}

type profileResponse struct {
	User        userView `json:"user"`
	Followers   int      `json:"followers"`
	Following   int      `json:"following"`
	IsFollowing bool     `json:"isFollowing"`
	IsSelf      bool     `json:"isSelf"`
}

type followResponse struct {
	Username  string `json:"username"`
	Following bool   `json:"following"`
}

// UserHandler serves the account owner's own endpoints (/api/me) and
// everything under /api/users/{username}.
type UserHandler struct {
	identity *service.IdentityService
	graph    *service.GraphService
	posts    *service.PostService
	logger   *slog.Logger
}

func NewUserHandler(
	identity *service.IdentityService,
	graph *service.GraphService,
	posts *service.PostService,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{identity: identity, graph: graph, posts: posts, logger: logger}
}

// currentUserID reads the ID RequireAuth put in the context. On a protected
// route it is always there.
func currentUserID(r *http.Request) (string, error) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return "", apperror.Unauthorized("valid authentication required")
	}
	return id, nil
}

// target resolves the {username} path segment.
func (h *UserHandler) target(r *http.Request) (*model.User, error) {
	username := chi.URLParam(r, "username")
	user, ok, err := h.identity.FindByUsername(r.Context(), username)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperror.AppError{Err: apperror.ErrNotFound, Message: "user " + username + " not found"}
	}
	return user, nil
}

// HandleMe returns the signed-in user's own account.
//
// HTTP: GET /api/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, ok, err := h.identity.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !ok {
		// Valid token for an account that has since been deleted.
		clearSessionCookie(w)
		writeError(w, h.logger, apperror.Unauthorized("valid authentication required"))
		return
	}

	writeJSON(w, http.StatusOK, newMeView(user))
}

type updateMeRequest struct {
	Username string `json:"username"`
	AboutMe  string `json:"aboutMe"`
}

// HandleUpdateMe changes the signed-in user's username and about-me.
//
// HTTP: PUT /api/me
// REQUEST BODY: {"username": "alice", "aboutMe": "..."}
func (h *UserHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req updateMeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.identity.UpdateProfile(r.Context(), userID, req.Username, req.AboutMe)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newMeView(user))
}

// HandleDeleteMe deletes the signed-in user's account, posts and follows.
//
// HTTP: DELETE /api/me
func (h *UserHandler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.identity.DeleteAccount(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleProfile shows a user's public profile with follower counts.
// Signed-in viewers also learn whether they follow this user.
//
// HTTP: GET /api/users/{username}
func (h *UserHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())

	profile, err := h.graph.Profile(r.Context(), viewerID, chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, profileResponse{
		User:        newUserView(profile.User),
		Followers:   profile.Followers,
		Following:   profile.Following,
		IsFollowing: profile.IsFollowing,
		IsSelf:      profile.IsSelf,
	})
}

// HandleFollow makes the signed-in user follow {username}.
//
// HTTP: POST /api/users/{username}/follow
// RESPONSES: 200 (also when already following), 400 self-follow, 404 unknown user
func (h *UserHandler) HandleFollow(w http.ResponseWriter, r *http.Request) {
	h.changeFollow(w, r, true)
}

// HandleUnfollow removes the signed-in user's follow of {username}.
//
// HTTP: DELETE /api/users/{username}/follow
func (h *UserHandler) HandleUnfollow(w http.ResponseWriter, r *http.Request) {
	h.changeFollow(w, r, false)
}

func (h *UserHandler) changeFollow(w http.ResponseWriter, r *http.Request, follow bool) {
	actorID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	target, err := h.target(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if follow {
		err = h.graph.Follow(r.Context(), actorID, target.ID)
	} else {
		err = h.graph.Unfollow(r.Context(), actorID, target.ID)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, followResponse{Username: target.Username, Following: follow})
}

// HandleFollowers lists who follows {username}.
//
// HTTP: GET /api/users/{username}/followers
func (h *UserHandler) HandleFollowers(w http.ResponseWriter, r *http.Request) {
	target, err := h.target(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	users, err := h.graph.Followers(r.Context(), target.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserViews(users))
}

// HandleFollowing lists who {username} follows.
//
// HTTP: GET /api/users/{username}/following
func (h *UserHandler) HandleFollowing(w http.ResponseWriter, r *http.Request) {
	target, err := h.target(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	users, err := h.graph.Following(r.Context(), target.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserViews(users))
}

// HandlePosts returns one page of {username}'s posts, newest first.
//
// HTTP: GET /api/users/{username}/posts?limit=20&offset=0
func (h *UserHandler) HandlePosts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	target, err := h.target(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	posts, err := h.posts.ListByAuthor(r.Context(), target.ID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleExport streams every post by {username} as newline-delimited JSON.
//
// HTTP: GET /api/users/{username}/posts/export
//
// STREAMING:
// Posts are encoded one at a time straight from the database cursor and
// flushed as they go, so memory stays flat however many posts there are.
// Once the first line is out the status is committed; a failure after that
// can only be logged, and the client sees a truncated stream.
func (h *UserHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	target, err := h.target(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	streamNDJSON(w, h.logger, h.posts.PostsByAuthor(r.Context(), target.ID), "post export interrupted",
		slog.String("userID", target.ID))
}
