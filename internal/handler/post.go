package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/microblog/internal/service"
)

// PostHandler handles writing and reading single posts.
type PostHandler struct {
	posts  *service.PostService
	logger *slog.Logger
}

func NewPostHandler(posts *service.PostService, logger *slog.Logger) *PostHandler {
	return &PostHandler{posts: posts, logger: logger}
}

type createPostRequest struct {
	Body string `json:"body"`
}

// HandleCreate publishes a post as the signed-in user.
//
// HTTP: POST /api/posts
// REQUEST BODY: {"body": "hello world"}
// RESPONSES: 201 post, 400 empty or longer than 140 characters
func (h *PostHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	authorID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req createPostRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	post, err := h.posts.Create(r.Context(), authorID, req.Body)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, post)
}

// HandleGet returns one post.
//
// HTTP: GET /api/posts/{id}
func (h *PostHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	post, err := h.posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}
