package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/microblog/internal/apperror"
	"github.com/sakif/microblog/internal/model"
	"github.com/sakif/microblog/internal/service"
)

type FeedHandler struct {
	feed   *service.FeedService
	logger *slog.Logger
}

func NewFeedHandler(feed *service.FeedService, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{feed: feed, logger: logger}
}

// HandleFeed returns one page of the signed-in user's timeline.
//
// HTTP: GET /api/feed?limit=20&offset=0
//
//	GET /api/feed?limit=20&before=<post id>
//
// before is the ID of the last post of the previous page. Pages fetched that
// way never repeat a post when new ones arrive in between; offset pages can.
func (h *FeedHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	viewerID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var posts []model.Post
	if before := r.URL.Query().Get("before"); before != "" {
		if offset != 0 {
			writeError(w, h.logger, apperror.ValidationFailed("offset", "offset cannot be combined with before"))
			return
		}
		posts, err = h.feed.FeedBefore(r.Context(), viewerID, before, limit)
	} else {
		posts, err = h.feed.FeedFor(r.Context(), viewerID, limit, offset)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// HandleExport streams the signed-in user's whole timeline as
// newline-delimited JSON, newest first, each post once.
//
// HTTP: GET /api/feed/export
func (h *FeedHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	viewerID, err := currentUserID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	streamNDJSON(w, h.logger, h.feed.Feed(r.Context(), viewerID), "feed export interrupted",
		slog.String("viewerID", viewerID))
}
