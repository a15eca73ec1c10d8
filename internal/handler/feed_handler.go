package handler

import (
	"net/http"

	"github.com/shiva/sosdispatch/internal/service"
)

// FeedHandler serves the dashboard polling feed.
type FeedHandler struct {
	feed *service.FeedService
}

// NewFeedHandler creates a new feed handler.
func NewFeedHandler(feed *service.FeedService) *FeedHandler {
	return &FeedHandler{feed: feed}
}

// Feed handles GET /api/v1/feed
//
// Clients poll this on their own interval. The response is never cached.
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	view, err := h.feed.Snapshot(r.Context(), principal(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
}
