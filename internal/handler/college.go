// Package handler contains the HTTP handlers for the college proxy.
//
// The proxy exists so the Scorecard API key never ships inside the app:
// clients call this service, and this service calls the upstream with the
// key attached server-side.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/akashpatel/courseloop/internal/apperror"
	"github.com/akashpatel/courseloop/internal/college"
)

// CollegeSearcher is what the handler needs from the college client.
type CollegeSearcher interface {
	Search(ctx context.Context, query string) []college.College
}

// CollegeHandler serves school-name autocomplete.
type CollegeHandler struct {
	searcher CollegeSearcher
	logger   *slog.Logger
}

func NewCollegeHandler(searcher CollegeSearcher, logger *slog.Logger) *CollegeHandler {
	return &CollegeHandler{searcher: searcher, logger: logger}
}

// SearchResponse wraps the results so the payload can grow fields later
// without breaking clients.
type SearchResponse struct {
	Results []college.College `json:"results"`
}

// HandleSearch handles GET /api/colleges?q=<name>.
//
// The upstream search is best-effort and never errors, so the only failure
// this endpoint reports is a missing query. No results is a 200 with an
// empty list, not a 404.
func (h *CollegeHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, apperror.ValidationFailed("q", "query parameter q must not be empty"))
		return
	}

	results := h.searcher.Search(r.Context(), query)
	h.logger.Debug("college search served",
		slog.String("query", query),
		slog.Int("results", len(results)),
	)
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}
