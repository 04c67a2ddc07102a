package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sakif/phonebook/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
	logger *slog.Logger
}

func NewSearchHandler(search *service.SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{search: search, logger: logger}
}

// HandleSearch runs a directory search.
//
// HTTP: GET /search?q=...&limit=20&page=1&include_non_vouched=false
// Auth: optional. Anonymous and unvouched viewers get the public index.
//
// When exactly one profile and no group matches, the client is redirected
// straight to that profile.
func (h *SearchHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	res, err := h.search.Search(r.Context(), viewerID(r), service.SearchParams{
		Query:             r.URL.Query().Get("q"),
		Limit:             queryInt(r, "limit"),
		Page:              queryInt(r, "page"),
		IncludeNonVouched: queryBool(r, "include_non_vouched"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Redirect != "" {
		http.Redirect(w, r, "/u/"+url.PathEscape(res.Redirect), http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleReindex rebuilds the search index.
//
// HTTP: POST /admin/users/index_profiles
// Auth: administrator
func (h *SearchHandler) HandleReindex(w http.ResponseWriter, r *http.Request) {
	n, err := h.search.Reindex(r.Context(), viewerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "search index rebuilt",
		"documents": n,
	})
}
