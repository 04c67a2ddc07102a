package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/phonebook/internal/service"
)

type GroupHandler struct {
	groups *service.GroupService
	logger *slog.Logger
}

func NewGroupHandler(groups *service.GroupService, logger *slog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, logger: logger}
}

// HandleList is GET /groups?sort=name|-num_members|num_members&page=
func (h *GroupHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.groups.List(r.Context(), viewerID(r), r.URL.Query().Get("sort"), queryInt(r, "page"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAutocomplete is GET /groups/search?term=
func (h *GroupHandler) HandleAutocomplete(w http.ResponseWriter, r *http.Request) {
	names, err := h.groups.Autocomplete(r.Context(), viewerID(r), r.URL.Query().Get("term"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// HandleShow is GET /group/{url}?page=
func (h *GroupHandler) HandleShow(w http.ResponseWriter, r *http.Request) {
	res, err := h.groups.Show(r.Context(), viewerID(r), chi.URLParam(r, "url"), queryInt(r, "page"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleToggle is POST /group/{url}/toggle. Joining or leaving a system
// group is silently ignored.
func (h *GroupHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	res, err := h.groups.Toggle(r.Context(), viewerID(r), chi.URLParam(r, "url"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
