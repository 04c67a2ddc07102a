package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/service"
)

// APIHandler serves the third-party membership API.
type APIHandler struct {
	apps   *service.APIAppService
	logger *slog.Logger
}

func NewAPIHandler(apps *service.APIAppService, logger *slog.Logger) *APIHandler {
	return &APIHandler{apps: apps, logger: logger}
}

type createAppResponse struct {
	App *model.APIApp `json:"app"`
	// Key is shown once; only its hash is stored.
	Key string `json:"key"`
}

// HandleCreateApp registers an API app.
//
// HTTP: POST /apps
// REQUEST BODY: {"name": "reps portal"}
// Auth: vouched member
func (h *APIHandler) HandleCreateApp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	app, key, err := h.apps.Create(r.Context(), viewerID(r), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createAppResponse{App: app, Key: key})
}

// HandleUsers answers whether an email belongs to a vouched member.
//
// HTTP: GET /api/v1/users?app_name=...&app_key=...&email=...
func (h *APIHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status, err := h.apps.CheckVouched(r.Context(), q.Get("app_name"), q.Get("app_key"), q.Get("email"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
