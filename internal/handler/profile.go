package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/service"
)

// ProfileHandler serves profile pages and the member's own account actions.
type ProfileHandler struct {
	profiles *service.ProfileService
	cookies  Cookies
	logger   *slog.Logger
}

func NewProfileHandler(profiles *service.ProfileService, cookies Cookies, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, cookies: cookies, logger: logger}
}

// HandleView returns a profile page, redacted to what the viewer may see.
// Owners can preview their page as another audience with view_as
// (anonymous, mozillian, employee, privileged or myself).
//
// HTTP: GET /u/{username}?view_as=anonymous
func (h *ProfileHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	view, err := h.profiles.Preview(r.Context(), viewerID(r), chi.URLParam(r, "username"), r.URL.Query().Get("view_as"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetEdit returns the signed-in member's own profile for editing.
//
// HTTP: GET /user/edit
// Auth: Required
func (h *ProfileHandler) HandleGetEdit(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetByID(r.Context(), viewerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// editRequest is the profile edit form. A missing "groups" key leaves
// memberships alone; an empty list leaves every non-system group. A missing
// "privacy" key keeps the current privacy settings.
type editRequest struct {
	Username string         `json:"username"`
	FullName string         `json:"fullName"`
	Bio      string         `json:"bio"`
	IRCName  string         `json:"ircname"`
	Website  string         `json:"website"`
	Country  string         `json:"country"`
	Region   string         `json:"region"`
	City     string         `json:"city"`
	Groups   *[]string      `json:"groups"`
	Privacy  *model.Privacy `json:"privacy"`
}

type editResponse struct {
	Profile         *model.Profile `json:"profile"`
	UsernameChanged bool           `json:"usernameChanged"`
	Redirect        string         `json:"redirect"`
}

// HandleEdit saves the signed-in member's profile.
//
// HTTP: PUT /user/edit
// Auth: Required
func (h *ProfileHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	upd := service.ProfileUpdate{
		Username: req.Username,
		FullName: req.FullName,
		Bio:      req.Bio,
		IRCName:  req.IRCName,
		Website:  req.Website,
		Country:  req.Country,
		Region:   req.Region,
		City:     req.City,
		Privacy:  req.Privacy,
	}
	if req.Groups != nil {
		upd.Groups = *req.Groups
		if upd.Groups == nil {
			upd.Groups = []string{}
		}
	}

	res, err := h.profiles.Edit(r.Context(), viewerID(r), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{
		Profile:         res.Profile,
		UsernameChanged: res.UsernameChanged,
		Redirect:        "/u/" + res.Profile.Username,
	})
}

// HandleVouch vouches for another member.
//
// HTTP: POST /vouch
// REQUEST BODY: {"vouchee": "<profile id>"}
// Auth: Required
func (h *ProfileHandler) HandleVouch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Vouchee string `json:"vouchee"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.profiles.Vouch(r.Context(), viewerID(r), req.Vouchee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Thanks for vouching for a fellow member! This member is now vouched.",
		"profile": p,
	})
}

// HandleDelete anonymizes the signed-in member's account and signs them out.
//
// HTTP: POST /user/delete
// Auth: Required
func (h *ProfileHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.Anonymize(r.Context(), viewerID(r)); err != nil {
		writeError(w, err)
		return
	}
	h.cookies.set(w, auth.SessionCookie, "", 0)
	writeJSON(w, http.StatusOK, map[string]string{"message": "your account has been deleted"})
}

// HandleLocation lists members by place.
//
// HTTP: GET /country/{country}[/region/{region}][/city/{city}]?page=
func (h *ProfileHandler) HandleLocation(w http.ResponseWriter, r *http.Request) {
	res, err := h.profiles.InLocation(r.Context(), viewerID(r),
		chi.URLParam(r, "country"),
		chi.URLParam(r, "region"),
		chi.URLParam(r, "city"),
		queryInt(r, "limit"),
		queryInt(r, "page"),
	)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
