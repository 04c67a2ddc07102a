package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/service"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateTTL    = 10 * time.Minute
)

// AuthHandler manages sign-in, registration and sign-out.
//
// HANDLER RESPONSIBILITIES:
//   - HandleBrowserIDVerify → check a BrowserID assertion, then sign in or start registration
//   - HandleGitHubLogin     → redirect the browser to GitHub's authorization page
//   - HandleGitHubCallback  → receive the code, then sign in or start registration
//   - HandleRegister        → create the profile for the verified email
//   - HandleLogout          → clear the session cookie
//   - HandleHome            → who am I?
type AuthHandler struct {
	reg       *service.RegistrationService
	profiles  *service.ProfileService
	browserID auth.Verifier
	github    *auth.GitHubProvider // nil when GitHub sign-in is not configured
	tokens    *auth.TokenService
	cookies   Cookies
	logger    *slog.Logger
}

func NewAuthHandler(
	reg *service.RegistrationService,
	profiles *service.ProfileService,
	browserID auth.Verifier,
	github *auth.GitHubProvider,
	tokens *auth.TokenService,
	cookies Cookies,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		reg:       reg,
		profiles:  profiles,
		browserID: browserID,
		github:    github,
		tokens:    tokens,
		cookies:   cookies,
		logger:    logger,
	}
}

// signInResponse tells the client what happens next.
type signInResponse struct {
	Status   string         `json:"status"` // "signed_in" or "registration_required"
	Email    string         `json:"email"`
	Profile  *model.Profile `json:"profile,omitempty"`
	Redirect string         `json:"redirect"`
}

// HandleBrowserIDVerify checks a BrowserID assertion.
//
// HTTP: POST /browserid/verify
// REQUEST BODY: {"assertion": "..."}
//
// Existing members get the session cookie. New emails get the registration
// cookie and are sent to the registration form.
func (h *AuthHandler) HandleBrowserIDVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assertion string `json:"assertion"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	id, err := h.browserID.Verify(r.Context(), req.Assertion)
	if err != nil {
		if errors.Is(err, auth.ErrAssertionRejected) {
			h.logger.Info("browserid assertion rejected", slog.String("error", err.Error()))
			writeError(w, apperror.Forbidden("identity could not be verified"))
			return
		}
		h.logger.Error("browserid verification failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "verifier_unavailable",
			Message: "identity verification is temporarily unavailable",
		})
		return
	}

	res, err := h.reg.VerifyIdentity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.startSession(w, res))
}

// startSession sets the cookie matching res and builds the response.
func (h *AuthHandler) startSession(w http.ResponseWriter, res *service.VerifyResult) signInResponse {
	if res.NeedsRegistration() {
		h.cookies.set(w, auth.RegistrationCookie, res.RegistrationToken, auth.RegistrationTTL)
		return signInResponse{Status: "registration_required", Email: res.Email, Redirect: "/register"}
	}
	h.cookies.set(w, auth.SessionCookie, res.SessionToken, auth.SessionTTL)
	h.cookies.set(w, auth.RegistrationCookie, "", 0)
	return signInResponse{
		Status:   "signed_in",
		Email:    res.Email,
		Profile:  res.Profile,
		Redirect: "/u/" + res.Profile.Username,
	}
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state is stored in a short-lived cookie and sent to GitHub.
// HandleGitHubCallback checks that GitHub echoes the same value back.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()
	h.cookies.set(w, oauthStateCookie, state, oauthStateTTL)
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for the account's verified primary email
//  3. Sign in or start registration, exactly like BrowserID
//  4. Redirect to the profile or to the registration form
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: invalid OAuth state")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	// single-use
	h.cookies.set(w, oauthStateCookie, "", 0)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	id, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		if errors.Is(err, auth.ErrAssertionRejected) {
			writeError(w, apperror.Forbidden("your GitHub account has no verified primary email"))
			return
		}
		h.logger.Error("auth callback: GitHub exchange failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:   "provider_unavailable",
			Message: "GitHub sign-in failed",
		})
		return
	}

	res, err := h.reg.VerifyIdentity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := h.startSession(w, res)
	http.Redirect(w, r, out.Redirect, http.StatusSeeOther)
}

// registerRequest is the registration form.
type registerRequest struct {
	Username string   `json:"username"`
	FullName string   `json:"fullName"`
	Bio      string   `json:"bio"`
	IRCName  string   `json:"ircname"`
	Website  string   `json:"website"`
	Country  string   `json:"country"`
	Region   string   `json:"region"`
	City     string   `json:"city"`
	Groups   []string `json:"groups"`
	Optin    bool     `json:"optin"`
}

// HandleRegister creates the profile of a verified new member.
//
// HTTP: POST /register
// Auth: registration cookie (set by a verification endpoint)
//
// The email comes from the signed registration token, never from the body.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.RegistrationCookie)
	if err != nil {
		writeError(w, apperror.Unauthorized("verify your identity before registering"))
		return
	}
	email, err := h.tokens.ValidateRegistration(cookie.Value)
	if err != nil {
		writeError(w, apperror.Unauthorized("registration expired, verify your identity again"))
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.reg.Register(r.Context(), email, service.RegistrationForm{
		Username: req.Username,
		FullName: req.FullName,
		Bio:      req.Bio,
		IRCName:  req.IRCName,
		Website:  req.Website,
		Country:  req.Country,
		Region:   req.Region,
		City:     req.City,
		Groups:   req.Groups,
		Optin:    req.Optin,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.set(w, auth.SessionCookie, res.Token, auth.SessionTTL)
	h.cookies.set(w, auth.RegistrationCookie, "", 0)
	writeJSON(w, http.StatusCreated, res.Profile)
}

// HandleLogout clears the session cookie.
//
// HTTP: POST /auth/logout
//
// Logout is POST because it changes state; a GET could be triggered by a
// cross-site image tag or a browser prefetch. The JWT stays valid until it
// expires, but without the cookie the browser can't send it.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.set(w, auth.SessionCookie, "", 0)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// homeResponse describes the current visitor.
type homeResponse struct {
	Authenticated   bool           `json:"authenticated"`
	Profile         *model.Profile `json:"profile,omitempty"`
	GitHubEnabled   bool           `json:"githubEnabled"`
	NeedsCompletion bool           `json:"needsCompletion,omitempty"`
}

// HandleHome returns the signed-in member, if any.
//
// HTTP: GET /
func (h *AuthHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	resp := homeResponse{GitHubEnabled: h.github != nil}

	if id := viewerID(r); id != "" {
		p, err := h.profiles.GetByID(r.Context(), id)
		switch {
		case err == nil && p.IsActive:
			resp.Authenticated = true
			resp.Profile = p
			resp.NeedsCompletion = !p.IsComplete()
		case err != nil && !errors.Is(err, apperror.ErrNotFound):
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
