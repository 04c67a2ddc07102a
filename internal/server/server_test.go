package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/config"
)

// fakeVerifier accepts any assertion and treats it as the email address.
func fakeVerifier(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		json.NewEncoder(w).Encode(map[string]string{
			"status":   "okay",
			"email":    r.PostForm.Get("assertion"),
			"audience": r.PostForm.Get("audience"),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Port:             8080,
		DBPath:           ":memory:",
		JWTSecret:        "test-secret-at-least-16-chars!!",
		SiteURL:          "http://localhost:8080",
		BrowserID:        config.BrowserIDConfig{VerifierURL: fakeVerifier(t).URL},
		AutoVouchDomains: []string{"mozilla.com"},
		CORS:             config.CORSConfig{AllowedOrigins: []string{"https://phonebook.example"}},
	}
	s, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// client carries cookies between requests like a browser would.
type client struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, s *Server) *client {
	return &client{t: t, h: s.Handler(), cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, path, body string) *httptest.ResponseRecorder {
	c.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// signUp verifies email and registers with the given full name.
func signUp(t *testing.T, s *Server, email, fullName string) (*client, map[string]any) {
	t.Helper()
	c := newClient(t, s)

	rec := c.do(http.MethodPost, "/browserid/verify", `{"assertion":"`+email+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "registration_required", decode(t, rec)["status"])
	require.Contains(t, c.cookies, auth.RegistrationCookie)

	rec = c.do(http.MethodPost, "/register", `{"fullName":"`+fullName+`","optin":true}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Contains(t, c.cookies, auth.SessionCookie)
	assert.NotContains(t, c.cookies, auth.RegistrationCookie)
	return c, decode(t, rec)
}

// =========================================================================
// END-TO-END FLOW
// =========================================================================

func TestDirectoryFlow(t *testing.T) {
	s := newTestServer(t)

	ann, annProfile := signUp(t, s, "ann@mozilla.com", "Ann Example")
	assert.Equal(t, "ann", annProfile["username"])
	assert.Equal(t, true, annProfile["isVouched"])
	assert.Contains(t, annProfile["groups"], "staff")

	bob, bobProfile := signUp(t, s, "bob@example.com", "Bob Builder")
	assert.Equal(t, "bob", bobProfile["username"])
	assert.Equal(t, false, bobProfile["isVouched"])

	// Unvouched members only search the public index, and Ann's profile
	// has no public field yet.
	rec := bob.do(http.MethodGet, "/search?q=ann", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode(t, rec)["profiles"])

	// Ann sees Bob's page and may vouch for him.
	rec = ann.do(http.MethodGet, "/u/bob", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["canVouch"])

	rec = ann.do(http.MethodPost, "/vouch", `{"vouchee":"`+bobProfile["id"].(string)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// A second vouch is an invalid operation.
	rec = ann.do(http.MethodPost, "/vouch", `{"vouchee":"`+bobProfile["id"].(string)+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Now vouched, Bob can search; a single hit redirects to the profile.
	rec = bob.do(http.MethodGet, "/search?q=ann", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/u/ann", rec.Header().Get("Location"))

	rec = bob.do(http.MethodGet, "/search", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["profiles"], 2)

	// Bare usernames redirect.
	rec = bob.do(http.MethodGet, "/ann", "")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/u/ann", rec.Header().Get("Location"))

	rec = bob.do(http.MethodGet, "/nobody-here", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Editing renames Bob.
	rec = bob.do(http.MethodPut, "/user/edit", `{"username":"builder","fullName":"Bob Builder","country":"gr"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "/u/builder", decode(t, rec)["redirect"])

	rec = ann.do(http.MethodGet, "/country/GR", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["profiles"], 1)

	// Signing in again with a known email starts a session directly.
	again := newClient(t, s)
	rec = again.do(http.MethodPost, "/browserid/verify", `{"assertion":"bob@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "signed_in", body["status"])
	assert.Equal(t, "/u/builder", body["redirect"])
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)
	ann, _ := signUp(t, s, "ann@mozilla.com", "Ann Example")
	anon := newClient(t, s)

	tests := []struct {
		name   string
		c      *client
		method string
		path   string
		body   string
		status int
	}{
		{"anonymous profile", anon, http.MethodGet, "/u/ann", "", http.StatusUnauthorized},
		{"anonymous search", anon, http.MethodGet, "/search?q=ann", "", http.StatusOK},
		{"anonymous edit", anon, http.MethodGet, "/user/edit", "", http.StatusUnauthorized},
		{"anonymous reindex", anon, http.MethodPost, "/admin/users/index_profiles", "", http.StatusUnauthorized},
		{"register without verification", anon, http.MethodPost, "/register", `{"fullName":"X","optin":true}`, http.StatusUnauthorized},
		{"non-admin reindex", ann, http.MethodPost, "/admin/users/index_profiles", "", http.StatusForbidden},
		{"own edit form", ann, http.MethodGet, "/user/edit", "", http.StatusOK},
		{"unknown profile", ann, http.MethodGet, "/u/nobody", "", http.StatusNotFound},
		{"unknown json field", ann, http.MethodPut, "/user/edit", `{"fullNmae":"typo"}`, http.StatusBadRequest},
		{"health", anon, http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.c.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestPublicProfile(t *testing.T) {
	s := newTestServer(t)
	ann, _ := signUp(t, s, "ann@mozilla.com", "Ann Example")
	anon := newClient(t, s)

	rec := ann.do(http.MethodPut, "/user/edit", `{"username":"ann","fullName":"Ann Example","bio":"Firefox hacker","privacy":{"fullName":"public"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The public name makes the page visible to everyone, without the
	// fields kept for Mozillians.
	rec = anon.do(http.MethodGet, "/u/ann", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := decode(t, rec)["profile"].(map[string]any)
	assert.Equal(t, "Ann Example", profile["fullName"])
	assert.Equal(t, "", profile["bio"])
	assert.NotContains(t, profile, "email")

	// Anonymous search finds Ann by her public name only.
	rec = anon.do(http.MethodGet, "/search?q=example", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/u/ann", rec.Header().Get("Location"))

	rec = anon.do(http.MethodGet, "/search?q=firefox", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["profiles"])

	// Ann can check what the public sees.
	rec = ann.do(http.MethodGet, "/u/ann?view_as=anonymous", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "anonymous", body["viewedAs"])
	assert.Equal(t, "", body["profile"].(map[string]any)["bio"])
}

func TestGitHubRoutesDisabledWithoutCredentials(t *testing.T) {
	s := newTestServer(t)
	rec := newClient(t, s).do(http.MethodGet, "/auth/github/login", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = newClient(t, s).do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["githubEnabled"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/search", nil)
	req.Header.Set("Origin", "https://phonebook.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, "https://phonebook.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestAPIApps(t *testing.T) {
	s := newTestServer(t)
	ann, _ := signUp(t, s, "ann@mozilla.com", "Ann Example")
	signUp(t, s, "bob@example.com", "Bob Builder")

	rec := ann.do(http.MethodPost, "/apps", `{"name":"reps portal"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	key := decode(t, rec)["key"].(string)
	require.NotEmpty(t, key)

	anon := newClient(t, s)
	check := func(email, k string) *httptest.ResponseRecorder {
		return anon.do(http.MethodGet, "/api/v1/users?app_name=reps+portal&app_key="+k+"&email="+email, "")
	}

	rec = check("ann@mozilla.com", key)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decode(t, rec)["isVouched"])

	rec = check("bob@example.com", key)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["isVouched"])

	rec = check("ann@mozilla.com", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
