package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/model"
)

// =========================================================================
// LOGGER TESTS
// =========================================================================

func TestLogger_RecordsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	h := chimiddleware.RequestID(Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello"))
	})))

	req := httptest.NewRequest(http.MethodPost, "/register", nil)
	req = req.WithContext(auth.WithProfileID(req.Context(), "p1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "method=POST")
	assert.Contains(t, out, "path=/register")
	assert.Contains(t, out, "status=201")
	assert.Contains(t, out, "bytes=5")
	assert.Contains(t, out, "request_id=")
	assert.Contains(t, out, "profile_id=p1")
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		status int
		level  string
	}{
		{http.StatusOK, "level=INFO"},
		{http.StatusNotFound, "level=WARN"},
		{http.StatusInternalServerError, "level=ERROR"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Contains(t, buf.String(), tt.level)
			assert.NotContains(t, buf.String(), "profile_id=")
		})
	}
}

// =========================================================================
// USERNAME REDIRECT TESTS
// =========================================================================

type fakeLookup map[string]*model.Profile

func (f fakeLookup) Get(_ context.Context, name string) (*model.Profile, error) {
	if name == "broken" {
		return nil, errors.New("database is locked")
	}
	p, ok := f[name]
	if !ok {
		return nil, apperror.NotFound("profile", name)
	}
	return p, nil
}

func TestUsernameRedirect(t *testing.T) {
	lookup := fakeLookup{"nikos": {ID: "p1", Username: "Nikos"}}
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	})
	h := UsernameRedirect(lookup, slog.New(slog.DiscardHandler))(notFound)

	tests := []struct {
		name     string
		method   string
		path     string
		status   int
		location string
	}{
		{"existing profile", http.MethodGet, "/nikos", http.StatusMovedPermanently, "/u/Nikos"},
		{"trailing slash", http.MethodGet, "/nikos/", http.StatusMovedPermanently, "/u/Nikos"},
		{"unknown name", http.MethodGet, "/nobody", http.StatusNotFound, ""},
		{"lookup failure", http.MethodGet, "/broken", http.StatusNotFound, ""},
		{"nested path", http.MethodGet, "/nikos/extra", http.StatusNotFound, ""},
		{"root", http.MethodGet, "/", http.StatusNotFound, ""},
		{"post", http.MethodPost, "/nikos", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
		})
	}
}
