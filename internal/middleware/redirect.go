package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/model"
)

// ProfileLookup finds a listed profile by username. It returns an error
// wrapping apperror.ErrNotFound when there is none.
type ProfileLookup interface {
	Get(ctx context.Context, username string) (*model.Profile, error)
}

// UsernameRedirect sends GET /{username} to the profile page with a 301
// when the single path segment names an existing profile. Everything else,
// including unknown names, falls through to next.
//
// Mount it as the router's NotFound handler so real routes always win:
//
//	r.NotFound(middleware.UsernameRedirect(profiles, logger)(notFound).ServeHTTP)
func UsernameRedirect(profiles ProfileLookup, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, ok := singleSegment(r.URL.Path)
			if !ok || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
				next.ServeHTTP(w, r)
				return
			}

			p, err := profiles.Get(r.Context(), name)
			if err != nil {
				if !errors.Is(err, apperror.ErrNotFound) {
					logger.Error("username redirect lookup failed",
						slog.String("username", name),
						slog.String("error", err.Error()),
					)
				}
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, "/u/"+url.PathEscape(p.Username), http.StatusMovedPermanently)
		})
	}
}

// singleSegment returns "name" for "/name" and "/name/".
func singleSegment(path string) (string, bool) {
	name := strings.TrimSuffix(strings.TrimPrefix(path, "/"), "/")
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
