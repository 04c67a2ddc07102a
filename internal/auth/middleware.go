package auth

import (
	"context"
	"net/http"
)

const (
	// SessionCookie holds the session JWT.
	SessionCookie = "token"
	// RegistrationCookie holds the registration JWT between identity
	// verification and POST /register.
	RegistrationCookie = "registration"
)

// contextKey is an unexported type used for context keys in this package,
// so no other package can read or shadow the values stored here.
type contextKey string

const profileIDKey contextKey = "profileID"

// RequireAuth rejects requests without a valid session cookie with 401 and
// stores the profile ID in the request context otherwise.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profileID, err := extractProfileID(r, tokens)
			if err != nil {
				http.Error(w, `{"error":"unauthorized","message":"valid authentication required"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithProfileID(r.Context(), profileID)))
		})
	}
}

// OptionalAuth stores the profile ID when a valid session cookie is present
// and lets anonymous requests through unchanged.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if profileID, err := extractProfileID(r, tokens); err == nil {
				r = r.WithContext(WithProfileID(r.Context(), profileID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithProfileID returns a copy of ctx carrying the signed-in profile ID.
func WithProfileID(ctx context.Context, profileID string) context.Context {
	return context.WithValue(ctx, profileIDKey, profileID)
}

// ProfileIDFromContext returns ("", false) for anonymous requests.
func ProfileIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(profileIDKey).(string)
	return id, ok && id != ""
}

func extractProfileID(r *http.Request, tokens *TokenService) (string, error) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", err
	}
	return tokens.Validate(cookie.Value)
}
