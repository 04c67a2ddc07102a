// Package service contains the business logic of the directory.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces the vouch and visibility rules
//	Repository (data layer)  → reads/writes the database
//
// Services take repository interfaces, never *sqlite.DB, so the tests in
// this package run against in-memory fakes (see fakes_test.go).
//
// ERRORS:
// Services return apperror values (ValidationFailed, NotFound, Forbidden,
// InvalidOperation, ...). They never pick HTTP status codes; the handler
// layer translates.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

// Pagination constants shared by the listing operations.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page describes one page of a paginated listing.
type Page struct {
	Number   int `json:"page"`
	NumPages int `json:"numPages"`
	Limit    int `json:"limit"`
	Total    int `json:"total"`
}

// clampLimit falls back to the default for missing or out-of-range sizes.
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return DefaultPageSize
	}
	return limit
}

// paginate resolves a requested page number against a total.
// An invalid page becomes 1 and a page past the end becomes the last page.
func paginate(page, limit, total int) Page {
	limit = clampLimit(limit)
	numPages := (total + limit - 1) / limit
	if numPages == 0 {
		numPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > numPages {
		page = numPages
	}
	return Page{Number: page, NumPages: numPages, Limit: limit, Total: total}
}

func (p Page) offset() int {
	return (p.Number - 1) * p.Limit
}

// requireVouched loads the signed-in viewer and checks that they are a
// vouched member. Anonymous viewers get Unauthorized, unvouched ones
// Forbidden.
func requireVouched(ctx context.Context, profiles repository.ProfileRepository, viewerID string) (*model.Profile, error) {
	viewer, err := requireSignedIn(ctx, profiles, viewerID)
	if err != nil {
		return nil, err
	}
	if !viewer.IsVouched {
		return nil, apperror.Forbidden("only vouched members can do this")
	}
	return viewer, nil
}

// optionalViewer loads the signed-in viewer, or returns nil for anonymous
// visitors and sessions whose profile is gone or deactivated.
func optionalViewer(ctx context.Context, profiles repository.ProfileRepository, viewerID string) (*model.Profile, error) {
	viewer, err := requireSignedIn(ctx, profiles, viewerID)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			return nil, nil
		}
		return nil, err
	}
	return viewer, nil
}

func requireSignedIn(ctx context.Context, profiles repository.ProfileRepository, viewerID string) (*model.Profile, error) {
	if viewerID == "" {
		return nil, apperror.Unauthorized("sign in first")
	}
	viewer, err := profiles.GetProfileByID(ctx, viewerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			// A session for a profile that no longer exists.
			return nil, apperror.Unauthorized("sign in first")
		}
		return nil, fmt.Errorf("loading viewer: %w", err)
	}
	if !viewer.IsActive {
		return nil, apperror.Unauthorized("account is deactivated")
	}
	return viewer, nil
}

// normalizeEmail lower-cases and trims an address.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Notifier delivers member-facing notifications.
type Notifier interface {
	// Vouched tells vouchee that voucher vouched for them.
	Vouched(ctx context.Context, vouchee, voucher *model.Profile) error
}

// LogNotifier writes notifications to the log instead of sending mail.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Vouched(_ context.Context, vouchee, voucher *model.Profile) error {
	n.logger.Info("notification: you are now vouched",
		slog.String("to", vouchee.EmailAddress()),
		slog.String("vouchee", vouchee.Username),
		slog.String("voucher", voucher.Username),
	)
	return nil
}

// clock is swapped in tests.
type clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
