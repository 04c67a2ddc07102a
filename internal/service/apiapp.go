package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

const MaxAppNameLength = 100

// APIAppService registers third-party apps and answers their membership
// queries.
type APIAppService struct {
	apps     repository.APIAppRepository
	profiles repository.ProfileRepository
	keys     *auth.KeyService
	logger   *slog.Logger
}

func NewAPIAppService(apps repository.APIAppRepository, profiles repository.ProfileRepository, keys *auth.KeyService, logger *slog.Logger) *APIAppService {
	return &APIAppService{apps: apps, profiles: profiles, keys: keys, logger: logger}
}

// Create registers an app owned by a vouched member and returns it with
// its plaintext key. The key cannot be recovered later.
func (s *APIAppService) Create(ctx context.Context, ownerID, name string) (*model.APIApp, string, error) {
	owner, err := requireVouched(ctx, s.profiles, ownerID)
	if err != nil {
		return nil, "", err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", apperror.ValidationFailed("name", "app name is required")
	}
	if len(name) > MaxAppNameLength {
		return nil, "", apperror.ValidationFailed("name",
			fmt.Sprintf("app name must be %d characters or less", MaxAppNameLength))
	}

	key, hash, err := s.keys.Generate()
	if err != nil {
		return nil, "", err
	}
	app := &model.APIApp{Name: name, OwnerID: owner.ID, KeyHash: hash, IsActive: true}
	if err := s.apps.CreateAPIApp(ctx, app); err != nil {
		return nil, "", err
	}

	s.logger.Info("api app created", slog.String("name", name), slog.String("owner", owner.Username))
	return app, key, nil
}

// MembershipStatus answers "is this email a vouched member?".
type MembershipStatus struct {
	Email     string `json:"email"`
	IsVouched bool   `json:"isVouched"`
}

// CheckVouched authenticates the app and reports whether email belongs to
// an active vouched member. Unknown emails are simply not vouched.
func (s *APIAppService) CheckVouched(ctx context.Context, appName, key, email string) (*MembershipStatus, error) {
	app, err := s.apps.GetAPIAppByName(ctx, strings.TrimSpace(appName))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("invalid app name or key")
		}
		return nil, fmt.Errorf("loading api app: %w", err)
	}
	if !app.IsActive {
		return nil, apperror.Unauthorized("invalid app name or key")
	}
	if err := s.keys.Verify(app.KeyHash, key); err != nil {
		if errors.Is(err, auth.ErrInvalidKey) {
			return nil, apperror.Unauthorized("invalid app name or key")
		}
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "email is required")
	}
	status := &MembershipStatus{Email: email}

	p, err := s.profiles.GetProfileByEmail(ctx, email)
	switch {
	case err == nil:
		status.IsVouched = p.IsActive && p.IsVouched
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("looking up profile: %w", err)
	}
	return status, nil
}
