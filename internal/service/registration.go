package service

// RegistrationService is the sign-in and sign-up flow:
//
//	AuthHandler (HTTP) → RegistrationService → ProfileService → ProfileRepository
//	                   ↘ TokenService (JWT)
//
// KEY RESPONSIBILITIES:
//   - Turn a verified identity into either a session (existing member) or a
//     registration token (new member). No row is written until the member
//     submits the registration form.
//   - Validate the registration form and create the profile through
//     ProfileService.Save, so auto-vouching applies from the first save.

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
	"github.com/sakif/phonebook/internal/username"
)

type RegistrationService struct {
	profiles repository.ProfileRepository
	svc      *ProfileService
	tokens   *auth.TokenService
	logger   *slog.Logger
}

func NewRegistrationService(
	profiles repository.ProfileRepository,
	svc *ProfileService,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *RegistrationService {
	return &RegistrationService{
		profiles: profiles,
		svc:      svc,
		tokens:   tokens,
		logger:   logger,
	}
}

// VerifyResult is the outcome of a successful identity verification.
// Exactly one of SessionToken and RegistrationToken is set.
type VerifyResult struct {
	Email             string
	Profile           *model.Profile // nil for new members
	SessionToken      string
	RegistrationToken string
}

// NeedsRegistration reports whether the member must complete POST /register.
func (r *VerifyResult) NeedsRegistration() bool {
	return r.RegistrationToken != ""
}

// VerifyIdentity signs in the owner of id.Email, or starts a registration
// when no active profile has that email.
func (s *RegistrationService) VerifyIdentity(ctx context.Context, id *auth.Identity) (*VerifyResult, error) {
	email := normalizeEmail(id.Email)
	if email == "" {
		return nil, apperror.Unauthorized("identity provider returned no email")
	}

	p, err := s.profiles.GetProfileByEmail(ctx, email)
	switch {
	case err == nil && p.IsActive:
		token, err := s.tokens.Generate(p.ID)
		if err != nil {
			return nil, fmt.Errorf("generating session token: %w", err)
		}
		s.logger.Info("member signed in",
			slog.String("username", p.Username),
			slog.String("provider", id.Provider),
		)
		return &VerifyResult{Email: email, Profile: p, SessionToken: token}, nil

	case err == nil:
		return nil, apperror.Forbidden("this account has been deactivated")

	case errors.Is(err, apperror.ErrNotFound):
		token, err := s.tokens.GenerateRegistration(email)
		if err != nil {
			return nil, fmt.Errorf("generating registration token: %w", err)
		}
		s.logger.Info("registration started",
			slog.String("email", email),
			slog.String("provider", id.Provider),
		)
		return &VerifyResult{Email: email, RegistrationToken: token}, nil

	default:
		return nil, fmt.Errorf("looking up profile by email: %w", err)
	}
}

// RegistrationForm is what a new member submits.
type RegistrationForm struct {
	Username string
	FullName string
	Bio      string
	IRCName  string
	Website  string
	Country  string
	Region   string
	City     string
	Groups   []string
	// Optin is the privacy policy acceptance; registration fails without it.
	Optin bool
}

// AuthResult bundles the new profile with its session token so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	Profile *model.Profile
	Token   string
}

// Register creates the profile for a verified email.
//
// A missing username is generated from the email. A duplicate email or
// username is a validation error, never a server error.
func (s *RegistrationService) Register(ctx context.Context, email string, form RegistrationForm) (*AuthResult, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, apperror.Unauthorized("verify your identity first")
	}
	if !form.Optin {
		return nil, apperror.ValidationFailed("optin", "you must accept the privacy policy")
	}

	if _, err := s.profiles.GetProfileByEmail(ctx, email); err == nil {
		return nil, apperror.ValidationFailed("email", "a profile with this email already exists")
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("checking email: %w", err)
	}

	p := &model.Profile{Email: model.StringPtr(email), IsActive: true}
	if err := applyDetails(p, ProfileUpdate{
		FullName: form.FullName,
		Bio:      form.Bio,
		IRCName:  form.IRCName,
		Website:  form.Website,
		Country:  form.Country,
		Region:   form.Region,
		City:     form.City,
	}); err != nil {
		return nil, err
	}

	name, err := s.chooseUsername(ctx, email, form.Username)
	if err != nil {
		return nil, err
	}
	p.Username = name

	opts := repository.SaveOptions{}
	if len(form.Groups) > 0 {
		opts.Groups = form.Groups
		opts.ReplaceGroups = true
	}
	if err := s.svc.saveWith(ctx, p, opts); err != nil {
		return nil, err
	}

	token, err := s.tokens.Generate(p.ID)
	if err != nil {
		return nil, fmt.Errorf("generating session token: %w", err)
	}

	s.logger.Info("member registered",
		slog.String("id", p.ID),
		slog.String("username", p.Username),
		slog.Bool("vouched", p.IsVouched),
	)
	return &AuthResult{Profile: p, Token: token}, nil
}

// chooseUsername validates the requested username, or generates one from
// the email when none was given.
func (s *RegistrationService) chooseUsername(ctx context.Context, email, requested string) (string, error) {
	if requested = strings.TrimSpace(requested); requested != "" {
		if err := s.svc.checkUsername(ctx, requested, ""); err != nil {
			return "", err
		}
		return requested, nil
	}

	v, err := s.svc.validator(ctx)
	if err != nil {
		return "", err
	}
	name, err := username.NewGenerator(s.profiles, v).Calculate(ctx, email)
	if err != nil {
		if errors.Is(err, username.ErrExhausted) {
			return "", apperror.ValidationFailed("username", "could not pick a username for you, please choose one")
		}
		return "", fmt.Errorf("generating username: %w", err)
	}
	return name, nil
}
