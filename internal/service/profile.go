package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/country"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/policy"
	"github.com/sakif/phonebook/internal/repository"
	"github.com/sakif/phonebook/internal/username"
)

// Field limits enforced on edit and registration.
const (
	MaxFullNameLength = 255
	MaxBioLength      = 5000
	MaxIRCNameLength  = 63
	MaxWebsiteLength  = 200
	MaxPlaceLength    = 255
)

// ProfileService owns the profile lifecycle: save (with the vouch policy
// applied), view, edit, vouch and anonymize.
type ProfileService struct {
	profiles  repository.ProfileRepository
	blacklist repository.BlacklistRepository
	policy    *policy.Policy
	notifier  Notifier
	logger    *slog.Logger
	now       clock
}

func NewProfileService(
	profiles repository.ProfileRepository,
	blacklist repository.BlacklistRepository,
	pol *policy.Policy,
	notifier Notifier,
	logger *slog.Logger,
) *ProfileService {
	return &ProfileService{
		profiles:  profiles,
		blacklist: blacklist,
		policy:    pol,
		notifier:  notifier,
		logger:    logger,
		now:       systemClock,
	}
}

// Save persists p after applying the vouch policy. Every write of a profile
// goes through here (or saveWith) so auto-vouching and staff membership are
// never skipped.
func (s *ProfileService) Save(ctx context.Context, p *model.Profile) error {
	return s.saveWith(ctx, p, repository.SaveOptions{})
}

func (s *ProfileService) saveWith(ctx context.Context, p *model.Profile, opts repository.SaveOptions) error {
	st := s.policy.Derive(p, s.now())
	st.Apply(p)
	opts.SystemGroups = st.SystemGroups

	if err := s.profiles.SaveProfile(ctx, p, opts); err != nil {
		return err
	}
	return nil
}

// Get returns the active profile with the given username.
// Anonymized profiles do not exist as far as callers are concerned.
func (s *ProfileService) Get(ctx context.Context, name string) (*model.Profile, error) {
	p, err := s.profiles.GetProfileByUsername(ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, apperror.NotFound("profile", name)
	}
	return p, nil
}

func (s *ProfileService) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	return s.profiles.GetProfileByID(ctx, id)
}

func (s *ProfileService) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return s.profiles.GetProfileByEmail(ctx, normalizeEmail(email))
}

// ProfileView is a profile as seen by a particular viewer. Profile and
// Vouches are redacted to the viewer's privacy level.
type ProfileView struct {
	Profile  *model.Profile `json:"profile"`
	IsOwn    bool           `json:"isOwn"`
	CanVouch bool           `json:"canVouch"`
	// Voucher is the username of whoever vouched, empty for auto-vouched
	// and unvouched profiles and when the voucher is hidden.
	Voucher string          `json:"voucher,omitempty"`
	Vouches []model.Profile `json:"vouches"`
	// ViewedAs is set when owners preview their profile as someone else.
	ViewedAs string `json:"viewedAs,omitempty"`
}

// viewAsLevels are the audiences an owner can preview their profile as.
// "myself" is the unredacted profile.
var viewAsLevels = map[string]model.Level{
	"anonymous":  model.Public,
	"mozillian":  model.Mozillians,
	"employee":   model.Employees,
	"privileged": model.Privileged,
	"myself":     0,
}

// View applies the visibility rules:
//   - your own profile is always visible, complete or not, and unredacted;
//   - a profile with no public field needs a signed-in, vouched viewer;
//   - anyone else's profile must be complete and is redacted to the
//     viewer's privacy level.
func (s *ProfileService) View(ctx context.Context, viewerID, name string) (*ProfileView, error) {
	return s.Preview(ctx, viewerID, name, "")
}

// Preview is View with a view_as audience. Owners get their profile as the
// audience would see it; for anyone else viewAs is ignored. An empty viewAs
// means "myself".
func (s *ProfileService) Preview(ctx context.Context, viewerID, name, viewAs string) (*ProfileView, error) {
	level, ok := viewAsLevels[viewAs]
	if viewAs != "" && !ok {
		return nil, apperror.ValidationFailed("view_as", fmt.Sprintf("unknown audience %q", viewAs))
	}

	target, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if viewerID != "" && viewerID == target.ID {
		view, err := s.buildView(ctx, target, nil, level)
		if err != nil {
			return nil, err
		}
		view.IsOwn = true
		if viewAs != "myself" {
			view.ViewedAs = viewAs
		}
		return view, nil
	}

	viewer, err := optionalViewer(ctx, s.profiles, viewerID)
	if err != nil {
		return nil, err
	}
	if !target.IsPublic() {
		if viewer == nil {
			return nil, apperror.Unauthorized("sign in to see this profile")
		}
		if !viewer.IsVouched {
			return nil, apperror.Forbidden("only vouched members can see this profile")
		}
	}
	if !target.IsComplete() {
		return nil, apperror.NotFound("profile", name)
	}
	return s.buildView(ctx, target, viewer, policy.ViewerLevel(viewer))
}

// buildView redacts target to level. Level 0 shows everything.
func (s *ProfileService) buildView(ctx context.Context, target, viewer *model.Profile, level model.Level) (*ProfileView, error) {
	shown := target
	if level != 0 {
		shown = target.Redacted(level)
	}
	view := &ProfileView{Profile: shown}
	if viewer != nil {
		view.CanVouch = policy.Vouch(cloneProfile(target), viewer, s.now()) == nil
	}
	if shown.VouchedBy != nil {
		voucher, err := s.profiles.GetProfileByID(ctx, *shown.VouchedBy)
		switch {
		case err == nil:
			if voucher.IsActive {
				view.Voucher = voucher.Username
			}
		case !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("loading voucher: %w", err)
		}
	}

	vouches, err := s.ListVouches(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	view.Vouches = visibleProfiles(vouches, level)
	return view, nil
}

// visibleProfiles redacts a listing to level. Complete profiles only, and
// at the public level only those with something public to show.
func visibleProfiles(profiles []model.Profile, level model.Level) []model.Profile {
	out := []model.Profile{}
	for i := range profiles {
		p := &profiles[i]
		if !p.IsComplete() || (level == model.Public && !p.IsPublic()) {
			continue
		}
		if level != 0 {
			p = p.Redacted(level)
		}
		out = append(out, *p)
	}
	return out
}

// ProfileUpdate is the editable part of a profile.
//
// Username "" keeps the current one. Groups nil leaves memberships alone;
// a non-nil slice (even empty) replaces every non-system membership.
// Privacy nil keeps the current settings; members may only choose
// Mozillians or Public, and unset levels mean Mozillians.
type ProfileUpdate struct {
	Username string
	FullName string
	Bio      string
	IRCName  string
	Website  string
	Country  string
	Region   string
	City     string
	Groups   []string
	Privacy  *model.Privacy
}

// EditResult reports the saved profile and whether its URL changed.
type EditResult struct {
	Profile         *model.Profile
	UsernameChanged bool
}

// Edit validates upd and applies it to the profile with the given ID.
func (s *ProfileService) Edit(ctx context.Context, id string, upd ProfileUpdate) (*EditResult, error) {
	p, err := requireSignedIn(ctx, s.profiles, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if name := strings.TrimSpace(upd.Username); name != "" && name != p.Username {
		if err := s.checkUsername(ctx, name, p.Username); err != nil {
			return nil, err
		}
		p.Username = name
		changed = true
	}

	if err := applyDetails(p, upd); err != nil {
		return nil, err
	}
	if upd.Privacy != nil {
		if !upd.Privacy.Settable() {
			return nil, apperror.ValidationFailed("privacy", "privacy levels must be mozillians or public")
		}
		p.Privacy = upd.Privacy.WithDefaults()
	}

	opts := repository.SaveOptions{}
	if upd.Groups != nil {
		opts.Groups = upd.Groups
		opts.ReplaceGroups = true
	}
	if err := s.saveWith(ctx, p, opts); err != nil {
		return nil, err
	}

	s.logger.Info("profile edited",
		slog.String("id", p.ID),
		slog.String("username", p.Username),
		slog.Bool("username_changed", changed),
	)
	return &EditResult{Profile: p, UsernameChanged: changed}, nil
}

// checkUsername validates a new username against the blacklist snapshot and
// the existing profiles. current is the caller's own username ("" when
// registering); a case-only change of it is not a collision.
func (s *ProfileService) checkUsername(ctx context.Context, name, current string) error {
	v, err := s.validator(ctx)
	if err != nil {
		return err
	}
	if err := v.Check(name); err != nil {
		return apperror.ValidationFailed("username", usernameMessage(err))
	}
	if current != "" && strings.EqualFold(name, current) {
		return nil
	}
	taken, err := s.profiles.UsernameExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking username: %w", err)
	}
	if taken {
		return apperror.ValidationFailed("username", "this username is already taken")
	}
	return nil
}

// validator builds a Validator from the current blacklist.
func (s *ProfileService) validator(ctx context.Context) (*username.Validator, error) {
	entries, err := s.blacklist.ListBlacklist(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading username blacklist: %w", err)
	}
	v, err := username.NewValidator(entries)
	if err != nil {
		return nil, fmt.Errorf("building username validator: %w", err)
	}
	return v, nil
}

func usernameMessage(err error) string {
	switch {
	case errors.Is(err, username.ErrEmpty):
		return "username is required"
	case errors.Is(err, username.ErrTooLong):
		return fmt.Sprintf("username must be %d characters or less", username.MaxLength)
	case errors.Is(err, username.ErrInvalidCharacters):
		return "username may only contain letters, digits and . - _ + @"
	case errors.Is(err, username.ErrBlacklisted):
		return "this username is not allowed"
	default:
		return err.Error()
	}
}

// applyDetails validates and copies the free-form fields of upd onto p.
func applyDetails(p *model.Profile, upd ProfileUpdate) error {
	fullName := strings.TrimSpace(upd.FullName)
	if fullName == "" {
		return apperror.ValidationFailed("fullName", "full name is required")
	}
	checks := []struct {
		field, value string
		max          int
	}{
		{"fullName", fullName, MaxFullNameLength},
		{"bio", upd.Bio, MaxBioLength},
		{"ircname", upd.IRCName, MaxIRCNameLength},
		{"website", upd.Website, MaxWebsiteLength},
		{"region", upd.Region, MaxPlaceLength},
		{"city", upd.City, MaxPlaceLength},
	}
	for _, c := range checks {
		if len(c.value) > c.max {
			return apperror.ValidationFailed(c.field, fmt.Sprintf("%s must be %d characters or less", c.field, c.max))
		}
	}

	website := strings.TrimSpace(upd.Website)
	if website != "" {
		u, err := url.Parse(website)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperror.ValidationFailed("website", "website must be an http or https URL")
		}
	}

	code, err := country.Normalize(upd.Country)
	if err != nil {
		return apperror.ValidationFailed("country", fmt.Sprintf("unknown country code %q", upd.Country))
	}

	p.FullName = fullName
	p.Bio = strings.TrimSpace(upd.Bio)
	p.IRCName = strings.TrimSpace(upd.IRCName)
	p.Website = website
	p.Country = code
	p.Region = strings.TrimSpace(upd.Region)
	p.City = strings.TrimSpace(upd.City)
	return nil
}

// Vouch records that the signed-in voucher endorses the profile vouchee.
// Precondition failures (self-vouch, unvouched voucher, already vouched)
// are apperror.InvalidOperation and leave both profiles untouched.
func (s *ProfileService) Vouch(ctx context.Context, voucherID, voucheeID string) (*model.Profile, error) {
	voucher, err := requireSignedIn(ctx, s.profiles, voucherID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(voucheeID) == "" {
		return nil, apperror.ValidationFailed("vouchee", "vouchee is required")
	}
	vouchee, err := s.profiles.GetProfileByID(ctx, voucheeID)
	if err != nil {
		return nil, err
	}
	if !vouchee.IsActive {
		return nil, apperror.NotFound("profile", voucheeID)
	}

	if err := policy.Vouch(vouchee, voucher, s.now()); err != nil {
		return nil, apperror.InvalidOperation(err)
	}
	if err := s.Save(ctx, vouchee); err != nil {
		return nil, fmt.Errorf("saving vouch: %w", err)
	}

	s.logger.Info("profile vouched",
		slog.String("vouchee", vouchee.Username),
		slog.String("voucher", voucher.Username),
	)
	if err := s.notifier.Vouched(ctx, vouchee, voucher); err != nil {
		s.logger.Warn("vouch notification failed",
			slog.String("vouchee", vouchee.Username),
			slog.String("error", err.Error()),
		)
	}
	return vouchee, nil
}

// Anonymize deletes an account. The row stays so vouch history keeps
// pointing somewhere, but every personal field is cleared, the username is
// replaced with a random one, the email is released, memberships are
// dropped and the profile leaves the search index.
func (s *ProfileService) Anonymize(ctx context.Context, id string) error {
	p, err := requireSignedIn(ctx, s.profiles, id)
	if err != nil {
		return err
	}
	old := p.Username

	*p = model.Profile{
		ID:        p.ID,
		Username:  randomUsername(),
		CreatedAt: p.CreatedAt,
	}
	if err := s.saveWith(ctx, p, repository.SaveOptions{Groups: []string{}, ReplaceGroups: true}); err != nil {
		return fmt.Errorf("anonymizing profile: %w", err)
	}

	s.logger.Info("profile anonymized", slog.String("id", p.ID), slog.String("old_username", old))
	return nil
}

// randomUsername is 30 hex characters of a random UUID.
func randomUsername() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:username.MaxLength]
}

// ListVouches returns the profiles vouched for by the given profile.
func (s *ProfileService) ListVouches(ctx context.Context, id string) ([]model.Profile, error) {
	profiles, err := s.profiles.ListVouchedBy(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing vouches: %w", err)
	}
	return profiles, nil
}

// LocationListing is the result of InLocation.
type LocationListing struct {
	Country     string          `json:"country"`
	CountryName string          `json:"countryName"`
	Region      string          `json:"region,omitempty"`
	City        string          `json:"city,omitempty"`
	Profiles    []model.Profile `json:"profiles"`
}

// InLocation lists complete vouched profiles in a country, optionally
// narrowed to a region and city, redacted to the viewer's level. Only
// vouched viewers may browse.
func (s *ProfileService) InLocation(ctx context.Context, viewerID, countryCode, region, city string, limit, page int) (*LocationListing, error) {
	viewer, err := requireVouched(ctx, s.profiles, viewerID)
	if err != nil {
		return nil, err
	}
	code, err := country.Normalize(countryCode)
	if err != nil || code == "" {
		return nil, apperror.NotFound("country", countryCode)
	}

	limit = clampLimit(limit)
	if page < 1 {
		page = 1
	}
	loc := repository.Location{Country: code, Region: strings.TrimSpace(region), City: strings.TrimSpace(city)}
	profiles, err := s.profiles.ListByLocation(ctx, loc, repository.ListOptions{Limit: limit, Offset: (page - 1) * limit})
	if err != nil {
		return nil, fmt.Errorf("listing profiles by location: %w", err)
	}
	profiles = visibleProfiles(profiles, policy.ViewerLevel(viewer))
	return &LocationListing{
		Country:     code,
		CountryName: country.Name(code),
		Region:      loc.Region,
		City:        loc.City,
		Profiles:    profiles,
	}, nil
}

// cloneProfile copies p deeply enough for policy.Vouch to mutate it.
func cloneProfile(p *model.Profile) *model.Profile {
	c := *p
	if p.DateVouched != nil {
		t := *p.DateVouched
		c.DateVouched = &t
	}
	return &c
}
