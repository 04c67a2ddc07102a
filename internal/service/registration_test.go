package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/auth"
	"github.com/sakif/phonebook/internal/model"
)

// =========================================================================
// VERIFY IDENTITY TESTS
// =========================================================================

func TestVerifyIdentity_ExistingMemberGetsSession(t *testing.T) {
	h := newHarness(t)
	p := h.addProfile(t, "jane", "jane@example.com")

	res, err := h.reg.VerifyIdentity(context.Background(), &auth.Identity{Email: "Jane@Example.com", Provider: "browserid"})
	if err != nil {
		t.Fatalf("VerifyIdentity() error = %v", err)
	}
	if res.NeedsRegistration() || res.Profile == nil || res.Profile.ID != p.ID {
		t.Fatalf("VerifyIdentity() = %+v, want a session for %s", res, p.ID)
	}
	id, err := h.tokens.Validate(res.SessionToken)
	if err != nil || id != p.ID {
		t.Errorf("session token subject = %q, %v; want %s", id, err, p.ID)
	}
}

func TestVerifyIdentity_NewEmailGetsRegistrationToken(t *testing.T) {
	h := newHarness(t)

	res, err := h.reg.VerifyIdentity(context.Background(), &auth.Identity{Email: "new@example.com"})
	if err != nil {
		t.Fatalf("VerifyIdentity() error = %v", err)
	}
	if !res.NeedsRegistration() || res.SessionToken != "" {
		t.Fatalf("VerifyIdentity() = %+v, want a registration token only", res)
	}
	email, err := h.tokens.ValidateRegistration(res.RegistrationToken)
	if err != nil || email != "new@example.com" {
		t.Errorf("registration token email = %q, %v", email, err)
	}
	if len(h.store.profiles) != 0 {
		t.Error("verification must not create a profile")
	}
}

func TestVerifyIdentity_DeactivatedAccount(t *testing.T) {
	h := newHarness(t)
	p := h.addProfile(t, "off", "off@example.com")
	h.store.profiles[p.ID].IsActive = false

	_, err := h.reg.VerifyIdentity(context.Background(), &auth.Identity{Email: "off@example.com"})
	if !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("VerifyIdentity() error = %v, want ErrForbidden", err)
	}
}

// =========================================================================
// REGISTER TESTS
// =========================================================================

func TestRegister_GeneratesUsername(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProfile(t, "pending", "someone@example.com")

	res, err := h.reg.Register(ctx, "pending@example.com", RegistrationForm{FullName: "Pending Person", Optin: true})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.Profile.Username != "pending1" {
		t.Errorf("Username = %q, want pending1", res.Profile.Username)
	}
	if res.Token == "" {
		t.Error("Register() returned no session token")
	}
}

func TestRegister_TrustedDomainIsVouchedImmediately(t *testing.T) {
	h := newHarness(t)

	res, err := h.reg.Register(context.Background(), "new@mozilla.com", RegistrationForm{FullName: "New Staff", Optin: true})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	p := res.Profile
	if !p.IsVouched || p.DateVouched == nil || !hasGroup(p, model.StaffGroup) {
		t.Errorf("Register(@mozilla.com) = %+v, want vouched staff member", p)
	}
}

func TestRegister_WithUsernameAndGroups(t *testing.T) {
	h := newHarness(t)

	res, err := h.reg.Register(context.Background(), "fu@example.com", RegistrationForm{
		Username: "mr.fu+s_i-on@246",
		FullName: "Mr Fusion",
		Country:  "us",
		Groups:   []string{"Web Dev"},
		Optin:    true,
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	p := res.Profile
	if p.Username != "mr.fu+s_i-on@246" || p.Country != "US" {
		t.Errorf("Register() = %+v", p)
	}
	if len(p.Groups) != 1 || p.Groups[0] != "Web Dev" {
		t.Errorf("Groups = %v, want [Web Dev]", p.Groups)
	}
}

func TestRegister_Rejects(t *testing.T) {
	h := newHarness(t)
	h.addProfile(t, "existing", "existing@example.com")

	tests := []struct {
		name  string
		email string
		form  RegistrationForm
		want  error
		field string
	}{
		{"no opt-in", "a@example.com", RegistrationForm{FullName: "A"}, apperror.ErrValidation, "optin"},
		{"no full name", "a@example.com", RegistrationForm{Optin: true}, apperror.ErrValidation, "fullName"},
		{"bad username", "a@example.com", RegistrationForm{Username: "mr.we*rd", FullName: "A", Optin: true}, apperror.ErrValidation, "username"},
		{"blacklisted username", "a@example.com", RegistrationForm{Username: "staff", FullName: "A", Optin: true}, apperror.ErrValidation, "username"},
		{"duplicate username", "a@example.com", RegistrationForm{Username: "Existing", FullName: "A", Optin: true}, apperror.ErrValidation, "username"},
		{"duplicate email", "existing@example.com", RegistrationForm{FullName: "A", Optin: true}, apperror.ErrValidation, "email"},
		{"no email", "", RegistrationForm{FullName: "A", Optin: true}, apperror.ErrUnauthorized, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			before := len(h.store.profiles)

			_, err := h.reg.Register(context.Background(), tc.email, tc.form)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Register() error = %v, want %v", err, tc.want)
			}
			var appErr *apperror.AppError
			if errors.As(err, &appErr) && appErr.Field != tc.field {
				t.Errorf("Field = %q, want %q", appErr.Field, tc.field)
			}
			if len(h.store.profiles) != before {
				t.Error("a failed registration created a profile")
			}
		})
	}
}

func TestRegister_StorageUniqueViolationIsValidation(t *testing.T) {
	h := newHarness(t)
	h.store.saveErr = apperror.ValidationFailed("username", "username already exists")

	_, err := h.reg.Register(context.Background(), "race@example.com", RegistrationForm{FullName: "Race", Optin: true})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("Register() error = %v, want validation error", err)
	}
}
