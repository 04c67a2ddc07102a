// Package policy owns the vouching rules.
//
// THE TWO RULES:
//   - Auto-vouch: a profile whose email belongs to a trusted domain is always
//     vouched. Nobody vouched for it, so VouchedBy stays nil.
//   - Staff group: the same trusted-domain check decides membership of the
//     protected "staff" system group.
//
// Both are expressed as one pure function, Derive, which the profile service
// applies before every save. Because the result is recomputed on every save,
// an email change moves a profile in or out of staff, and a manual edit of
// the staff membership never sticks.
//
// Peer vouching is the third rule and lives in Vouch. ViewerLevel maps a
// viewer onto the privacy level used to redact the profiles they look at.
package policy

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/sakif/phonebook/internal/model"
)

// DefaultTrustedDomains is used when configuration does not override it.
var DefaultTrustedDomains = []string{"mozilla.com", "mozilla.org", "mozillafoundation.org"}

var (
	ErrAlreadyVouched    = errors.New("this profile is already vouched")
	ErrVoucherNotVouched = errors.New("only vouched members can vouch for others")
	ErrSelfVouch         = errors.New("a profile cannot vouch for itself")
)

// Policy holds the trusted domain list. The zero value trusts nothing.
type Policy struct {
	suffixes []string
}

// New builds a Policy. Domains are compared case-insensitively; surrounding
// whitespace and a leading "@" are ignored.
func New(domains []string) *Policy {
	p := &Policy{}
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
		if d == "" {
			continue
		}
		p.suffixes = append(p.suffixes, "@"+d)
	}
	return p
}

// IsTrusted reports whether the email ends with "@<domain>" for one of the
// trusted domains. Subdomains do not count: "x@eu.mozilla.com" is untrusted.
func (p *Policy) IsTrusted(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, s := range p.suffixes {
		if strings.HasSuffix(email, s) {
			return true
		}
	}
	return false
}

// State is the policy-derived part of a profile.
type State struct {
	IsVouched    bool
	DateVouched  *time.Time
	VouchedBy    *string
	SystemGroups map[string]bool // system group name -> should be a member
}

// Derive computes the vouch state and system memberships a profile must have
// when it is saved. It does not modify p.
//
// A vouched profile keeps its voucher and date. A trusted profile that was
// not yet vouched becomes vouched at now. An unvouched profile never carries
// a date or a voucher. Vouching is never undone here: a member who leaves a
// trusted domain stays vouched but drops out of staff.
func (p *Policy) Derive(profile *model.Profile, now time.Time) State {
	trusted := profile.Email != nil && p.IsTrusted(*profile.Email)

	st := State{
		IsVouched:   profile.IsVouched || trusted,
		DateVouched: profile.DateVouched,
		VouchedBy:   profile.VouchedBy,
		SystemGroups: map[string]bool{
			model.StaffGroup: trusted,
		},
	}

	if st.IsVouched && st.DateVouched == nil {
		t := now
		st.DateVouched = &t
	}
	if !st.IsVouched {
		st.DateVouched = nil
		st.VouchedBy = nil
	}
	return st
}

// Apply copies the vouch fields of st onto profile.
func (st State) Apply(profile *model.Profile) {
	profile.IsVouched = st.IsVouched
	profile.DateVouched = st.DateVouched
	profile.VouchedBy = st.VouchedBy
}

// Vouch records that voucher endorses target. The preconditions are checked
// before anything is written, so on error neither profile has changed.
func Vouch(target, voucher *model.Profile, now time.Time) error {
	switch {
	case target.ID == voucher.ID:
		return ErrSelfVouch
	case !voucher.IsVouched:
		return ErrVoucherNotVouched
	case target.IsVouched:
		return ErrAlreadyVouched
	}

	t := now
	id := voucher.ID
	target.IsVouched = true
	target.DateVouched = &t
	target.VouchedBy = &id
	return nil
}

// ViewerLevel returns the privacy level of a viewer. Staff see employee
// fields, other vouched members see Mozillian fields, and everyone else,
// including anonymous visitors (nil), sees public fields only.
func ViewerLevel(viewer *model.Profile) model.Level {
	switch {
	case viewer == nil || !viewer.IsActive:
		return model.Public
	case slices.Contains(viewer.Groups, model.StaffGroup):
		return model.Employees
	case viewer.IsVouched:
		return model.Mozillians
	default:
		return model.Public
	}
}
