// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Profile is a member of the directory.
//
// WHY Email *string?
// An anonymized (deleted) profile keeps its row so that vouch history still
// points somewhere, but it must give the email address back. NULL frees the
// UNIQUE slot; an empty string would collide with the next deleted profile.
//
// VOUCH STATE:
// IsVouched and DateVouched always move together: a vouched profile has a
// date, an unvouched one does not. VouchedBy is nil both for unvouched
// profiles and for profiles vouched automatically by their email domain.
type Profile struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       *string    `json:"email,omitempty"`
	FullName    string     `json:"fullName"`
	Bio         string     `json:"bio"`
	IRCName     string     `json:"ircname"`
	Website     string     `json:"website"`
	Country     string     `json:"country"` // ISO 3166-1 alpha-2, upper case
	Region      string     `json:"region"`
	City        string     `json:"city"`
	IsVouched   bool       `json:"isVouched"`
	DateVouched *time.Time `json:"dateVouched,omitempty"`
	VouchedBy   *string    `json:"vouchedBy,omitempty"` // voucher's profile ID
	IsActive    bool       `json:"-"`
	IsAdmin     bool       `json:"-"`
	Groups      []string   `json:"groups"` // group names, sorted
	Privacy     Privacy    `json:"privacy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// EmailAddress returns the email or "" for anonymized profiles.
func (p *Profile) EmailAddress() string {
	if p.Email == nil {
		return ""
	}
	return *p.Email
}

// IsComplete reports whether the member finished registration. Incomplete
// profiles have no public page and are kept out of the search index.
func (p *Profile) IsComplete() bool {
	return strings.TrimSpace(p.FullName) != ""
}

// StringPtr is a small helper for the nullable columns above.
func StringPtr(s string) *string {
	return &s
}
