// Package username holds the two rules that decide what a member may be
// called: the Validator (blacklist + character set) and the Generator that
// derives a free username from an email address.
//
// Both are plain values built from explicit inputs. Neither reads global
// state, so they are tested without a database.
package username

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/sakif/phonebook/internal/model"
)

// MaxLength is the longest username the directory stores.
const MaxLength = 30

var (
	ErrEmpty             = errors.New("username is required")
	ErrTooLong           = fmt.Errorf("username must be at most %d characters", MaxLength)
	ErrInvalidCharacters = errors.New("username may only contain letters, digits and . _ + @ -")
	ErrBlacklisted       = errors.New("this username is not allowed")
)

// allowed matches a whole username made only of permitted characters.
// Spelled out instead of \w so non-ASCII letters are rejected.
var allowed = regexp.MustCompile(`^[A-Za-z0-9._+@-]+$`)

// disallowed matches any single character outside the permitted set.
var disallowed = regexp.MustCompile(`[^A-Za-z0-9._+@-]`)

// Validator checks candidate usernames against a blacklist snapshot.
type Validator struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewValidator compiles the blacklist. Plain entries are compared with the
// lower-cased candidate; regex entries are anchored at the start, so "admin.*"
// blocks "admin" and "administrator" but not "sysadmin".
func NewValidator(entries []model.BlacklistEntry) (*Validator, error) {
	v := &Validator{exact: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if !e.IsRegex {
			v.exact[strings.ToLower(e.Value)] = struct{}{}
			continue
		}
		re, err := regexp.Compile(`^(?:` + e.Value + `)`)
		if err != nil {
			return nil, fmt.Errorf("username: compiling blacklist pattern %q: %w", e.Value, err)
		}
		v.patterns = append(v.patterns, re)
	}
	return v, nil
}

// Check returns nil when the candidate is acceptable, otherwise one of the
// Err* values above.
func (v *Validator) Check(candidate string) error {
	switch {
	case candidate == "":
		return ErrEmpty
	case len(candidate) > MaxLength:
		return ErrTooLong
	case !allowed.MatchString(candidate):
		return ErrInvalidCharacters
	case v.Blacklisted(candidate):
		return ErrBlacklisted
	}
	return nil
}

// Valid is Check without the reason.
func (v *Validator) Valid(candidate string) bool {
	return v.Check(candidate) == nil
}

// Blacklisted reports whether the candidate matches any blacklist entry,
// ignoring case.
func (v *Validator) Blacklisted(candidate string) bool {
	lower := strings.ToLower(candidate)
	if _, ok := v.exact[lower]; ok {
		return true
	}
	for _, re := range v.patterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// Sanitize drops every character outside the permitted set.
func Sanitize(s string) string {
	return disallowed.ReplaceAllString(s, "")
}
