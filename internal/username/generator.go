package username

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MaxSuffix bounds the collision search in Calculate.
const MaxSuffix = 1000

// fallbackBase is used when nothing usable survives sanitizing the email.
const fallbackBase = "user"

// ErrExhausted is returned when every candidate up to MaxSuffix is taken.
var ErrExhausted = errors.New("username: no free username found")

// Lookup answers whether a username is already stored.
// The sqlite repository implements it.
type Lookup interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// Generator derives usernames for members who did not pick one.
type Generator struct {
	lookup    Lookup
	validator *Validator
	maxSuffix int
}

func NewGenerator(lookup Lookup, validator *Validator) *Generator {
	return &Generator{lookup: lookup, validator: validator, maxSuffix: MaxSuffix}
}

// Calculate turns an email into a free username.
//
// The local part of the address is stripped down to the permitted
// characters. If that name is free it is returned as is; otherwise the
// generator tries base1, base2, ... in order and returns the first free
// one. Blacklisted candidates count as taken. Given the same set of stored
// usernames the result is always the same.
func (g *Generator) Calculate(ctx context.Context, email string) (string, error) {
	base := Sanitize(localPart(email))
	if base == "" {
		base = fallbackBase
	}
	if len(base) > MaxLength {
		base = base[:MaxLength]
	}

	ok, err := g.free(ctx, base)
	if err != nil {
		return "", err
	}
	if ok {
		return base, nil
	}

	for i := 1; i <= g.maxSuffix; i++ {
		suffix := strconv.Itoa(i)
		stem := base
		if len(stem)+len(suffix) > MaxLength {
			stem = stem[:MaxLength-len(suffix)]
		}
		candidate := stem + suffix

		ok, err := g.free(ctx, candidate)
		if err != nil {
			return "", err
		}
		if ok {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w for %q after %d attempts", ErrExhausted, base, g.maxSuffix)
}

func (g *Generator) free(ctx context.Context, candidate string) (bool, error) {
	if g.validator != nil && g.validator.Blacklisted(candidate) {
		return false, nil
	}
	exists, err := g.lookup.UsernameExists(ctx, candidate)
	if err != nil {
		return false, fmt.Errorf("username: checking %q: %w", candidate, err)
	}
	return !exists, nil
}

func localPart(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
