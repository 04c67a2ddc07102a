package auth

import (
	"context"
	"errors"
)

// ErrAssertionRejected means the identity provider did not vouch for the
// assertion. Handlers map it to 403.
var ErrAssertionRejected = errors.New("auth: identity assertion rejected")

// Identity is what a Verifier learned about the user: a verified email.
type Identity struct {
	Email    string
	Provider string
}

// Verifier checks an identity assertion with its provider.
type Verifier interface {
	Verify(ctx context.Context, assertion string) (*Identity, error)
}
