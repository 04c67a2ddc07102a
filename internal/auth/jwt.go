// Package auth handles identity for the directory.
//
// AUTHENTICATION FLOW OVERVIEW:
//  1. The browser obtains an identity assertion (BrowserID) or completes the
//     GitHub OAuth dance. A Verifier turns that into a verified email.
//  2. If a profile with that email exists, the server issues a session JWT
//     in the "token" cookie.
//  3. Otherwise it issues a short-lived registration JWT in the
//     "registration" cookie. It carries the verified email, so POST /register
//     can create the profile without trusting an email typed by the client.
//
// Both tokens are HS256 JWTs signed with the same secret. The "purpose"
// claim keeps one from being accepted in place of the other.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "phonebook"

	purposeSession      = "session"
	purposeRegistration = "registration"

	// SessionTTL is how long a session cookie stays valid.
	SessionTTL = 24 * time.Hour

	// RegistrationTTL bounds the time between verifying an identity and
	// submitting the registration form.
	RegistrationTTL = 30 * time.Minute
)

var (
	ErrTokenExpired = errors.New("auth: token expired")
	ErrWrongPurpose = errors.New("auth: token issued for another purpose")
)

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
// Example: PHONEBOOK_JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret)}, nil
}

// claims is the JWT payload. Subject holds the profile ID for sessions and
// the verified email for registration tokens.
type claims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Generate signs a session token for the given profile.
func (s *TokenService) Generate(profileID string) (string, error) {
	return s.sign(purposeSession, profileID, SessionTTL)
}

// GenerateWithDuration signs a session token with a custom lifetime.
// Tests use it to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(profileID string, d time.Duration) (string, error) {
	return s.sign(purposeSession, profileID, d)
}

// GenerateRegistration signs a registration token for a verified email.
func (s *TokenService) GenerateRegistration(email string) (string, error) {
	return s.sign(purposeRegistration, email, RegistrationTTL)
}

// Validate checks a session token and returns the profile ID it carries.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	return s.parse(tokenStr, purposeSession)
}

// ValidateRegistration checks a registration token and returns the email.
func (s *TokenService) ValidateRegistration(tokenStr string) (string, error) {
	return s.parse(tokenStr, purposeRegistration)
}

func (s *TokenService) sign(purpose, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// parse verifies signature, expiry, issuer and algorithm, then the purpose.
//
// ALGORITHM CONFUSION ATTACK:
// Without pinning the algorithm, a token signed with "none" might be
// accepted. jwt.WithValidMethods rejects anything but HS256.
func (s *TokenService) parse(tokenStr, purpose string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}
	if c.Purpose != purpose {
		return "", ErrWrongPurpose
	}
	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}
	return c.Subject, nil
}
