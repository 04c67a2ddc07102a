package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBrowserIDVerifierURL is the remote verification service.
const DefaultBrowserIDVerifierURL = "https://verifier.login.persona.org/verify"

// BrowserIDVerifier checks BrowserID (Persona) assertions with a remote
// verifier.
//
// REMOTE VERIFICATION:
// The browser hands us an opaque assertion. We POST it, together with our
// audience (the site origin the assertion was issued for), to the verifier.
// It answers {"status":"okay","email":"..."} or {"status":"failure",
// "reason":"..."}. We never parse the assertion ourselves.
type BrowserIDVerifier struct {
	verifierURL string
	audience    string
	client      *http.Client
}

func NewBrowserIDVerifier(verifierURL, audience string) *BrowserIDVerifier {
	if verifierURL == "" {
		verifierURL = DefaultBrowserIDVerifierURL
	}
	return &BrowserIDVerifier{
		verifierURL: verifierURL,
		audience:    audience,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type browserIDResponse struct {
	Status   string `json:"status"`
	Email    string `json:"email"`
	Audience string `json:"audience"`
	Reason   string `json:"reason"`
}

// Verify returns the verified email for a valid assertion.
func (v *BrowserIDVerifier) Verify(ctx context.Context, assertion string) (*Identity, error) {
	if strings.TrimSpace(assertion) == "" {
		return nil, fmt.Errorf("%w: empty assertion", ErrAssertionRejected)
	}

	form := url.Values{"assertion": {assertion}, "audience": {v.audience}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifierURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("auth: building verifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling BrowserID verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: BrowserID verifier returned status %d", resp.StatusCode)
	}

	var body browserIDResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("auth: decoding verifier response: %w", err)
	}

	if body.Status != "okay" {
		return nil, fmt.Errorf("%w: %s", ErrAssertionRejected, body.Reason)
	}
	if body.Audience != v.audience {
		return nil, fmt.Errorf("%w: audience %q, want %q", ErrAssertionRejected, body.Audience, v.audience)
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: verifier returned no email", ErrAssertionRejected)
	}

	return &Identity{Email: email, Provider: "browserid"}, nil
}
