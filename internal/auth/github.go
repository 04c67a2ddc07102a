package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPI = "https://api.github.com"

// githubEmail is one entry of GitHub's GET /user/emails response.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider is the second identity provider: it turns a GitHub OAuth
// authorization code into the account's primary verified email.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. Redirect the user to GitHub with our ClientID and a random state.
//  2. GitHub redirects back to the callback URL with a short-lived code.
//  3. We exchange the code for an access token (server-to-server, using the
//     ClientSecret) and call the GitHub API with it.
//
// Only a verified address is accepted: the directory keys profiles by email,
// so an unverified one would let anyone claim someone else's profile.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
}

// NewGitHubProvider creates a GitHubProvider. callbackURL must match the
// "Authorization callback URL" configured for the OAuth app exactly.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBase: githubAPI,
	}
}

// AuthURL returns the GitHub authorization URL carrying state, which the
// callback compares with the oauth_state cookie (CSRF protection).
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the OAuth flow and returns the verified identity.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/user/emails", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building GitHub request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user/emails: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user/emails returned status %d", resp.StatusCode)
	}

	var emails []githubEmail
	if err := json.NewDecoder(resp.Body).Decode(&emails); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub emails: %w", err)
	}

	for _, e := range emails {
		if e.Primary && e.Verified {
			return &Identity{Email: strings.ToLower(e.Email), Provider: "github"}, nil
		}
	}
	return nil, fmt.Errorf("%w: GitHub account has no verified primary email", ErrAssertionRejected)
}
