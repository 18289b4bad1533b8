package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubIdentity is who GitHub says the user is after a successful login.
type GitHubIdentity struct {
	ID    int64  `json:"id"`    // stable numeric ID; logins can be renamed
	Login string `json:"login"` // suggested username for new accounts
	Email string `json:"email"` // verified primary email, may be empty
}

// GitHubProvider runs the OAuth 2.0 authorization code flow against GitHub.
//
// FLOW:
//  1. AuthURL → browser is sent to GitHub with our client ID and a random state
//  2. GitHub redirects back to the callback with ?code=...&state=...
//  3. Exchange trades the code for an access token (server to server, using
//     the client secret) and reads /user, falling back to /user/emails when
//     the profile email is hidden
type GitHubProvider struct {
	config *oauth2.Config
	apiURL string
}

// GitHubOption overrides the endpoints a GitHubProvider talks to.
type GitHubOption func(*GitHubProvider)

// WithGitHubEndpoints points the provider at a different OAuth server and
// REST API base. Tests use it with an httptest.Server.
func WithGitHubEndpoints(endpoint oauth2.Endpoint, apiURL string) GitHubOption {
	return func(p *GitHubProvider) {
		p.config.Endpoint = endpoint
		p.apiURL = strings.TrimSuffix(apiURL, "/")
	}
}

// NewGitHubProvider configures the flow. callbackURL must match the
// "Authorization callback URL" registered for the OAuth app exactly.
func NewGitHubProvider(clientID, clientSecret, callbackURL string, opts ...GitHubOption) *GitHubProvider {
	p := &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiURL: defaultGitHubAPI,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AuthURL returns the GitHub consent page URL. state must be unguessable and
// checked on the callback; it ties the callback to the browser that started
// the flow.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the flow and returns the GitHub identity behind code.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*GitHubIdentity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	// Client adds "Authorization: Bearer <token>" to every request.
	client := p.config.Client(ctx, token)

	var identity GitHubIdentity
	if err := p.getJSON(ctx, client, "/user", &identity); err != nil {
		return nil, err
	}
	if identity.ID == 0 {
		return nil, errors.New("auth: GitHub returned a user without an id")
	}

	if identity.Email == "" {
		email, err := p.primaryEmail(ctx, client)
		if err != nil {
			return nil, err
		}
		identity.Email = email
	}

	return &identity, nil
}

// primaryEmail returns the verified primary address from /user/emails, or
// "" if there isn't one.
func (p *GitHubProvider) primaryEmail(ctx context.Context, client *http.Client) (string, error) {
	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}
