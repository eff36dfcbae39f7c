package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// DefaultGitHubAPIURL is the public GitHub REST endpoint.
const DefaultGitHubAPIURL = "https://api.github.com"

// githubUser is the portion of the GitHub /user response we read.
//
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Email string `json:"email"` // empty if hidden in GitHub settings
}

// GitHubVerifier accepts a GitHub OAuth access token as a bearer credential.
// The token is checked by calling GET /user with it; whatever account
// GitHub reports is the identity.
type GitHubVerifier struct {
	apiURL string
	client *http.Client
}

var _ Verifier = (*GitHubVerifier)(nil)

// NewGitHubVerifier creates a verifier against apiURL (DefaultGitHubAPIURL
// when empty). client may be nil; tests pass the httptest server's client.
func NewGitHubVerifier(apiURL string, client *http.Client) *GitHubVerifier {
	if apiURL == "" {
		apiURL = DefaultGitHubAPIURL
	}
	return &GitHubVerifier{apiURL: strings.TrimRight(apiURL, "/"), client: client}
}

func (v *GitHubVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	// oauth2.NewClient picks up a custom base client from the context and
	// adds "Authorization: Bearer <token>" to every request it makes.
	if v.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, src)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.apiURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building GitHub request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: calling GitHub /user API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: GitHub rejected the token (status %d)", ErrInvalidToken, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: GitHub /user API returned status %d", resp.StatusCode)
	}

	var gh githubUser
	if err := json.NewDecoder(resp.Body).Decode(&gh); err != nil {
		return nil, fmt.Errorf("auth: decoding GitHub /user response: %w", err)
	}
	if gh.ID == 0 {
		return nil, fmt.Errorf("%w: GitHub returned an invalid user (ID = 0)", ErrInvalidToken)
	}

	id := &Identity{
		Subject:  "github:" + strconv.FormatInt(gh.ID, 10),
		Email:    gh.Email,
		Username: gh.Login,
	}
	id.normalize()
	return id, nil
}
